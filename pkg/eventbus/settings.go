package eventbus

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "redis"

// Settings holds the Redis Streams transport configuration. When Enabled is false the bus
// runs in-process.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled" yaml:"enabled"`
	Addr     string `glazed:"redis-addr" yaml:"addr"`
	Group    string `glazed:"redis-group" yaml:"group"`
	Consumer string `glazed:"redis-consumer" yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "voicerelay",
		Consumer: "relay-1",
	}
}

// NewSection returns the glazed section for the Redis settings.
func NewSection() (schema.Section, error) {
	d := DefaultSettings()
	return schema.NewSection(
		SectionSlug,
		"Redis configuration for the transcription event bus and relay log",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Use Redis Streams for transcription events")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault(d.Addr), fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(d.Group), fields.WithHelp("Redis consumer group prefix")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(d.Consumer), fields.WithHelp("Redis consumer name")),
		),
	)
}
