// Package config holds the voicerelay server settings and the glazed chain that fills them
// from flags, environment and an optional YAML file.
package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"

	"github.com/go-go-golems/voicerelay/pkg/session"
)

const SectionSlug = "voicerelay"

// Relay log drivers.
const (
	RelayLogNone   = "none"
	RelayLogMemory = "memory"
	RelayLogSQLite = "sqlite"
	RelayLogRedis  = "redis"
)

// Deployment variables, read below flags and above the config file.
const (
	EnvPackageName = "PACKAGE_NAME"
	EnvAPIKey      = "MENTRAOS_API_KEY"
	EnvPort        = "PORT"
	EnvChatBaseURL = "CHAT_BASE_URL"
)

type Settings struct {
	PackageName    string `glazed:"package-name"`
	APIKey         string `glazed:"api-key"`
	Port           int    `glazed:"port"`
	ChatBaseURL    string `glazed:"chat-base-url"`
	RelayTimeoutMs int    `glazed:"relay-timeout-ms"`
	SOCKSProxy     string `glazed:"socks-proxy"`
	RelayPolicy    string `glazed:"relay-policy"`
	MaxQueue       int    `glazed:"max-queue"`
	RequireText    bool   `glazed:"require-text"`
	FallbackText   string `glazed:"fallback-text"`
	RelayLog       string `glazed:"relay-log"`
	RelayLogDSN    string `glazed:"relay-log-dsn"`
	ConfigFile     string `glazed:"config"`
}

func Defaults() Settings {
	return Settings{
		PackageName:    "com.example.voiceactivation",
		Port:           3000,
		ChatBaseURL:    "http://localhost:8000",
		RelayTimeoutMs: 30000,
		RelayPolicy:    string(session.PolicyConcurrent),
		MaxQueue:       8,
		FallbackText:   "Sorry, something went wrong. Please try again.",
		RelayLog:       RelayLogMemory,
		RelayLogDSN:    "voicerelay.db",
	}
}

// NewSection returns the glazed section carrying the server flags.
func NewSection() (schema.Section, error) {
	d := Defaults()
	return schema.NewSection(
		SectionSlug,
		"Voice relay server settings",
		schema.WithFields(
			fields.New("package-name", fields.TypeString, fields.WithDefault(d.PackageName), fields.WithHelp("Package name devices must present (env "+EnvPackageName+")")),
			fields.New("api-key", fields.TypeString, fields.WithDefault(""), fields.WithHelp("API key devices must present (env "+EnvAPIKey+")")),
			fields.New("port", fields.TypeInteger, fields.WithDefault(d.Port), fields.WithHelp("HTTP listen port (env "+EnvPort+")")),
			fields.New("chat-base-url", fields.TypeString, fields.WithDefault(d.ChatBaseURL), fields.WithHelp("Base URL of the chat service (env "+EnvChatBaseURL+")")),
			fields.New("relay-timeout-ms", fields.TypeInteger, fields.WithDefault(d.RelayTimeoutMs), fields.WithHelp("Timeout of one chat request in milliseconds")),
			fields.New("socks-proxy", fields.TypeString, fields.WithDefault(""), fields.WithHelp("SOCKS5 proxy address for chat requests")),
			fields.New("relay-policy", fields.TypeChoice, fields.WithChoices(string(session.PolicyConcurrent), string(session.PolicySerialized)), fields.WithDefault(d.RelayPolicy), fields.WithHelp("How utterances spoken while a reply is pending are handled")),
			fields.New("max-queue", fields.TypeInteger, fields.WithDefault(d.MaxQueue), fields.WithHelp("Queue bound for the serialized policy")),
			fields.New("require-text", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Skip final transcriptions with no text")),
			fields.New("fallback-text", fields.TypeString, fields.WithDefault(d.FallbackText), fields.WithHelp("Text shown when the chat service fails")),
			fields.New("relay-log", fields.TypeChoice, fields.WithChoices(RelayLogNone, RelayLogMemory, RelayLogSQLite, RelayLogRedis), fields.WithDefault(d.RelayLog), fields.WithHelp("Where relay exchanges are recorded")),
			fields.New("relay-log-dsn", fields.TypeString, fields.WithDefault(d.RelayLogDSN), fields.WithHelp("SQLite file for the sqlite relay log")),
			fields.New("config", fields.TypeString, fields.WithDefault(""), fields.WithHelp("YAML file with settings")),
		),
	)
}

// Validate checks the settings needed to serve.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.APIKey) == "" {
		return errors.Errorf("api key is required (set --api-key or %s)", EnvAPIKey)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.Errorf("invalid port %d", s.Port)
	}
	if strings.TrimSpace(s.ChatBaseURL) == "" {
		return errors.New("chat base url is required")
	}
	if s.RelayTimeoutMs <= 0 {
		return errors.Errorf("invalid relay timeout %dms", s.RelayTimeoutMs)
	}
	if _, err := session.ParsePolicy(s.RelayPolicy); err != nil {
		return err
	}
	switch s.RelayLog {
	case RelayLogNone, RelayLogMemory, RelayLogSQLite, RelayLogRedis:
	default:
		return errors.Errorf("unknown relay log %q", s.RelayLog)
	}
	return nil
}

func (s Settings) RelayTimeout() time.Duration {
	return time.Duration(s.RelayTimeoutMs) * time.Millisecond
}

// SessionOptions maps the settings onto session options; Relay and Recorder are left to the
// caller.
func (s Settings) SessionOptions() (session.Options, error) {
	policy, err := session.ParsePolicy(s.RelayPolicy)
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Policy:       policy,
		MaxQueue:     s.MaxQueue,
		FallbackText: s.FallbackText,
	}
	opts.Filter.RequireText = s.RequireText
	return opts, nil
}
