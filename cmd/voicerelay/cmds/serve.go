package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/voicerelay/pkg/config"
	"github.com/go-go-golems/voicerelay/pkg/eventbus"
	"github.com/go-go-golems/voicerelay/pkg/server"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ServeCommand{}

func NewServeCommand() (*ServeCommand, error) {
	relaySection, err := config.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build voicerelay section")
	}
	redisSection, err := eventbus.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}

	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Accept device sessions and relay their transcriptions"),
		cmds.WithLong(`Start the websocket endpoint devices connect to. Every final transcription is
sent to the chat service and the reply is shown on the device display.

Settings come from flags, then PACKAGE_NAME, MENTRAOS_API_KEY, PORT and CHAT_BASE_URL,
then VOICERELAY_* variables, then the YAML file named by --config or VOICERELAY_CONFIG.`),
		cmds.WithSections(relaySection, redisSection),
	)
	return &ServeCommand{CommandDescription: desc}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsedLayers *values.Values) error {
	cfg := config.Settings{}
	if err := parsedLayers.DecodeSectionInto(config.SectionSlug, &cfg); err != nil {
		return errors.Wrap(err, "decode voicerelay settings")
	}
	redisSettings := eventbus.Settings{}
	if err := parsedLayers.DecodeSectionInto(eventbus.SectionSlug, &redisSettings); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}

	srv, err := server.NewFromSettings(ctx, cfg, redisSettings)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
