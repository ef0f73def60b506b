package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/go-go-golems/voicerelay/pkg/config"
	"github.com/go-go-golems/voicerelay/pkg/eventbus"
	"github.com/go-go-golems/voicerelay/pkg/persistence/relaylog"
)

// ExchangesCommand lists recorded relay exchanges.
type ExchangesCommand struct {
	*cmds.CommandDescription
}

type ExchangesSettings struct {
	RelayLog    string `glazed:"relay-log"`
	RelayLogDSN string `glazed:"relay-log-dsn"`
	SessionID   string `glazed:"session-id"`
	Limit       int    `glazed:"limit"`
}

func NewExchangesCommand() (*ExchangesCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := eventbus.NewSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"exchanges",
		cmds.WithShort("List recorded relay exchanges"),
		cmds.WithLong("List relay exchanges recorded by a server running with the sqlite or redis relay log, newest first."),
		cmds.WithFlags(
			fields.New("relay-log", fields.TypeChoice, fields.WithChoices(config.RelayLogSQLite, config.RelayLogRedis), fields.WithDefault(config.RelayLogSQLite), fields.WithHelp("Relay log to read")),
			fields.New("relay-log-dsn", fields.TypeString, fields.WithDefault(config.Defaults().RelayLogDSN), fields.WithHelp("SQLite relay log file")),
			fields.New("session-id", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Only this session (required for redis)")),
			fields.New("limit", fields.TypeInteger, fields.WithDefault(50), fields.WithHelp("Maximum rows (0 = no limit)")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection, redisSection),
	)
	return &ExchangesCommand{CommandDescription: desc}, nil
}

func (c *ExchangesCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &ExchangesSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	redisSettings := eventbus.Settings{}
	if err := parsedLayers.DecodeSectionInto(eventbus.SectionSlug, &redisSettings); err != nil {
		return err
	}

	store, err := openStore(s, redisSettings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	exchanges, err := store.List(ctx, s.SessionID, s.Limit)
	if err != nil {
		return errors.Wrap(err, "list exchanges")
	}
	for _, ex := range exchanges {
		row := types.NewRow(
			types.MRP("id", ex.ID),
			types.MRP("session_id", ex.SessionID),
			types.MRP("user_id", ex.UserID),
			types.MRP("status", string(ex.Status)),
			types.MRP("message", ex.Message),
			types.MRP("should_respond", ex.ShouldRespond),
			types.MRP("response_text", ex.ResponseText),
			types.MRP("error", ex.Error),
			types.MRP("started_at", ex.StartedAt.Format(time.RFC3339)),
			types.MRP("elapsed_ms", ex.CompletedAt.Sub(ex.StartedAt).Milliseconds()),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func openStore(s *ExchangesSettings, redisSettings eventbus.Settings) (relaylog.Store, error) {
	switch s.RelayLog {
	case config.RelayLogRedis:
		if s.SessionID == "" {
			return nil, errors.New("--session-id is required with the redis relay log")
		}
		client := redis.NewClient(&redis.Options{Addr: redisSettings.Addr})
		st, err := relaylog.NewRedisStore(client, 0, 0)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return st, nil
	default:
		dsn, err := relaylog.SQLiteDSNForFile(s.RelayLogDSN)
		if err != nil {
			return nil, err
		}
		st, err := relaylog.NewSQLiteStore(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite relay log")
		}
		return st, nil
	}
}

var _ cmds.GlazeCommand = &ExchangesCommand{}
