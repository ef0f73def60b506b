package cmds

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/voicerelay/pkg/config"
	"github.com/go-go-golems/voicerelay/pkg/relay"
	"github.com/go-go-golems/voicerelay/pkg/transcript"
)

// SendCommand performs one relay call, the same one a session makes for a final utterance.
type SendCommand struct {
	*cmds.CommandDescription
}

type SendSettings struct {
	ChatBaseURL    string `glazed:"chat-base-url"`
	UserID         string `glazed:"user-id"`
	Message        string `glazed:"message"`
	RelayTimeoutMs int    `glazed:"relay-timeout-ms"`
	SOCKSProxy     string `glazed:"socks-proxy"`
	Raw            bool   `glazed:"raw"`
}

func NewSendCommand() (*SendCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	d := config.Defaults()

	desc := cmds.NewCommandDescription(
		"send",
		cmds.WithShort("Send one message to the chat service"),
		cmds.WithLong("Send a message to the chat service as if it had been spoken, and print the validated reply."),
		cmds.WithFlags(
			fields.New("chat-base-url", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Base URL of the chat service (default $"+config.EnvChatBaseURL+" or "+d.ChatBaseURL+")")),
			fields.New("user-id", fields.TypeString, fields.WithDefault("cli"), fields.WithHelp("User id sent with the message")),
			fields.New("message", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Message to send")),
			fields.New("relay-timeout-ms", fields.TypeInteger, fields.WithDefault(d.RelayTimeoutMs), fields.WithHelp("Request timeout in milliseconds")),
			fields.New("socks-proxy", fields.TypeString, fields.WithDefault(""), fields.WithHelp("SOCKS5 proxy address")),
			fields.New("raw", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Send the message as typed instead of normalizing it")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &SendCommand{CommandDescription: desc}, nil
}

func (c *SendCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &SendSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}

	baseURL := strings.TrimSpace(s.ChatBaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv(config.EnvChatBaseURL))
	}
	if baseURL == "" {
		baseURL = config.Defaults().ChatBaseURL
	}
	opts := []relay.Option{relay.WithTimeout(time.Duration(s.RelayTimeoutMs) * time.Millisecond)}
	if s.SOCKSProxy != "" {
		opts = append(opts, relay.WithSOCKSProxy(s.SOCKSProxy))
	}
	client, err := relay.NewClient(baseURL, opts...)
	if err != nil {
		return err
	}

	message := s.Message
	if !s.Raw {
		message = transcript.Normalize(message)
	}
	started := time.Now()
	reply, err := client.Send(ctx, s.UserID, message)
	if err != nil {
		return errors.Wrap(err, "send")
	}

	row := types.NewRow(
		types.MRP("user_id", s.UserID),
		types.MRP("message", message),
		types.MRP("should_respond", reply.ShouldRespond),
		types.MRP("response_text", reply.ResponseText),
		types.MRP("elapsed_ms", time.Since(started).Milliseconds()),
	)
	return gp.AddRow(ctx, row)
}

var _ cmds.GlazeCommand = &SendCommand{}
