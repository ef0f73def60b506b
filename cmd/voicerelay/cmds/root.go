package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/voicerelay/pkg/config"
)

// AddToRootCommand registers serve, send and exchanges on root.
func AddToRootCommand(root *cobra.Command) error {
	serveCmd, err := NewServeCommand()
	if err != nil {
		return err
	}
	sendCmd, err := NewSendCommand()
	if err != nil {
		return err
	}
	exchangesCmd, err := NewExchangesCommand()
	if err != nil {
		return err
	}

	cobraServe, err := cli.BuildCobraCommand(serveCmd,
		cli.WithCobraMiddlewaresFunc(config.Middlewares(nil)),
	)
	if err != nil {
		return err
	}
	cobraSend, err := cli.BuildCobraCommand(sendCmd)
	if err != nil {
		return err
	}
	cobraExchanges, err := cli.BuildCobraCommand(exchangesCmd)
	if err != nil {
		return err
	}
	root.AddCommand(cobraServe, cobraSend, cobraExchanges)
	return nil
}
