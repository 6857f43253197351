package start

import (
	"signoff/cmd/signoff/start/responder"
	"signoff/cmd/signoff/start/router"

	"github.com/spf13/cobra"
)

func init() {
	Command.AddCommand(responder.Command)
	Command.AddCommand(router.Command)
}

var Command = &cobra.Command{
	Use:     "start",
	Aliases: []string{"st"},
	Short:   "Starts one of Signoff's core services",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}
