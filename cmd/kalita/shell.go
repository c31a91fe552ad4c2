package main

import (
	"github.com/artpar/kalita/core/channel/tty"
	"github.com/spf13/cobra"
)

var shellNoStats bool

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell for records",
	Long: `Start an interactive shell against the configured store.

Example session:
  kalita> entities
  kalita> create shop.customer name="Ada Lovelace" level=gold
  kalita> list shop.customer level=gold sort=-name
  kalita> expand shop.customer 3f2a... 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeFn, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		cmd.SilenceUsage = true
		sh := tty.New(rt, cmd.InOrStdin(), cmd.OutOrStdout())
		sh.SetShowStats(!shellNoStats)
		return sh.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)

	shellCmd.Flags().BoolVar(&shellNoStats, "no-stats", false, "hide timing and memory after each command")
	shellCmd.Flags().BoolVar(&recordsVerbose, "log", false, "write application logs to stderr")
}
