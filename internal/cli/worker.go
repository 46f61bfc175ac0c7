package cli

import (
	"github.com/spf13/cobra"

	"rflow/internal/dispatch"
	"rflow/internal/flags"
	"rflow/internal/relay"
	"rflow/internal/worker"
)

var workerRelayDir string

// workerCmd is what the dispatcher re-executes. stdout carries the message
// channel, so nothing else may print to it.
var workerCmd = &cobra.Command{
	Use:    dispatch.WorkerCommand + " <dirname>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := worker.Main(cmd.Context(), worker.Options{
			Dirname:     args[0],
			RelayDir:    workerRelayDir,
			InlineLimit: relay.DefaultInlineLimit,
		})
		if code != 0 {
			return &exitError{code: code}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerRelayDir, flags.FlagRelayDir, "", "Side-channel directory shared with the dispatcher")
}
