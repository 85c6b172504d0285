package cmd

import (
	"github.com/spf13/cobra"
	"github.com/switchyard-net/switchyard/cmd/job"
	"github.com/switchyard-net/switchyard/cmd/run"
	"github.com/switchyard-net/switchyard/cmd/start"
)

var cmds = []*cobra.Command{
	start.Cmd,
	job.Cmd,
	run.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "switchyard",
		Short:         "Bulk console rollout for freshly racked switches",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
