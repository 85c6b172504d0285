package run

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/switchyard-net/switchyard/cmd/run/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch <run-id>",
	Short:   "Monitor a run until it finishes",
	Example: "switchyard run watch 1f0c8a9e-5d0b-4a53-9c44-6f1f8b3e2a10",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		if err := c.Ping(cmd.Context()); err != nil {
			return err
		}

		p := tea.NewProgram(watch.New(c.Runs(), id), tea.WithContext(cmd.Context()), tea.WithOutput(cmd.OutOrStdout()))
		final, err := p.Run()
		if err != nil {
			return err
		}

		m, ok := final.(watch.Model)
		if !ok || m.Run() == nil || !m.Run().Status.Terminal() {
			return nil
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", id, m.Run().Status)
		return err
	},
}
