package job

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/switchyard-net/switchyard/internal/render"
)

var previewCommands bool

var previewCmd = &cobra.Command{
	Use:     "preview <inventory.csv>",
	Short:   "Render the configuration of every valid row",
	Example: "switchyard job preview --commands rack-12.csv",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := load(args[0])
		if err != nil {
			return err
		}

		for _, issue := range res.Errors {
			cmd.PrintErrf("skipping %s\n", issue.String())
		}

		for _, d := range res.Accepted {
			p, err := render.Render(d)
			if err != nil {
				return err
			}

			if err := writeCmdOut(cmd, "%-20s %-8s %s\n", p.Hostname, p.Vendor, p.ShortHash); err != nil {
				return err
			}

			if !previewCommands {
				continue
			}
			for _, b := range p.Blocks {
				if err := writeCmdOut(cmd, "  ! Block: %s\n", b.Name); err != nil {
					return err
				}
				if err := writeCmdOut(cmd, "  %s\n", strings.Join(b.Commands, "\n  ")); err != nil {
					return err
				}
			}
		}

		return nil
	},
}

func init() {
	previewCmd.Flags().BoolVar(&previewCommands, "commands", false, "Print the rendered command blocks")
}
