package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:     "report <run-id>",
	Short:   "Download the audit report of a finished run",
	Example: "switchyard run report --format csv -o rollout.csv 1f0c8a9e-5d0b-4a53-9c44-6f1f8b3e2a10",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}

		switch reportFormat {
		case "json", "csv":
		default:
			return fmt.Errorf("--format must be json or csv, got %q", reportFormat)
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		body, err := c.Runs().Report(cmd.Context(), id, reportFormat)
		if err != nil {
			return err
		}

		if reportOutput == "" || reportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(body)
			return err
		}

		if err := os.WriteFile(reportOutput, body, 0o644); err != nil {
			return err
		}
		cmd.PrintErrf("wrote %s\n", reportOutput)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "json", "Report format: json or csv")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to a file instead of stdout")
}
