package job

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:     "validate <inventory.csv>",
	Short:   "Validate an inventory CSV without importing it",
	Example: "switchyard job validate rack-12.csv",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := load(args[0])
		if err != nil {
			return err
		}

		if validateJSON {
			buf, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			if err := writeCmdOut(cmd, "%s\n", buf); err != nil {
				return err
			}
		} else {
			for _, d := range res.Accepted {
				if err := writeCmdOut(cmd, "ok    %s %s/%s via %s (%s)\n", d.Hostname, d.MgmtIP, d.Mask, d.Gateway, d.Vendor); err != nil {
					return err
				}
			}
			for _, issue := range res.Errors {
				if err := writeCmdOut(cmd, "error %s\n", issue.String()); err != nil {
					return err
				}
			}
			if err := writeCmdOut(cmd, "%d accepted, %d error(s)\n", len(res.Accepted), len(res.Errors)); err != nil {
				return err
			}
		}

		if len(res.Errors) > 0 {
			return fmt.Errorf("inventory has %d error(s)", len(res.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the result as JSON")
}
