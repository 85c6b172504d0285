package job

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/switchyard-net/switchyard/internal/inventory"
)

// Cmd is the parent command for offline inventory work.
var Cmd = &cobra.Command{
	Use:   "job",
	Short: "Check device inventories before importing them",
}

func init() {
	Cmd.AddCommand(validateCmd, previewCmd)
}

// load parses and validates an inventory file against an empty job.
func load(path string) (*inventory.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open inventory")
	}
	defer f.Close()

	rows, err := inventory.ParseCSV(f)
	if err != nil {
		return nil, err
	}

	return inventory.NewValidator(uuid.New(), nil).Validate(rows), nil
}
