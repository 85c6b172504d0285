package run

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/switchyard-net/switchyard/pkg/client"
	"github.com/switchyard-net/switchyard/pkg/env"
)

// Cmd is the parent command for run operations.
var Cmd = &cobra.Command{
	Use:   "run",
	Short: "Follow and export rollout runs",
}

func init() {
	Cmd.AddCommand(watchCmd, reportCmd)
}

// newClient is swapped in tests.
var newClient = func() (*client.Client, error) {
	cfg, err := client.LoadConfig(env.Variables())
	if err != nil {
		return nil, err
	}
	return client.New(cfg), nil
}

func parseRunID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "invalid run id %q", raw)
	}
	return id, nil
}
