package main

import (
	"github.com/switchyard-net/switchyard/cmd"
	"github.com/switchyard-net/switchyard/pkg/env"
	"github.com/switchyard-net/switchyard/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("switchyard failure", "error", err)
	}
}
