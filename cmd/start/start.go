package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/switchyard-net/switchyard/api"
	"github.com/switchyard-net/switchyard/internal/console"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/metrics"
	"github.com/switchyard-net/switchyard/internal/policy"
	"github.com/switchyard-net/switchyard/internal/scheduler"
	"github.com/switchyard-net/switchyard/pkg/db"
	"github.com/switchyard-net/switchyard/pkg/env"
	"github.com/switchyard-net/switchyard/pkg/log"
)

const (
	usage   = "start"
	short   = "Start a switchyard orchestration instance"
	long    = "This command migrates the database, recovers interrupted runs and serves the switchyard API"
	example = "switchyard start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "serve", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	vars := env.Variables()

	log.Info("migrating database")
	if err := db.Migrate(); err != nil {
		log.Fatal("database migration failure", "error", err)
	}

	pol, err := policy.Load(vars.PolicyFile)
	if err != nil {
		log.Fatal("policy configuration failure", "path", vars.PolicyFile, "error", err)
	}

	dialer, err := console.FromEnv(vars)
	if err != nil {
		log.Fatal("console transport configuration failure", "transport", vars.Transport, "error", err)
	}

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.New()
	sched := scheduler.New(ctx, db.Connection(), bus, dialer, scheduler.ConfigFromEnv(vars))

	recovered, err := sched.Recover(ctx)
	if err != nil {
		log.Fatal("run recovery failure", "error", err)
	}
	if recovered > 0 {
		log.Info("recovered interrupted runs", "count", recovered)
	}

	server := api.New(api.Options{
		DB:        db.Connection(),
		Bus:       bus,
		Scheduler: sched,
		Policy:    pol,
		Env:       vars,
	})

	errs := make(chan error, 1)

	go func() {
		log.Info("spinning up api", "port", vars.Port, "transport", vars.Transport)
		errs <- server.Start()
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	for {
		select {
		case err := <-errs:
			cancel()
			sched.Wait()
			return err
		case s := <-signalChan:
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			default:
				log.Info("gracefully shutting down", "signal", s.String())
				return shutdown(server, sched, cancel, vars)
			}
		}
	}
}

// shutdown stops accepting requests, then cancels in-flight runs. Runs
// cut short here stay running in the database and are finalised by
// Recover on the next start.
func shutdown(server *api.Server, sched *scheduler.Scheduler, cancel context.CancelFunc, vars env.Environment) error {
	ctx, done := context.WithTimeout(context.Background(), vars.ShutdownTimeout)
	defer done()

	err := server.Shutdown(ctx)
	if err != nil {
		log.Error("api shutdown failure", "error", err)
	}

	cancel()
	sched.Wait()

	return err
}
