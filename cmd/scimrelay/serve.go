package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/log/level"
	"github.com/scimrelay/scimrelay/server/config"
	"github.com/scimrelay/scimrelay/server/datastore/mysql"
	"github.com/scimrelay/scimrelay/server/pubsub"
	"github.com/scimrelay/scimrelay/server/scim"
	"github.com/scimrelay/scimrelay/server/service/schedule"
	"github.com/scimrelay/scimrelay/server/token"
	"github.com/scimrelay/scimrelay/server/worker"
	"github.com/spf13/cobra"
)

func createServeCmd(configManager config.Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scimrelay provisioning server",
		Long: `
Run the scimrelay provisioning server: the event intake that fans local
events out into per-destination deliveries, and the scheduled poller that
claims due deliveries and performs the outbound SCIM calls.
`,
		Run: func(cmd *cobra.Command, args []string) {
			conf := configManager.LoadConfig()
			logger := initLogger(conf.Logging)

			if !conf.Scim.Enabled {
				level.Info(logger).Log("msg", "scim provisioning is disabled, nothing to do")
				return
			}
			if conf.Auth.IssuerURL == "" || conf.Auth.SigningKeyPath == "" {
				initFatal(errors.New("auth.issuer_url and auth.signing_key_path must be set"), "loading auth config")
			}

			signingKey, err := token.LoadSigningKey(conf.Auth.SigningKeyPath)
			if err != nil {
				initFatal(err, "loading signing key")
			}

			ds, err := mysql.New(conf.Mysql, clock.C, mysql.Logger(logger))
			if err != nil {
				initFatal(err, "initializing datastore")
			}
			defer ds.Close()

			// Migrations are keyed and idempotent, so running them at startup
			// is safe alongside an explicit `prepare db`.
			if err := ds.MigrateTables(cmd.Context()); err != nil {
				initFatal(err, "migrating db schema")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			authority := token.NewStaticAuthority(conf.Auth.IssuerURL, conf.Auth.KeyID, signingKey)
			minter := token.NewMinter(authority, conf.Scim.TokenLifetime, clock.C)
			client := scim.NewClient(conf.Scim.HTTPTimeout)
			deliveryWorker := worker.NewWorker(ds, minter, client, clock.C,
				kitlog.With(logger, "component", "worker"))

			bus := pubsub.NewInmemEventBus(0)
			intake := worker.NewIntake(ds, bus, kitlog.With(logger, "component", "intake"))
			go func() {
				if err := intake.Run(ctx); err != nil {
					level.Error(logger).Log("msg", "event intake exited", "err", err)
				}
			}()

			sched := schedule.New(ds, deliveryWorker, schedule.Options{
				PollInterval: conf.Scim.PollInterval,
				BatchSize:    conf.Scim.BatchSize,
				Workers:      conf.Scim.Workers,
				DrainTimeout: conf.Scim.DrainTimeout,
				StaleClaim:   conf.Scim.StaleClaim,
			}, clock.C, logger)

			if conf.Scim.Processor == config.ProcessorScheduled {
				if err := sched.Start(ctx); err != nil {
					initFatal(err, "starting delivery scheduler")
				}
				level.Info(logger).Log("msg", "delivery scheduler started",
					"poll_interval", conf.Scim.PollInterval, "workers", conf.Scim.Workers)
			} else {
				// An out-of-tree processor owns delivery execution; this
				// server only runs the intake.
				level.Info(logger).Log("msg", "scheduled poller disabled", "processor", conf.Scim.Processor)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			level.Info(logger).Log("msg", "shutting down", "signal", s.String())

			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), conf.Scim.DrainTimeout)
			defer shutdownCancel()
			if err := sched.Stop(shutdownCtx); err != nil {
				level.Error(logger).Log("msg", "stopping delivery scheduler", "err", err)
			}
		},
	}
}

func initLogger(conf config.LoggingConfig) kitlog.Logger {
	var logger kitlog.Logger
	if conf.JSON {
		logger = kitlog.NewJSONLogger(kitlog.NewSyncWriter(os.Stderr))
	} else {
		logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	}
	if conf.Debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}
