package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/conf"
	"github.com/lagrangedao/go-computing-market/internal/escrow"
	"github.com/lagrangedao/go-computing-market/internal/events"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/ledger"
	"github.com/lagrangedao/go-computing-market/internal/lifecycle"
	"github.com/lagrangedao/go-computing-market/internal/notify"
	"github.com/lagrangedao/go-computing-market/internal/registry"
	"github.com/lagrangedao/go-computing-market/internal/rental"
	"github.com/lagrangedao/go-computing-market/internal/server"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/urfave/cli/v2"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start a market process",
	Action: func(cctx *cli.Context) error {
		logs.GetLogger().Info("Start in computing market mode.")

		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		if err := conf.InitConfig(repo); err != nil {
			return fmt.Errorf("load config file failed, error: %+v", err)
		}
		cfg := conf.GetConfig()

		st, err := store.Open(cfg.DB.Path)
		if err != nil {
			return fmt.Errorf("failed open market db %s, error: %+v", cfg.DB.Path, err)
		}

		var (
			notifier notify.Notifier = notify.Noop{}
			celery   *notify.CeleryService
		)
		if cfg.Redis.Url != "" {
			celery, err = notify.NewCeleryService(cfg.Redis.Url, cfg.Redis.Password, cfg.Redis.Workers)
			if err != nil {
				st.Close()
				return err
			}
			if err := celery.Ping(); err != nil {
				logs.GetLogger().Warnf("redis %s is not reachable, access notifications will be dropped: %v", cfg.Redis.Url, err)
			}
			notifier = notify.NewTaskNotifier(celery)
		} else {
			logs.GetLogger().Warn("Redis.Url is empty, access notifications are disabled")
		}

		locks := keylock.New()
		funds := ledger.NewStoreLedger(st)
		hub := events.NewHub()
		esc := escrow.New(st, funds, locks, cfg.AuthorityAddress(), escrow.WithPublisher(hub))
		reg := registry.New(st, locks, registry.WithPublisher(hub))
		jobs := lifecycle.New(st, locks, esc, reg, lifecycle.WithPublisher(hub), lifecycle.WithNotifier(notifier))
		rentals := rental.New(st, locks, esc, reg, rental.WithPublisher(hub), rental.WithNotifier(notifier))

		if !cfg.API.VerifySignature {
			logs.GetLogger().Warn("API.VerifySignature is off, callers are trusted by their X-Address header")
		}
		srv := &server.Server{
			Registry:        reg,
			Jobs:            jobs,
			Rentals:         rentals,
			Escrow:          esc,
			Funds:           funds,
			Hub:             hub,
			VerifySignature: cfg.API.VerifySignature,
			SignatureTTL:    time.Duration(cfg.API.SignatureTTL) * time.Second,
		}

		sweepCtx, stopSweep := context.WithCancel(context.Background())
		sweepDone := make(chan struct{})
		go func() {
			defer close(sweepDone)
			rentals.WatchExpired(sweepCtx, cfg.Rental.SweepInterval.Duration)
		}()

		httpStopper, err := util.ServeHttp(srv.Router(cfg.API.Pprof), "market-api", ":"+strconv.Itoa(cfg.API.Port), cfg.LOG.CrtFile, cfg.LOG.KeyFile)
		if err != nil {
			stopSweep()
			st.Close()
			return fmt.Errorf("failed to start market-api endpoint: %w", err)
		}
		logs.GetLogger().Infof("market api listening on :%d, authority %s", cfg.API.Port, cfg.AuthorityAddress().Hex())

		handlers := []util.ShutdownHandler{
			{Component: "market-api", StopFunc: httpStopper},
			{Component: "rental-sweeper", StopFunc: func(ctx context.Context) error {
				stopSweep()
				select {
				case <-sweepDone:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}},
			{Component: "event-hub", StopFunc: func(context.Context) error {
				hub.Close()
				return nil
			}},
		}
		if celery != nil {
			handlers = append(handlers, util.ShutdownHandler{Component: "celery", StopFunc: func(context.Context) error {
				return celery.Close()
			}})
		}
		handlers = append(handlers, util.ShutdownHandler{Component: "store", StopFunc: func(context.Context) error {
			return st.Close()
		}})

		finishCh := util.MonitorShutdown(make(chan struct{}), handlers...)
		<-finishCh

		return nil
	},
}
