package main

import (
	"fmt"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/conf"
	"github.com/lagrangedao/go-computing-market/internal/notify"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/urfave/cli/v2"
)

var workerCmd = &cli.Command{
	Name:  "worker",
	Usage: "Consume access tasks and log them, standing in for the ssh provisioning daemon",
	Action: func(cctx *cli.Context) error {
		repo, err := repoPath(cctx)
		if err != nil {
			return err
		}
		if err := conf.InitConfig(repo); err != nil {
			return fmt.Errorf("load config file failed, error: %+v", err)
		}
		cfg := conf.GetConfig()
		if cfg.Redis.Url == "" {
			return fmt.Errorf("Redis.Url is not set in %s/config.toml", repo)
		}

		celery, err := notify.NewCeleryService(cfg.Redis.Url, cfg.Redis.Password, cfg.Redis.Workers)
		if err != nil {
			return err
		}
		if err := celery.Ping(); err != nil {
			celery.Close()
			return fmt.Errorf("failed connect redis %s, error: %w", cfg.Redis.Url, err)
		}
		notify.RegisterAccessTasks(celery, notify.LogTask)
		celery.Start()
		logs.GetLogger().Infof("access worker started with %d workers", cfg.Redis.Workers)

		<-util.ReqContext(cctx.Context).Done()
		celery.Stop()
		return celery.Close()
	},
}
