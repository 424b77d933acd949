package main

import (
	"os"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/joho/godotenv"
	"github.com/lagrangedao/go-computing-market/build"
	"github.com/urfave/cli/v2"
)

const (
	FlagMarketRepo = "market-repo"
	FlagApi        = "api"
	FlagFrom       = "from"
	FlagNoColor    = "no-color"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			logs.GetLogger().Errorf("Failed load .env, error: %+v", err)
		}
	}

	app := &cli.App{
		Name:                 "computing-market",
		Usage:                "A decentralized compute market: providers list nodes, clients fund jobs or rent GPUs, and escrowed payments settle when the work is judged.",
		EnableBashCompletion: true,
		Version:              build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    FlagMarketRepo,
				EnvVars: []string{"MARKET_PATH"},
				Usage:   "market repo path",
				Value:   "~/.swan/market",
			},
			&cli.StringFlag{
				Name:    FlagApi,
				EnvVars: []string{"MARKET_API"},
				Usage:   "market api url",
				Value:   "http://127.0.0.1:8085",
			},
			&cli.StringFlag{
				Name:    FlagFrom,
				EnvVars: []string{"MARKET_FROM"},
				Usage:   "wallet address to sign requests with",
			},
			&cli.BoolFlag{
				Name:  FlagNoColor,
				Usage: "disable colored output",
			},
		},
		Commands: []*cli.Command{
			runCmd,
			workerCmd,
			nodeCmd,
			jobCmd,
			rentalCmd,
			escrowCmd,
			accountCmd,
			walletCmd,
		},
	}
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
