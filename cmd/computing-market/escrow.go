package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/urfave/cli/v2"
)

var escrowCmd = &cli.Command{
	Name:  "escrow",
	Usage: "Inspect and settle escrows",
	Subcommands: []*cli.Command{
		escrowList,
		escrowSettle("release", "Pay the full amount to the payee", nil),
		escrowSettle("refund", "Return the full amount to the payer", nil),
		escrowSettle("split", "Pay part to the payee and refund the rest", func(args cli.Args) (interface{}, error) {
			if args.Len() < 2 {
				return nil, fmt.Errorf("must specify the payee amount")
			}
			amount, err := util.ParseToken(args.Get(1))
			if err != nil {
				return nil, err
			}
			return map[string]string{"payee_amount": amount.String()}, nil
		}),
	},
}

var escrowList = &cli.Command{
	Name:  "list",
	Usage: "List escrows",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "state", Usage: "Locked, Released, Refunded or Split"},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		q := url.Values{}
		if state := cctx.String("state"); state != "" {
			q.Set("state", state)
		}
		var escrows []*models.Escrow
		if err := client.get(ctx, "/escrows?"+q.Encode(), &escrows); err != nil {
			return err
		}
		printEscrows(cctx, escrows)
		return nil
	},
}

func escrowSettle(name, usage string, body func(cli.Args) (interface{}, error)) *cli.Command {
	argsUsage := "<entity id>"
	if body != nil {
		argsUsage += " <payee amount in tokens>"
	}
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(cctx *cli.Context) error {
			ctx := util.ReqContext(cctx.Context)
			if !cctx.Args().Present() {
				return fmt.Errorf("must specify the escrow entity id")
			}
			var payload interface{}
			if body != nil {
				var err error
				if payload, err = body(cctx.Args()); err != nil {
					return err
				}
			}
			client, err := newClient(cctx)
			if err != nil {
				return err
			}
			var e models.Escrow
			if err := client.post(ctx, "POST", "/escrows/"+cctx.Args().First()+"/"+name, payload, &e); err != nil {
				return err
			}
			printEscrows(cctx, []*models.Escrow{&e})
			return nil
		},
	}
}

func printEscrows(cctx *cli.Context, escrows []*models.Escrow) {
	var data [][]string
	for _, e := range escrows {
		data = append(data, []string{
			e.EntityId, string(e.Kind), shorten(e.Payer.Hex()), shorten(e.Payee.Hex()), util.FormatToken(e.Amount),
			colorState(e.State.String()), util.FormatToken(e.PayeeAmount), util.FormatToken(e.PayerAmount),
		})
	}
	header := []string{"ENTITY ID", "KIND", "PAYER", "PAYEE", "AMOUNT", "STATE", "TO PAYEE", "TO PAYER"}
	NewVisualTable(header, data, cctx.Bool(FlagNoColor)).Generate()
}

var accountCmd = &cli.Command{
	Name:  "account",
	Usage: "Show and fund ledger accounts",
	Subcommands: []*cli.Command{
		{
			Name:      "balance",
			Usage:     "Show balances, of one address or of every account",
			ArgsUsage: "[address]",
			Action: func(cctx *cli.Context) error {
				ctx := util.ReqContext(cctx.Context)
				client, err := newClient(cctx)
				if err != nil {
					return err
				}
				type account struct {
					Address common.Address `json:"address"`
					Balance string         `json:"balance"`
					Tokens  string         `json:"tokens"`
				}
				var accounts []account
				if cctx.Args().Present() {
					var a account
					if err := client.get(ctx, "/accounts/"+cctx.Args().First(), &a); err != nil {
						return err
					}
					accounts = append(accounts, a)
				} else if err := client.get(ctx, "/accounts", &accounts); err != nil {
					return err
				}
				var data [][]string
				for _, a := range accounts {
					data = append(data, []string{a.Address.Hex(), a.Tokens, a.Balance})
				}
				NewVisualTable([]string{"ADDRESS", "TOKENS", "BASE UNITS"}, data, cctx.Bool(FlagNoColor)).Generate()
				return nil
			},
		},
		{
			Name:      "deposit",
			Usage:     "Mint tokens into an account (authority)",
			ArgsUsage: "<address> <amount in tokens>",
			Action: func(cctx *cli.Context) error {
				ctx := util.ReqContext(cctx.Context)
				if cctx.NArg() != 2 || !common.IsHexAddress(cctx.Args().First()) {
					return fmt.Errorf("must specify address and amount")
				}
				amount, err := util.ParseToken(strings.TrimSpace(cctx.Args().Get(1)))
				if err != nil {
					return err
				}
				client, err := newClient(cctx)
				if err != nil {
					return err
				}
				return client.post(ctx, "POST", "/accounts/"+cctx.Args().First()+"/deposit", map[string]string{"amount": amount.String()}, nil)
			},
		},
	},
}
