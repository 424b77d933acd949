package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/urfave/cli/v2"
)

var rentalCmd = &cli.Command{
	Name:  "rental",
	Usage: "Rent whole nodes by the hour",
	Subcommands: []*cli.Command{
		rentalNew,
		rentalComplete,
		rentalList,
	},
}

var rentalNew = &cli.Command{
	Name:      "new",
	Usage:     "Rent a node, paying the full duration into escrow",
	ArgsUsage: "<node id> <duration, e.g. 2h>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 2 {
			return fmt.Errorf("must specify node id and duration")
		}
		d, err := time.ParseDuration(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		var r models.Rental
		body := map[string]interface{}{"node_id": cctx.Args().First(), "duration": int64(d / time.Second)}
		if err := client.post(ctx, "POST", "/rentals", body, &r); err != nil {
			return err
		}
		printRentals(cctx, []*models.Rental{&r})
		return nil
	},
}

var rentalComplete = &cli.Command{
	Name:      "complete",
	Usage:     "End a rental and settle the time used",
	ArgsUsage: "<rental id>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify rental id")
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		var r models.Rental
		if err := client.post(ctx, "POST", "/rentals/"+cctx.Args().First()+"/complete", nil, &r); err != nil {
			return err
		}
		printRentals(cctx, []*models.Rental{&r})
		return nil
	},
}

var rentalList = &cli.Command{
	Name:  "list",
	Usage: "List rentals",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "renter", Usage: "only rentals of this renter"},
		&cli.BoolFlag{Name: "active", Usage: "only running rentals"},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		q := url.Values{}
		if renter := cctx.String("renter"); renter != "" {
			q.Set("renter", renter)
		}
		if cctx.Bool("active") {
			q.Set("active", "true")
		}
		var rentals []*models.Rental
		if err := client.get(ctx, "/rentals?"+q.Encode(), &rentals); err != nil {
			return err
		}
		printRentals(cctx, rentals)
		return nil
	},
}

func printRentals(cctx *cli.Context, rentals []*models.Rental) {
	var data [][]string
	for _, r := range rentals {
		status := "active"
		if r.Completed {
			status = "Completed"
		}
		data = append(data, []string{
			r.RentalId, r.GpuId, shorten(r.Renter.Hex()), util.FormatToken(r.PricePerHour),
			(time.Duration(r.RentalDuration) * time.Second).String(), time.Unix(r.ExpiresAt(), 0).Format(time.RFC3339),
			util.FormatToken(r.TotalCost), util.FormatToken(r.Payment), util.FormatToken(r.Refund), colorState(status),
		})
	}
	header := []string{"RENTAL ID", "NODE", "RENTER", "PRICE/H", "DURATION", "EXPIRES", "TOTAL", "PAID", "REFUNDED", "STATUS"}
	NewVisualTable(header, data, cctx.Bool(FlagNoColor)).Generate()
}
