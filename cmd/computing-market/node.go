package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/urfave/cli/v2"
)

var nodeCmd = &cli.Command{
	Name:  "node",
	Usage: "Manage compute nodes",
	Subcommands: []*cli.Command{
		nodeRegister,
		nodeList,
		nodeAvailability,
		nodePrice,
		nodeDeregister,
		nodeStats,
	},
}

type nodeRow struct {
	models.ComputeNode
	Reliability float64 `json:"reliability"`
}

func nodeStatus(n *models.ComputeNode) string {
	switch {
	case n.Deregistered:
		return "deregistered"
	case n.Assigned():
		return "busy"
	case n.Disabled:
		return "disabled"
	default:
		return "available"
	}
}

var nodeRegister = &cli.Command{
	Name:  "register",
	Usage: "Offer a node on the market",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "price", Usage: "price per hour in tokens", Required: true},
		&cli.StringFlag{Name: "endpoint", Usage: "ssh endpoint of the node"},
		&cli.StringFlag{Name: "type", Usage: "ssh, training, edge or inference", Value: string(models.NodeTypeSSH)},
		&cli.IntFlag{Name: "cpu", Usage: "cpu cores"},
		&cli.IntFlag{Name: "memory", Usage: "memory in GB"},
		&cli.IntFlag{Name: "gpu", Usage: "gpu count"},
		&cli.StringFlag{Name: "gpu-type", Usage: "gpu model, e.g. RTX4090"},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		price, err := util.ParseToken(cctx.String("price"))
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}

		body := map[string]interface{}{
			"capabilities": models.Capabilities{
				NodeType: models.NodeType(cctx.String("type")),
				CpuCores: cctx.Int("cpu"),
				MemoryGB: cctx.Int("memory"),
				GpuCount: cctx.Int("gpu"),
				GpuType:  cctx.String("gpu-type"),
			},
			"price_per_hour": price.String(),
			"endpoint":       cctx.String("endpoint"),
		}
		var node models.ComputeNode
		if err := client.post(ctx, "POST", "/nodes", body, &node); err != nil {
			return err
		}
		fmt.Println(node.NodeId)
		return nil
	},
}

var nodeList = &cli.Command{
	Name:  "list",
	Usage: "List nodes",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "owner", Usage: "only nodes of this owner"},
		&cli.BoolFlag{Name: "available", Usage: "only nodes that can take work"},
		&cli.StringFlag{Name: "type", Usage: "node type filter, with --available"},
		&cli.StringFlag{Name: "gpu-type", Usage: "gpu model filter, with --available"},
		&cli.IntFlag{Name: "min-gpu", Usage: "minimum gpu count, with --available"},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		client, err := newClient(cctx)
		if err != nil {
			return err
		}

		q := url.Values{}
		if owner := cctx.String("owner"); owner != "" {
			q.Set("owner", owner)
		}
		if cctx.Bool("available") {
			q.Set("available", "true")
			q.Set("node_type", cctx.String("type"))
			q.Set("gpu_type", cctx.String("gpu-type"))
			q.Set("min_gpu", strconv.Itoa(cctx.Int("min-gpu")))
		}
		var nodes []nodeRow
		if err := client.get(ctx, "/nodes?"+q.Encode(), &nodes); err != nil {
			return err
		}

		var data [][]string
		for _, n := range nodes {
			c := n.Capabilities
			data = append(data, []string{
				n.NodeId, shorten(n.Owner.Hex()), string(c.NodeType),
				fmt.Sprintf("%d x %s", c.GpuCount, c.GpuType), strconv.Itoa(c.CpuCores), strconv.Itoa(c.MemoryGB),
				util.FormatToken(n.PricePerHour), colorState(nodeStatus(&n.ComputeNode)),
				fmt.Sprintf("%d/%d", n.SuccessfulJobs, n.TotalJobs), strconv.FormatFloat(n.Reliability, 'f', 2, 64),
			})
		}
		header := []string{"NODE ID", "OWNER", "TYPE", "GPU", "CPU", "MEMORY GB", "PRICE/H", "STATUS", "JOBS", "RELIABILITY"}
		NewVisualTable(header, data, cctx.Bool(FlagNoColor)).Generate()
		return nil
	},
}

var nodeAvailability = &cli.Command{
	Name:      "availability",
	Usage:     "Enable or disable a node",
	ArgsUsage: "<node id> <true|false>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 2 {
			return fmt.Errorf("must specify node id and availability")
		}
		available, err := strconv.ParseBool(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		var node models.ComputeNode
		if err := client.post(ctx, "PUT", "/nodes/"+cctx.Args().First()+"/availability", map[string]bool{"available": available}, &node); err != nil {
			return err
		}
		fmt.Println(colorState(nodeStatus(&node)))
		return nil
	},
}

var nodePrice = &cli.Command{
	Name:      "price",
	Usage:     "Change the hourly price of an idle node",
	ArgsUsage: "<node id> <price in tokens>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 2 {
			return fmt.Errorf("must specify node id and price")
		}
		price, err := util.ParseToken(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		return client.post(ctx, "PUT", "/nodes/"+cctx.Args().First()+"/price", map[string]string{"price_per_hour": price.String()}, nil)
	},
}

var nodeDeregister = &cli.Command{
	Name:      "deregister",
	Usage:     "Take an idle node off the market for good",
	ArgsUsage: "<node id>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify node id")
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		return client.post(ctx, "DELETE", "/nodes/"+cctx.Args().First(), nil, nil)
	},
}

var nodeStats = &cli.Command{
	Name:  "stats",
	Usage: "Show market statistics",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		var stats models.MarketStats
		if err := client.get(ctx, "/stats", &stats); err != nil {
			return err
		}
		data := [][]string{{
			strconv.Itoa(stats.TotalNodes), strconv.Itoa(stats.AvailableNodes),
			strconv.FormatUint(stats.TotalJobs, 10), strconv.FormatFloat(stats.AvgReliability, 'f', 2, 64),
		}}
		NewVisualTable([]string{"NODES", "AVAILABLE", "JOBS", "AVG RELIABILITY"}, data, cctx.Bool(FlagNoColor)).Generate()
		return nil
	},
}
