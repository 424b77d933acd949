package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/lagrangedao/go-computing-market/yaml"
	"github.com/urfave/cli/v2"
)

var jobCmd = &cli.Command{
	Name:  "job",
	Usage: "Manage jobs",
	Subcommands: []*cli.Command{
		jobSubmit,
		jobList,
		jobGet,
		jobEdge("fund", "Lock the job cost in escrow (client)", "<job id>", 1, nil),
		jobEdge("assign", "Bind the job to a node (authority)", "<job id> <node id>", 2, func(args cli.Args) (interface{}, error) {
			return map[string]string{"node_id": args.Get(1)}, nil
		}),
		jobEdge("start", "Start running the job (provider)", "<job id>", 1, nil),
		jobEdge("result", "Submit the output for validation (provider)", "<job id> <output hash>", 2, func(args cli.Args) (interface{}, error) {
			return map[string]string{"output_hash": args.Get(1)}, nil
		}),
		jobEdge("complete", "Accept the result and pay the provider (authority)", "<job id> [Success|PartialSuccess]", 1, func(args cli.Args) (interface{}, error) {
			result := "Success"
			if args.Len() > 1 {
				result = args.Get(1)
			}
			return map[string]string{"result": result}, nil
		}),
		jobEdge("dispute", "Contest the result (client or provider)", "<job id> <reason>", 2, func(args cli.Args) (interface{}, error) {
			return map[string]string{"reason": args.Get(1)}, nil
		}),
		jobEdge("resolve", "Judge a dispute (authority)", "<job id> <release|split|refund> [provider amount in tokens]", 2, func(args cli.Args) (interface{}, error) {
			body := map[string]string{"resolution": args.Get(1)}
			if args.Len() > 2 {
				amount, err := util.ParseToken(args.Get(2))
				if err != nil {
					return nil, err
				}
				body["provider_amount"] = amount.String()
			}
			return body, nil
		}),
		jobEdge("cancel", "Cancel the job and refund the client", "<job id>", 1, nil),
		jobEdge("fail", "Fail a running job (authority)", "<job id> [provider amount in tokens]", 1, func(args cli.Args) (interface{}, error) {
			if args.Len() < 2 {
				return nil, nil
			}
			amount, err := util.ParseToken(args.Get(1))
			if err != nil {
				return nil, err
			}
			return map[string]string{"provider_amount": amount.String()}, nil
		}),
		jobEdge("rate", "Rate a completed job from 1 to 100 (client)", "<job id> <score>", 2, func(args cli.Args) (interface{}, error) {
			score, err := strconv.ParseUint(args.Get(1), 10, 8)
			if err != nil {
				return nil, err
			}
			return map[string]uint64{"score": score}, nil
		}),
	},
}

// jobEdge builds the command for one job transition.
func jobEdge(name, usage, argsUsage string, minArgs int, body func(cli.Args) (interface{}, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(cctx *cli.Context) error {
			ctx := util.ReqContext(cctx.Context)
			if cctx.NArg() < minArgs {
				return fmt.Errorf("usage: %s %s", name, argsUsage)
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
			var job models.Job
			if err := client.post(ctx, "POST", "/jobs/"+cctx.Args().First()+"/"+name, payload, &job); err != nil {
				return err
			}
			printJobs(cctx, []*models.Job{&job})
			return nil
		},
	}
}

var jobSubmit = &cli.Command{
	Name:      "submit",
	Usage:     "Submit a job from a manifest",
	ArgsUsage: "<job.yaml>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify the job manifest")
		}
		manifest, err := yaml.HandlerYaml(cctx.Args().First())
		if err != nil {
			return err
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}

		var job models.Job
		if err := client.post(ctx, "POST", "/jobs", manifest.Spec, &job); err != nil {
			return err
		}
		printJobs(cctx, []*models.Job{&job})

		f := manifest.Filter
		q := url.Values{"available": {"true"}, "node_type": {string(f.NodeType)}, "gpu_type": {f.GpuType},
			"min_cpu": {strconv.Itoa(f.MinCpuCores)}, "min_memory": {strconv.Itoa(f.MinMemoryGB)}, "min_gpu": {strconv.Itoa(f.MinGpuCount)}}
		var nodes []nodeRow
		if err := client.get(ctx, "/nodes?"+q.Encode(), &nodes); err != nil {
			return err
		}
		fmt.Printf("\n%d available nodes match the requirements\n", len(nodes))
		for _, n := range nodes {
			fmt.Printf("  %s  %d x %s  %s/h\n", n.NodeId, n.Capabilities.GpuCount, n.Capabilities.GpuType, util.FormatToken(n.PricePerHour))
		}
		return nil
	},
}

var jobList = &cli.Command{
	Name:  "list",
	Usage: "List jobs",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "client", Usage: "only jobs of this client"},
		&cli.StringFlag{Name: "provider", Usage: "only jobs of this provider"},
		&cli.StringFlag{Name: "phase", Usage: "only jobs in this phase"},
	},
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		q := url.Values{}
		for _, k := range []string{"client", "provider", "phase"} {
			if v := cctx.String(k); v != "" {
				q.Set(k, v)
			}
		}
		var jobs []*models.Job
		if err := client.get(ctx, "/jobs?"+q.Encode(), &jobs); err != nil {
			return err
		}
		printJobs(cctx, jobs)
		return nil
	},
}

var jobGet = &cli.Command{
	Name:      "get",
	Usage:     "Show a job and its phase history",
	ArgsUsage: "<job id>",
	Action: func(cctx *cli.Context) error {
		ctx := util.ReqContext(cctx.Context)
		if cctx.NArg() != 1 {
			return fmt.Errorf("must specify job id")
		}
		client, err := newClient(cctx)
		if err != nil {
			return err
		}
		var job models.Job
		if err := client.get(ctx, "/jobs/"+cctx.Args().First(), &job); err != nil {
			return err
		}
		printJobs(cctx, []*models.Job{&job})

		var history []models.PhaseChange
		if err := client.get(ctx, "/jobs/"+job.JobId+"/history", &history); err != nil {
			return err
		}
		var data [][]string
		for _, h := range history {
			data = append(data, []string{time.Unix(h.Time, 0).Format(time.RFC3339), h.From.String(), colorState(h.To.String()), h.Actor.Hex()})
		}
		fmt.Println("")
		NewVisualTable([]string{"TIME", "FROM", "TO", "ACTOR"}, data, cctx.Bool(FlagNoColor)).Generate()
		return nil
	},
}

func printJobs(cctx *cli.Context, jobs []*models.Job) {
	var data [][]string
	for _, j := range jobs {
		rating := ""
		if j.Rated {
			rating = strconv.Itoa(int(j.QualityScore))
		}
		data = append(data, []string{
			j.JobId, j.JobType, shorten(j.Client.Hex()), j.NodeId, util.FormatToken(j.TotalCost),
			j.Priority.String(), colorState(j.Phase.String()), j.Result.String(), rating,
		})
	}
	header := []string{"JOB ID", "TYPE", "CLIENT", "NODE", "COST", "PRIORITY", "PHASE", "RESULT", "RATING"}
	NewVisualTable(header, data, cctx.Bool(FlagNoColor)).Generate()
}
