package yaml

import (
	"strconv"
	"time"

	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
	"gopkg.in/errgo.v2/errors"
)

// JobYamlV1 is a version 1.0 job manifest:
//
//	version: "1.0"
//	job:
//	  job_type: training
//	  estimated_duration: 2h
//	  total_cost: "1.5"
//	  priority: High
//	requirements:
//	  gpu_type: A100
//	  min_gpu: 1
type JobYamlV1 struct {
	Version      string       `yaml:"version"`
	Job          Job          `yaml:"job"`
	Requirements Requirements `yaml:"requirements"`
}

type Job struct {
	JobType     string `yaml:"job_type"`
	Description string `yaml:"description"`
	InputHash   string `yaml:"input_hash"`
	ConfigHash  string `yaml:"config_hash"`
	// EstimatedDuration is a duration ("90m") or plain seconds.
	EstimatedDuration string `yaml:"estimated_duration"`
	// TotalCost is in tokens, e.g. "1.5".
	TotalCost string `yaml:"total_cost"`
	Priority  string `yaml:"priority"`
	IsPrivate bool   `yaml:"is_private"`
	Metadata  string `yaml:"metadata"`
}

type Requirements struct {
	NodeType    string `yaml:"node_type"`
	GpuType     string `yaml:"gpu_type"`
	MinCpuCores int    `yaml:"min_cpu"`
	MinMemoryGB int    `yaml:"min_memory"`
	MinGpuCount int    `yaml:"min_gpu"`
}

// JobManifest is a parsed job ready to submit, with the nodes it may run on.
type JobManifest struct {
	Spec   models.JobSpec
	Filter models.NodeFilter
}

func (jy *JobYamlV1) checkRequired() error {
	if jy.Job.JobType == "" {
		return errors.New("job.job_type is required")
	}
	if jy.Job.TotalCost == "" {
		return errors.New("job.total_cost is required")
	}
	return nil
}

func (jy *JobYamlV1) ToManifest() (*JobManifest, error) {
	if err := jy.checkRequired(); err != nil {
		return nil, err
	}

	cost, err := util.ParseToken(jy.Job.TotalCost)
	if err != nil {
		return nil, errors.Note(err, nil, "job.total_cost")
	}
	if cost.Sign() == 0 {
		return nil, errors.New("job.total_cost must be positive")
	}

	duration, err := parseSeconds(jy.Job.EstimatedDuration)
	if err != nil {
		return nil, errors.Note(err, nil, "job.estimated_duration")
	}

	priority := models.PriorityNormal
	if jy.Job.Priority != "" {
		if err := priority.UnmarshalText([]byte(jy.Job.Priority)); err != nil {
			return nil, errors.Note(err, nil, "job.priority")
		}
	}

	nodeType := models.NodeType(jy.Requirements.NodeType)
	if nodeType != "" && !nodeType.Valid() {
		return nil, errors.New("requirements.node_type " + strconv.Quote(jy.Requirements.NodeType) + " is not supported")
	}
	r := jy.Requirements
	if r.MinCpuCores < 0 || r.MinMemoryGB < 0 || r.MinGpuCount < 0 {
		return nil, errors.New("requirements must not be negative")
	}

	return &JobManifest{
		Spec: models.JobSpec{
			JobType:           jy.Job.JobType,
			Description:       jy.Job.Description,
			InputHash:         jy.Job.InputHash,
			ConfigHash:        jy.Job.ConfigHash,
			EstimatedDuration: duration,
			TotalCost:         cost,
			Priority:          priority,
			IsPrivate:         jy.Job.IsPrivate,
			Metadata:          jy.Job.Metadata,
		},
		Filter: models.NodeFilter{
			NodeType:    nodeType,
			GpuType:     r.GpuType,
			MinCpuCores: r.MinCpuCores,
			MinMemoryGB: r.MinMemoryGB,
			MinGpuCount: r.MinGpuCount,
		},
	}, nil
}

func parseSeconds(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, errors.New("negative duration")
		}
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("negative duration")
	}
	return int64(d / time.Second), nil
}
