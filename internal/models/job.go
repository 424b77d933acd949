package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type JobPhase int

const (
	PhaseSubmitted JobPhase = iota
	PhaseFunded
	PhaseAssigned
	PhaseRunning
	PhaseValidating
	PhaseCompleted
	PhaseFailed
	PhaseDisputed
	PhaseCancelled
)

var phaseNames = []string{"Submitted", "Funded", "Assigned", "Running", "Validating", "Completed", "Failed", "Disputed", "Cancelled"}

func (p JobPhase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("JobPhase(%d)", int(p))
	}
	return phaseNames[p]
}

// IsTerminal returns true if no edge leaves the phase
func (p JobPhase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	case PhaseSubmitted, PhaseFunded, PhaseAssigned, PhaseRunning, PhaseValidating, PhaseDisputed:
		return false
	default:
		panic(fmt.Sprintf("unhandled job phase %d", int(p)))
	}
}

// IsBound returns true if the job holds a node in this phase
func (p JobPhase) IsBound() bool {
	switch p {
	case PhaseAssigned, PhaseRunning, PhaseValidating, PhaseDisputed:
		return true
	case PhaseSubmitted, PhaseFunded, PhaseCompleted, PhaseFailed, PhaseCancelled:
		return false
	default:
		panic(fmt.Sprintf("unhandled job phase %d", int(p)))
	}
}

func (p JobPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *JobPhase) UnmarshalText(text []byte) error {
	i, err := parseEnum(phaseNames, string(text))
	if err != nil {
		return fmt.Errorf("job phase: %w", err)
	}
	*p = JobPhase(i)
	return nil
}

func ParsePhase(s string) (JobPhase, error) {
	var p JobPhase
	err := p.UnmarshalText([]byte(s))
	return p, err
}

type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = []string{"Low", "Normal", "High", "Urgent"}

func (p JobPriority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("JobPriority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p JobPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *JobPriority) UnmarshalText(text []byte) error {
	i, err := parseEnum(priorityNames, string(text))
	if err != nil {
		return fmt.Errorf("job priority: %w", err)
	}
	*p = JobPriority(i)
	return nil
}

type JobResult int

const (
	ResultPending JobResult = iota
	ResultSuccess
	ResultFailure
	ResultPartialSuccess
)

var resultNames = []string{"Pending", "Success", "Failure", "PartialSuccess"}

func (r JobResult) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return fmt.Sprintf("JobResult(%d)", int(r))
	}
	return resultNames[r]
}

func (r JobResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *JobResult) UnmarshalText(text []byte) error {
	i, err := parseEnum(resultNames, string(text))
	if err != nil {
		return fmt.Errorf("job result: %w", err)
	}
	*r = JobResult(i)
	return nil
}

func parseEnum(names []string, s string) (int, error) {
	for i, name := range names {
		if name == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", s)
}

type Job struct {
	JobId             string         `json:"job_id"`
	Client            common.Address `json:"client"`
	Provider          common.Address `json:"provider"`
	NodeId            string         `json:"node_id,omitempty"`
	JobType           string         `json:"job_type"`
	Description       string         `json:"description"`
	InputHash         string         `json:"input_hash"`
	OutputHash        string         `json:"output_hash"`
	ConfigHash        string         `json:"config_hash"`
	EstimatedDuration int64          `json:"estimated_duration"`
	ActualDuration    int64          `json:"actual_duration"`
	TotalCost         *big.Int       `json:"total_cost"`
	Funded            bool           `json:"funded"`
	SubmitTime        int64          `json:"submit_time"`
	StartTime         int64          `json:"start_time"`
	EndTime           int64          `json:"end_time"`
	Phase             JobPhase       `json:"phase"`
	Priority          JobPriority    `json:"priority"`
	Result            JobResult      `json:"result"`
	QualityScore      uint8          `json:"quality_score"`
	Rated             bool           `json:"rated"`
	IsPrivate         bool           `json:"is_private"`
	Metadata          string         `json:"metadata"`
	Disputer          common.Address `json:"disputer"`
	DisputeReason     string         `json:"dispute_reason,omitempty"`
}

// JobSpec is what a client submits.
type JobSpec struct {
	JobType           string      `json:"job_type" yaml:"job_type"`
	Description       string      `json:"description" yaml:"description"`
	InputHash         string      `json:"input_hash" yaml:"input_hash"`
	ConfigHash        string      `json:"config_hash" yaml:"config_hash"`
	EstimatedDuration int64       `json:"estimated_duration" yaml:"estimated_duration"`
	TotalCost         *big.Int    `json:"total_cost" yaml:"-"`
	Priority          JobPriority `json:"priority" yaml:"-"`
	IsPrivate         bool        `json:"is_private" yaml:"is_private"`
	Metadata          string      `json:"metadata" yaml:"metadata"`
}

type PhaseChange struct {
	JobId string         `json:"job_id"`
	From  JobPhase       `json:"from"`
	To    JobPhase       `json:"to"`
	Actor common.Address `json:"actor"`
	Time  int64          `json:"time"`
}
