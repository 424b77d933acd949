package lifecycle

import (
	"fmt"

	"github.com/lagrangedao/go-computing-market/internal/models"
)

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to models.JobPhase) bool {
	switch from {
	case models.PhaseSubmitted:
		return to == models.PhaseFunded || to == models.PhaseCancelled
	case models.PhaseFunded:
		return to == models.PhaseAssigned || to == models.PhaseCancelled
	case models.PhaseAssigned:
		return to == models.PhaseRunning || to == models.PhaseCancelled
	case models.PhaseRunning:
		return to == models.PhaseValidating || to == models.PhaseFailed || to == models.PhaseCancelled
	case models.PhaseValidating:
		return to == models.PhaseCompleted || to == models.PhaseDisputed || to == models.PhaseFailed || to == models.PhaseCancelled
	case models.PhaseDisputed:
		return to == models.PhaseCompleted || to == models.PhaseFailed || to == models.PhaseCancelled
	case models.PhaseCompleted, models.PhaseFailed, models.PhaseCancelled:
		return false
	default:
		panic(fmt.Sprintf("unhandled job phase %d", int(from)))
	}
}

// Resolution is the authority's verdict on a disputed job.
type Resolution int

const (
	// ResolveRelease pays the provider in full.
	ResolveRelease Resolution = iota
	// ResolveSplit pays the provider part of the cost and refunds the rest.
	ResolveSplit
	// ResolveRefund returns the full cost to the client.
	ResolveRefund
)

var resolutionNames = []string{"release", "split", "refund"}

func (r Resolution) String() string {
	if r < 0 || int(r) >= len(resolutionNames) {
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
	return resolutionNames[r]
}

func ParseResolution(s string) (Resolution, error) {
	for i, name := range resolutionNames {
		if name == s {
			return Resolution(i), nil
		}
	}
	return 0, fmt.Errorf("unknown resolution %q", s)
}

// outcome maps a resolution to the job's final phase and result.
func (r Resolution) outcome() (models.JobPhase, models.JobResult) {
	switch r {
	case ResolveRelease:
		return models.PhaseCompleted, models.ResultSuccess
	case ResolveSplit:
		return models.PhaseCompleted, models.ResultPartialSuccess
	case ResolveRefund:
		return models.PhaseFailed, models.ResultFailure
	default:
		panic(fmt.Sprintf("unhandled resolution %d", int(r)))
	}
}
