// Package reliability keeps a node's job counters in step with the jobs it
// finishes. Reliability itself is derived from the counters on read.
package reliability

import (
	"fmt"

	"github.com/lagrangedao/go-computing-market/internal/models"
)

// Record counts job, which has just reached phase, against n. Jobs that
// never held the node are not counted. It reports whether a counter changed.
func Record(n *models.ComputeNode, job *models.Job) bool {
	if job.NodeId == "" || job.NodeId != n.NodeId {
		return false
	}
	switch job.Phase {
	case models.PhaseCompleted:
		n.TotalJobs++
		if job.Result == models.ResultSuccess {
			n.SuccessfulJobs++
		}
		return true
	case models.PhaseFailed, models.PhaseCancelled:
		n.TotalJobs++
		return true
	case models.PhaseSubmitted, models.PhaseFunded, models.PhaseAssigned, models.PhaseRunning, models.PhaseValidating, models.PhaseDisputed:
		return false
	default:
		panic(fmt.Sprintf("unhandled job phase %d", int(job.Phase)))
	}
}
