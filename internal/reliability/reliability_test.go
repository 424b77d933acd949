package reliability

import (
	"testing"

	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	node := &models.ComputeNode{NodeId: "n1"}
	job := func(phase models.JobPhase, result models.JobResult) *models.Job {
		return &models.Job{NodeId: "n1", Phase: phase, Result: result}
	}

	require.True(t, Record(node, job(models.PhaseCompleted, models.ResultSuccess)))
	require.True(t, Record(node, job(models.PhaseCompleted, models.ResultPartialSuccess)))
	require.True(t, Record(node, job(models.PhaseFailed, models.ResultFailure)))
	require.True(t, Record(node, job(models.PhaseCancelled, models.ResultPending)))

	require.EqualValues(t, 4, node.TotalJobs)
	require.EqualValues(t, 1, node.SuccessfulJobs)
	require.InDelta(t, 0.25, node.Reliability(), 1e-9)
}

func TestRecord_Ignored(t *testing.T) {
	node := &models.ComputeNode{NodeId: "n1"}

	// never assigned
	require.False(t, Record(node, &models.Job{Phase: models.PhaseCancelled}))
	// another node's job
	require.False(t, Record(node, &models.Job{NodeId: "n2", Phase: models.PhaseCompleted, Result: models.ResultSuccess}))
	// not finished
	require.False(t, Record(node, &models.Job{NodeId: "n1", Phase: models.PhaseRunning}))

	require.Zero(t, node.TotalJobs)
	require.Zero(t, node.Reliability())
}

func TestRecord_PanicsOnUnknownPhase(t *testing.T) {
	node := &models.ComputeNode{NodeId: "n1"}
	require.Panics(t, func() {
		Record(node, &models.Job{NodeId: "n1", Phase: models.JobPhase(99)})
	})
}
