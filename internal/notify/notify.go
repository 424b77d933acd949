package notify

import (
	"context"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gocelery/gocelery"
	"github.com/lagrangedao/go-computing-market/constants"
)

// Grant describes the exclusive access a job client or renter holds on a node.
type Grant struct {
	EntityId  string         `json:"entity_id"`
	NodeId    string         `json:"node_id"`
	Endpoint  string         `json:"endpoint"`
	User      common.Address `json:"user"`
	ExpiresAt int64          `json:"expires_at"`
}

// Notifier tells the provisioning daemon to create or destroy access. It is
// only called after state is committed; failures never affect settlement.
type Notifier interface {
	AccessGranted(ctx context.Context, g Grant) error
	AccessRevoked(ctx context.Context, g Grant) error
}

type TaskQueue interface {
	DelayTask(taskName string, params ...interface{}) (*gocelery.AsyncResult, error)
}

// TaskNotifier turns notifications into celery tasks.
type TaskNotifier struct {
	queue TaskQueue
}

func NewTaskNotifier(queue TaskQueue) *TaskNotifier {
	return &TaskNotifier{queue: queue}
}

func (n *TaskNotifier) AccessGranted(ctx context.Context, g Grant) error {
	return n.delay(constants.TASK_ACCESS_GRANT, g)
}

func (n *TaskNotifier) AccessRevoked(ctx context.Context, g Grant) error {
	return n.delay(constants.TASK_ACCESS_REVOKE, g)
}

func (n *TaskNotifier) delay(task string, g Grant) error {
	_, err := n.queue.DelayTask(task, TaskArgs(g)...)
	return err
}

// TaskArgs is the positional argument list of the access tasks.
func TaskArgs(g Grant) []interface{} {
	return []interface{}{g.EntityId, g.NodeId, g.Endpoint, g.User.Hex(), strconv.FormatInt(g.ExpiresAt, 10)}
}

// Send delivers a notification and only logs a failure.
func Send(ctx context.Context, n Notifier, granted bool, g Grant) {
	var err error
	if granted {
		err = n.AccessGranted(ctx, g)
	} else {
		err = n.AccessRevoked(ctx, g)
	}
	if err != nil {
		logs.GetLogger().Errorf("Failed notify access change for %s on node %s, granted: %t, error: %+v", g.EntityId, g.NodeId, granted, err)
	}
}

type Noop struct{}

func (Noop) AccessGranted(context.Context, Grant) error { return nil }
func (Noop) AccessRevoked(context.Context, Grant) error { return nil }

// Recorder keeps every notification in memory.
type Recorder struct {
	mu      sync.Mutex
	Granted []Grant
	Revoked []Grant
}

func (r *Recorder) AccessGranted(_ context.Context, g Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Granted = append(r.Granted, g)
	return nil
}

func (r *Recorder) AccessRevoked(_ context.Context, g Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Revoked = append(r.Revoked, g)
	return nil
}

// Snapshot returns copies of the recorded grants and revocations.
func (r *Recorder) Snapshot() (granted, revoked []Grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Grant(nil), r.Granted...), append([]Grant(nil), r.Revoked...)
}
