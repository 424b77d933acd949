package lifecycle

import (
	"context"
	"errors"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/constants"
	"github.com/lagrangedao/go-computing-market/internal/escrow"
	"github.com/lagrangedao/go-computing-market/internal/events"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/notify"
	"github.com/lagrangedao/go-computing-market/internal/registry"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

func Key(jobId string) string {
	return constants.JOB_PREFIX + jobId
}

func historyKey(jobId string) string {
	return constants.HISTORY_PREFIX + jobId
}

// Lifecycle drives jobs through their phases and applies each edge's side
// effects on the escrow ledger and the node registry in one transaction.
type Lifecycle struct {
	store     store.Store
	locks     *keylock.Locker
	escrow    *escrow.Ledger
	registry  *registry.Registry
	notifier  notify.Notifier
	clock     clock.Clock
	events    events.Publisher
	authority common.Address
}

type Option func(*Lifecycle)

func WithClock(c clock.Clock) Option {
	return func(m *Lifecycle) { m.clock = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Lifecycle) { m.events = p }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Lifecycle) { m.notifier = n }
}

// New shares locks with the escrow ledger and the registry; the settlement
// authority is the escrow ledger's.
func New(st store.Store, locks *keylock.Locker, esc *escrow.Ledger, reg *registry.Registry, opts ...Option) *Lifecycle {
	m := &Lifecycle{
		store:     st,
		locks:     locks,
		escrow:    esc,
		registry:  reg,
		notifier:  notify.Noop{},
		clock:     clock.New(),
		events:    events.Discard{},
		authority: esc.Authority(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// step is one edge of the state machine.
type step struct {
	to models.JobPhase
	// authorize checks the caller against the job as it is before the edge.
	authorize func(job *models.Job) error
	// node overrides the node lock taken for the edge; defaults to the job's node.
	node string
	// effect runs inside the transaction after the phase is set to `to`.
	effect func(ctx context.Context, tx store.Txn, job *models.Job) error
}

// apply runs st on the job. Locks are taken in the order job, escrow, node.
func (m *Lifecycle) apply(ctx context.Context, jobId string, caller common.Address, st step) (*models.Job, error) {
	ctx, unlock, err := m.locks.Lock(ctx, Key(jobId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := m.Get(jobId)
	if err != nil {
		return nil, err
	}
	from := job.Phase
	if !CanTransition(from, st.to) {
		return nil, xerrors.Errorf("job %s %s -> %s: %w", jobId, from, st.to, models.ErrInvalidTransition)
	}
	if st.authorize != nil {
		if err := st.authorize(job); err != nil {
			return nil, err
		}
	}

	node := st.node
	if node == "" {
		node = job.NodeId
	}
	var nodeKey string
	if node != "" {
		nodeKey = registry.Key(node)
	}
	ctx, unlockRest, err := m.locks.LockAll(ctx, escrow.Key(jobId), nodeKey)
	if err != nil {
		return nil, err
	}
	defer unlockRest()

	var out *models.Job
	err = m.store.Update(ctx, func(tx store.Txn) error {
		job, err := m.getTx(tx, jobId)
		if err != nil {
			return err
		}
		job.Phase = st.to
		if st.effect != nil {
			if err := st.effect(ctx, tx, job); err != nil {
				return err
			}
		}
		if err := m.record(tx, job, from, caller); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	logs.GetLogger().Infof("job %s %s -> %s by %s", jobId, from, st.to, caller.Hex())
	return out, nil
}

// record writes the job and appends the phase change to its history.
func (m *Lifecycle) record(tx store.Txn, job *models.Job, from models.JobPhase, actor common.Address) error {
	if err := tx.Put(Key(job.JobId), job); err != nil {
		return err
	}

	var history []models.PhaseChange
	if err := tx.Get(historyKey(job.JobId), &history); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	now := m.clock.Now().Unix()
	history = append(history, models.PhaseChange{JobId: job.JobId, From: from, To: job.Phase, Actor: actor, Time: now})
	if err := tx.Put(historyKey(job.JobId), history); err != nil {
		return err
	}

	ev := events.Event{Type: constants.EVENT_JOB, Id: job.JobId, State: job.Phase.String(), Time: now, Data: job}
	tx.OnCommit(func() { m.events.Publish(ev) })
	return nil
}

func (m *Lifecycle) Get(jobId string) (*models.Job, error) {
	job := new(models.Job)
	if err := m.store.Get(Key(jobId), job); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("job %s: %w", jobId, models.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

func (m *Lifecycle) getTx(tx store.Txn, jobId string) (*models.Job, error) {
	job := new(models.Job)
	if err := tx.Get(Key(jobId), job); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("job %s: %w", jobId, models.ErrNotFound)
		}
		return nil, err
	}
	return job, nil
}

// History returns the job's phase changes, oldest first.
func (m *Lifecycle) History(jobId string) ([]models.PhaseChange, error) {
	if _, err := m.Get(jobId); err != nil {
		return nil, err
	}
	var history []models.PhaseChange
	if err := m.store.Get(historyKey(jobId), &history); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return history, nil
}

// List returns every job, or only those in phase when it is non-nil.
func (m *Lifecycle) List(phase *models.JobPhase) ([]*models.Job, error) {
	return m.list(func(j *models.Job) bool { return phase == nil || j.Phase == *phase })
}

func (m *Lifecycle) ListByClient(client common.Address) ([]*models.Job, error) {
	return m.list(func(j *models.Job) bool { return j.Client == client })
}

func (m *Lifecycle) ListByProvider(provider common.Address) ([]*models.Job, error) {
	return m.list(func(j *models.Job) bool { return j.NodeId != "" && j.Provider == provider })
}

func (m *Lifecycle) list(keep func(*models.Job) bool) ([]*models.Job, error) {
	var jobs []*models.Job
	err := m.store.Iterate(constants.JOB_PREFIX, func(key string, value []byte) error {
		job := new(models.Job)
		if err := store.Decode(value, job); err != nil {
			return err
		}
		if keep(job) {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].SubmitTime != jobs[j].SubmitTime {
			return jobs[i].SubmitTime < jobs[j].SubmitTime
		}
		return jobs[i].JobId < jobs[j].JobId
	})
	return jobs, nil
}
