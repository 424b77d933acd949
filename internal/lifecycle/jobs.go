package lifecycle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-computing-market/constants"
	"github.com/lagrangedao/go-computing-market/internal/escrow"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/notify"
	"github.com/lagrangedao/go-computing-market/internal/reliability"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

// Submit records a new job for client. Nothing is charged until Fund.
func (m *Lifecycle) Submit(ctx context.Context, client common.Address, spec models.JobSpec) (*models.Job, error) {
	if spec.TotalCost == nil || spec.TotalCost.Sign() <= 0 {
		return nil, xerrors.Errorf("total cost %v: %w", spec.TotalCost, models.ErrInvalidArgument)
	}
	if spec.EstimatedDuration < 0 {
		return nil, xerrors.Errorf("estimated duration %d: %w", spec.EstimatedDuration, models.ErrInvalidArgument)
	}
	if err := checkPriority(spec.Priority); err != nil {
		return nil, err
	}

	job := &models.Job{
		JobId:             uuid.NewString(),
		Client:            client,
		JobType:           spec.JobType,
		Description:       spec.Description,
		InputHash:         spec.InputHash,
		ConfigHash:        spec.ConfigHash,
		EstimatedDuration: spec.EstimatedDuration,
		TotalCost:         new(big.Int).Set(spec.TotalCost),
		SubmitTime:        m.clock.Now().Unix(),
		Phase:             models.PhaseSubmitted,
		Priority:          spec.Priority,
		Result:            models.ResultPending,
		IsPrivate:         spec.IsPrivate,
		Metadata:          spec.Metadata,
	}
	err := m.store.Update(ctx, func(tx store.Txn) error {
		return m.record(tx, job, models.PhaseSubmitted, client)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Fund locks the job's total cost from the client. The payee is named at
// assignment.
func (m *Lifecycle) Fund(ctx context.Context, jobId string, caller common.Address) (*models.Job, error) {
	return m.apply(ctx, jobId, caller, step{
		to:        models.PhaseFunded,
		authorize: m.onlyClient(caller),
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			if _, err := m.escrow.LockTx(ctx, tx, models.EscrowKindJob, job.JobId, job.TotalCost, job.Client, common.Address{}); err != nil {
				return err
			}
			job.Funded = true
			return nil
		},
	})
}

// Assign binds the job to an available node, making the node's owner the
// job's provider and the escrow's payee.
func (m *Lifecycle) Assign(ctx context.Context, jobId, nodeId string, caller common.Address) (*models.Job, error) {
	if nodeId == "" {
		return nil, xerrors.Errorf("node id: %w", models.ErrInvalidArgument)
	}
	return m.apply(ctx, jobId, caller, step{
		to:        models.PhaseAssigned,
		authorize: m.onlyAuthority(caller),
		node:      nodeId,
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			node, err := m.registry.AssignTx(ctx, tx, nodeId, job.JobId)
			if err != nil {
				return err
			}
			job.NodeId = node.NodeId
			job.Provider = node.Owner
			if _, err := m.escrow.AssignPayeeTx(ctx, tx, job.JobId, node.Owner); err != nil {
				return err
			}

			g := notify.Grant{EntityId: job.JobId, NodeId: node.NodeId, Endpoint: node.Endpoint, User: job.Client}
			if job.EstimatedDuration > 0 {
				g.ExpiresAt = m.clock.Now().Unix() + job.EstimatedDuration
			}
			tx.OnCommit(func() { notify.Send(context.Background(), m.notifier, true, g) })
			return nil
		},
	})
}

func (m *Lifecycle) Start(ctx context.Context, jobId string, caller common.Address) (*models.Job, error) {
	return m.apply(ctx, jobId, caller, step{
		to:        models.PhaseRunning,
		authorize: m.onlyProvider(caller),
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			job.StartTime = m.clock.Now().Unix()
			return nil
		},
	})
}

// SubmitResult hands the output to validation.
func (m *Lifecycle) SubmitResult(ctx context.Context, jobId, outputHash string, caller common.Address) (*models.Job, error) {
	if outputHash == "" {
		return nil, xerrors.Errorf("output hash: %w", models.ErrInvalidArgument)
	}
	return m.apply(ctx, jobId, caller, step{
		to:        models.PhaseValidating,
		authorize: m.onlyProvider(caller),
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			job.OutputHash = outputHash
			job.EndTime = m.clock.Now().Unix()
			job.ActualDuration = job.EndTime - job.StartTime
			if job.ActualDuration < 0 {
				job.ActualDuration = 0
			}
			return nil
		},
	})
}

// Complete accepts a validated job and pays the provider.
func (m *Lifecycle) Complete(ctx context.Context, jobId string, result models.JobResult, caller common.Address) (*models.Job, error) {
	switch result {
	case models.ResultSuccess, models.ResultPartialSuccess:
	case models.ResultPending, models.ResultFailure:
		return nil, xerrors.Errorf("complete with result %s: %w", result, models.ErrInvalidArgument)
	default:
		panic(fmt.Sprintf("unhandled job result %d", int(result)))
	}
	return m.apply(ctx, jobId, caller, step{
		to:        models.PhaseCompleted,
		authorize: m.onlyAuthority(caller),
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			job.Result = result
			return m.finish(ctx, tx, job, escrow.PlanRelease)
		},
	})
}

// Dispute holds a validating job for the authority to judge. Funds stay locked.
func (m *Lifecycle) Dispute(ctx context.Context, jobId, reason string, caller common.Address) (*models.Job, error) {
	return m.apply(ctx, jobId, caller, step{
		to: models.PhaseDisputed,
		authorize: func(job *models.Job) error {
			if caller != job.Client && caller != job.Provider {
				return xerrors.Errorf("%s is not a party of job %s: %w", caller.Hex(), job.JobId, models.ErrUnauthorized)
			}
			return nil
		},
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			job.Disputer = caller
			job.DisputeReason = reason
			return nil
		},
	})
}

// Resolve settles a disputed job. providerAmount is only read for ResolveSplit.
func (m *Lifecycle) Resolve(ctx context.Context, jobId string, resolution Resolution, providerAmount *big.Int, caller common.Address) (*models.Job, error) {
	to, result := resolution.outcome()
	var plan escrow.Plan
	switch resolution {
	case ResolveRelease:
		plan = escrow.PlanRelease
	case ResolveSplit:
		plan = escrow.PlanSplit(providerAmount)
	case ResolveRefund:
		plan = escrow.PlanRefund
	default:
		panic(fmt.Sprintf("unhandled resolution %d", int(resolution)))
	}

	return m.apply(ctx, jobId, caller, step{
		to: to,
		authorize: func(job *models.Job) error {
			if job.Phase != models.PhaseDisputed {
				return xerrors.Errorf("resolve job %s in %s: %w", jobId, job.Phase, models.ErrInvalidTransition)
			}
			return m.onlyAuthority(caller)(job)
		},
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			job.Result = result
			return m.finish(ctx, tx, job, plan)
		},
	})
}

// Cancel stops a job before it finishes and refunds whatever was locked. The
// client may cancel until the job is assigned, the authority at any time.
func (m *Lifecycle) Cancel(ctx context.Context, jobId string, caller common.Address) (*models.Job, error) {
	return m.apply(ctx, jobId, caller, step{
		to: models.PhaseCancelled,
		authorize: func(job *models.Job) error {
			if caller == m.authority {
				return nil
			}
			if caller == job.Client && (job.Phase == models.PhaseSubmitted || job.Phase == models.PhaseFunded) {
				return nil
			}
			return xerrors.Errorf("%s may not cancel job %s in %s: %w", caller.Hex(), jobId, job.Phase, models.ErrUnauthorized)
		},
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			return m.finish(ctx, tx, job, escrow.PlanRefund)
		},
	})
}

// Fail ends a running or validating job as failed. A nil providerAmount
// refunds the client; otherwise the provider is paid that part.
func (m *Lifecycle) Fail(ctx context.Context, jobId string, providerAmount *big.Int, caller common.Address) (*models.Job, error) {
	plan := escrow.PlanRefund
	if providerAmount != nil {
		plan = escrow.PlanSplit(providerAmount)
	}
	return m.apply(ctx, jobId, caller, step{
		to: models.PhaseFailed,
		authorize: func(job *models.Job) error {
			if job.Phase != models.PhaseRunning && job.Phase != models.PhaseValidating {
				return xerrors.Errorf("fail job %s in %s: %w", jobId, job.Phase, models.ErrInvalidTransition)
			}
			return m.onlyAuthority(caller)(job)
		},
		effect: func(ctx context.Context, tx store.Txn, job *models.Job) error {
			job.Result = models.ResultFailure
			return m.finish(ctx, tx, job, plan)
		},
	})
}

// finish settles the escrow, if the job was funded, and frees the node, if
// one was assigned, counting the job on it.
func (m *Lifecycle) finish(ctx context.Context, tx store.Txn, job *models.Job, plan escrow.Plan) error {
	if job.Funded {
		if _, err := m.escrow.SettleTx(ctx, tx, job.JobId, plan); err != nil {
			return err
		}
	}
	if job.NodeId == "" {
		return nil
	}

	node, err := m.registry.ReleaseTx(ctx, tx, job.NodeId, job.JobId, func(n *models.ComputeNode) {
		reliability.Record(n, job)
	})
	if err != nil {
		return err
	}
	g := notify.Grant{EntityId: job.JobId, NodeId: node.NodeId, Endpoint: node.Endpoint, User: job.Client}
	tx.OnCommit(func() { notify.Send(context.Background(), m.notifier, false, g) })
	return nil
}

// Rate sets the job's quality score. Only the client may rate, once, after
// completion.
func (m *Lifecycle) Rate(ctx context.Context, jobId string, score uint8, caller common.Address) (*models.Job, error) {
	ctx, unlock, err := m.locks.Lock(ctx, Key(jobId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Job
	err = m.store.Update(ctx, func(tx store.Txn) error {
		job, err := m.getTx(tx, jobId)
		if err != nil {
			return err
		}
		if caller != job.Client {
			return xerrors.Errorf("%s is not the client of job %s: %w", caller.Hex(), jobId, models.ErrUnauthorized)
		}
		if job.Phase != models.PhaseCompleted {
			return xerrors.Errorf("rate job %s in %s: %w", jobId, job.Phase, models.ErrInvalidState)
		}
		if job.Rated {
			return xerrors.Errorf("job %s: %w", jobId, models.ErrAlreadyRated)
		}
		if score < constants.MIN_QUALITY_SCORE || score > constants.MAX_QUALITY_SCORE {
			return xerrors.Errorf("quality score %d: %w", score, models.ErrInvalidArgument)
		}
		job.QualityScore = score
		job.Rated = true
		if err := tx.Put(Key(jobId), job); err != nil {
			return err
		}
		out = job
		return nil
	})
	return out, err
}

func (m *Lifecycle) onlyClient(caller common.Address) func(*models.Job) error {
	return func(job *models.Job) error {
		if caller != job.Client {
			return xerrors.Errorf("%s is not the client of job %s: %w", caller.Hex(), job.JobId, models.ErrUnauthorized)
		}
		return nil
	}
}

func (m *Lifecycle) onlyProvider(caller common.Address) func(*models.Job) error {
	return func(job *models.Job) error {
		if job.NodeId == "" || caller != job.Provider {
			return xerrors.Errorf("%s is not the provider of job %s: %w", caller.Hex(), job.JobId, models.ErrUnauthorized)
		}
		return nil
	}
}

func (m *Lifecycle) onlyAuthority(caller common.Address) func(*models.Job) error {
	return func(job *models.Job) error {
		if caller != m.authority {
			return xerrors.Errorf("%s is not the market authority: %w", caller.Hex(), models.ErrUnauthorized)
		}
		return nil
	}
}

func checkPriority(p models.JobPriority) error {
	switch p {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
		return nil
	default:
		return xerrors.Errorf("priority %d: %w", int(p), models.ErrInvalidArgument)
	}
}
