package registry

import (
	"context"
	"errors"

	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

// UpdateTx applies fn to the node inside tx. The caller must hold the node's
// lock on ctx.
func (r *Registry) UpdateTx(ctx context.Context, tx store.Txn, nodeId string, fn func(n *models.ComputeNode) error) (*models.ComputeNode, error) {
	if !keylock.Held(ctx, Key(nodeId)) {
		return nil, xerrors.Errorf("node %s touched without holding its lock", nodeId)
	}
	n := new(models.ComputeNode)
	if err := tx.Get(Key(nodeId), n); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("node %s: %w", nodeId, models.ErrNotFound)
		}
		return nil, err
	}
	if err := fn(n); err != nil {
		return nil, err
	}
	if err := tx.Put(Key(nodeId), n); err != nil {
		return nil, err
	}
	r.publish(tx, n)
	return n, nil
}

// AssignTx binds the node to a job or rental.
func (r *Registry) AssignTx(ctx context.Context, tx store.Txn, nodeId, assignment string) (*models.ComputeNode, error) {
	return r.UpdateTx(ctx, tx, nodeId, func(n *models.ComputeNode) error {
		if !n.Available || n.Assigned() || n.Deregistered {
			return xerrors.Errorf("node %s: %w", nodeId, models.ErrNodeUnavailable)
		}
		n.Assignment = assignment
		n.Available = false
		return nil
	})
}

// ReleaseTx unbinds the node from assignment. The node becomes available
// again unless its owner switched it off in the meantime. outcome, when
// non-nil, records the finished job on the node's counters.
func (r *Registry) ReleaseTx(ctx context.Context, tx store.Txn, nodeId, assignment string, outcome func(n *models.ComputeNode)) (*models.ComputeNode, error) {
	return r.UpdateTx(ctx, tx, nodeId, func(n *models.ComputeNode) error {
		if n.Assignment != assignment {
			return xerrors.Errorf("node %s is bound to %q, not %s: %w", nodeId, n.Assignment, assignment, models.ErrInvalidState)
		}
		n.Assignment = ""
		n.Available = !n.Disabled && !n.Deregistered
		if outcome != nil {
			outcome(n)
		}
		return nil
	})
}
