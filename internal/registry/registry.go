package registry

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/google/uuid"
	"github.com/lagrangedao/go-computing-market/constants"
	"github.com/lagrangedao/go-computing-market/internal/events"
	"github.com/lagrangedao/go-computing-market/internal/keylock"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/store"
	"golang.org/x/xerrors"
)

func Key(nodeId string) string {
	return constants.NODE_PREFIX + nodeId
}

// Registry tracks the nodes providers offer to the market.
type Registry struct {
	store  store.Store
	locks  *keylock.Locker
	clock  clock.Clock
	events events.Publisher
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) { r.events = p }
}

func New(st store.Store, locks *keylock.Locker, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		locks:  locks,
		clock:  clock.New(),
		events: events.Discard{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(ctx context.Context, owner common.Address, caps models.Capabilities, price *big.Int, endpoint string) (*models.ComputeNode, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, xerrors.Errorf("price per hour %v: %w", price, models.ErrInvalidArgument)
	}
	if caps.NodeType == "" {
		caps.NodeType = models.NodeTypeSSH
	}
	if !caps.NodeType.Valid() {
		return nil, xerrors.Errorf("node type %q: %w", caps.NodeType, models.ErrInvalidArgument)
	}
	if caps.CpuCores < 0 || caps.MemoryGB < 0 || caps.GpuCount < 0 {
		return nil, xerrors.Errorf("negative capability: %w", models.ErrInvalidArgument)
	}

	node := &models.ComputeNode{
		NodeId:       uuid.NewString(),
		Owner:        owner,
		Capabilities: caps,
		PricePerHour: new(big.Int).Set(price),
		Endpoint:     endpoint,
		Available:    true,
		RegisteredAt: r.clock.Now().Unix(),
	}
	err := r.store.Update(ctx, func(tx store.Txn) error {
		if err := tx.Put(Key(node.NodeId), node); err != nil {
			return err
		}
		r.publish(tx, node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logs.GetLogger().Infof("registered node %s of %s, type: %s, price: %s", node.NodeId, owner.Hex(), caps.NodeType, price)
	return node, nil
}

// SetAvailability is the owner's switch. A node serving a job or rental can
// be marked unavailable, which takes effect once it is released, but not
// marked available.
func (r *Registry) SetAvailability(ctx context.Context, nodeId string, available bool, caller common.Address) (*models.ComputeNode, error) {
	return r.ownerUpdate(ctx, nodeId, caller, func(n *models.ComputeNode) error {
		if n.Deregistered {
			return xerrors.Errorf("node %s is deregistered: %w", nodeId, models.ErrInvalidState)
		}
		if available && n.Assigned() {
			return xerrors.Errorf("node %s is bound to %s: %w", nodeId, n.Assignment, models.ErrInvalidState)
		}
		n.Disabled = !available
		n.Available = available && !n.Assigned()
		return nil
	})
}

// SetPrice changes the hourly price. It is refused while billing is running.
func (r *Registry) SetPrice(ctx context.Context, nodeId string, price *big.Int, caller common.Address) (*models.ComputeNode, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, xerrors.Errorf("price per hour %v: %w", price, models.ErrInvalidArgument)
	}
	return r.ownerUpdate(ctx, nodeId, caller, func(n *models.ComputeNode) error {
		if n.Assigned() {
			return xerrors.Errorf("node %s is bound to %s: %w", nodeId, n.Assignment, models.ErrInvalidState)
		}
		n.PricePerHour = new(big.Int).Set(price)
		return nil
	})
}

// Deregister retires the node for good. The record is kept.
func (r *Registry) Deregister(ctx context.Context, nodeId string, caller common.Address) (*models.ComputeNode, error) {
	return r.ownerUpdate(ctx, nodeId, caller, func(n *models.ComputeNode) error {
		if n.Assigned() {
			return xerrors.Errorf("node %s is bound to %s: %w", nodeId, n.Assignment, models.ErrInvalidState)
		}
		n.Deregistered = true
		n.Disabled = true
		n.Available = false
		return nil
	})
}

func (r *Registry) ownerUpdate(ctx context.Context, nodeId string, caller common.Address, fn func(n *models.ComputeNode) error) (*models.ComputeNode, error) {
	ctx, unlock, err := r.locks.Lock(ctx, Key(nodeId))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.ComputeNode
	err = r.store.Update(ctx, func(tx store.Txn) error {
		n, err := r.UpdateTx(ctx, tx, nodeId, func(n *models.ComputeNode) error {
			if n.Owner != caller {
				return xerrors.Errorf("%s does not own node %s: %w", caller.Hex(), nodeId, models.ErrUnauthorized)
			}
			return fn(n)
		})
		out = n
		return err
	})
	return out, err
}

func (r *Registry) Get(nodeId string) (*models.ComputeNode, error) {
	n := new(models.ComputeNode)
	if err := r.store.Get(Key(nodeId), n); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, xerrors.Errorf("node %s: %w", nodeId, models.ErrNotFound)
		}
		return nil, err
	}
	return n, nil
}

// List returns every node, oldest first.
func (r *Registry) List() ([]*models.ComputeNode, error) {
	return r.list(func(*models.ComputeNode) bool { return true })
}

func (r *Registry) ListByOwner(owner common.Address) ([]*models.ComputeNode, error) {
	return r.list(func(n *models.ComputeNode) bool { return n.Owner == owner })
}

// GetAvailable returns the available nodes matching filter.
func (r *Registry) GetAvailable(filter models.NodeFilter) ([]*models.ComputeNode, error) {
	return r.list(func(n *models.ComputeNode) bool { return n.Available && filter.Match(n) })
}

func (r *Registry) Stats() (*models.MarketStats, error) {
	nodes, err := r.List()
	if err != nil {
		return nil, err
	}
	stats := &models.MarketStats{TotalNodes: len(nodes)}
	var rated int
	var sum float64
	for _, n := range nodes {
		if n.Available {
			stats.AvailableNodes++
		}
		stats.TotalJobs += n.TotalJobs
		if n.TotalJobs > 0 {
			rated++
			sum += n.Reliability()
		}
	}
	if rated > 0 {
		stats.AvgReliability = sum / float64(rated)
	}
	return stats, nil
}

func (r *Registry) list(keep func(*models.ComputeNode) bool) ([]*models.ComputeNode, error) {
	var nodes []*models.ComputeNode
	err := r.store.Iterate(constants.NODE_PREFIX, func(key string, value []byte) error {
		n := new(models.ComputeNode)
		if err := store.Decode(value, n); err != nil {
			return err
		}
		if keep(n) {
			nodes = append(nodes, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].RegisteredAt != nodes[j].RegisteredAt {
			return nodes[i].RegisteredAt < nodes[j].RegisteredAt
		}
		return strings.Compare(nodes[i].NodeId, nodes[j].NodeId) < 0
	})
	return nodes, nil
}

func (r *Registry) publish(tx store.Txn, n *models.ComputeNode) {
	state := "available"
	switch {
	case n.Deregistered:
		state = "deregistered"
	case n.Assigned():
		state = "assigned"
	case !n.Available:
		state = "unavailable"
	}
	ev := events.Event{Type: constants.EVENT_NODE, Id: n.NodeId, State: state, Time: r.clock.Now().Unix(), Data: n}
	tx.OnCommit(func() { r.events.Publish(ev) })
}
