package models

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type NodeType string

const (
	NodeTypeSSH       NodeType = "ssh"
	NodeTypeTraining  NodeType = "training"
	NodeTypeEdge      NodeType = "edge"
	NodeTypeInference NodeType = "inference"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeSSH, NodeTypeTraining, NodeTypeEdge, NodeTypeInference:
		return true
	}
	return false
}

type Capabilities struct {
	NodeType NodeType `json:"node_type" yaml:"node_type"`
	CpuCores int      `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryGB int      `json:"memory_gb" yaml:"memory_gb"`
	GpuCount int      `json:"gpu_count" yaml:"gpu_count"`
	GpuType  string   `json:"gpu_type" yaml:"gpu_type"`
}

// ComputeNode is a machine offered by a provider. Nodes are never deleted;
// a deregistered node stays on record with Available=false.
type ComputeNode struct {
	NodeId         string         `json:"node_id"`
	Owner          common.Address `json:"owner"`
	Capabilities   Capabilities   `json:"capabilities"`
	PricePerHour   *big.Int       `json:"price_per_hour"`
	Endpoint       string         `json:"endpoint"`
	Available      bool           `json:"available"`
	Disabled       bool           `json:"disabled"`
	Deregistered   bool           `json:"deregistered"`
	Assignment     string         `json:"assignment,omitempty"`
	TotalJobs      uint64         `json:"total_jobs"`
	SuccessfulJobs uint64         `json:"successful_jobs"`
	RegisteredAt   int64          `json:"registered_at"`
}

// Assigned reports whether a job or rental is currently bound to the node.
func (n *ComputeNode) Assigned() bool {
	return n.Assignment != ""
}

// Reliability is successful_jobs / total_jobs, zero for a node without history.
func (n *ComputeNode) Reliability() float64 {
	if n.TotalJobs == 0 {
		return 0
	}
	return float64(n.SuccessfulJobs) / float64(n.TotalJobs)
}

// NodeFilter selects nodes in GetAvailable. Zero fields match everything.
type NodeFilter struct {
	NodeType    NodeType `form:"node_type" json:"node_type"`
	GpuType     string   `form:"gpu_type" json:"gpu_type"`
	MinCpuCores int      `form:"min_cpu" json:"min_cpu"`
	MinMemoryGB int      `form:"min_memory" json:"min_memory"`
	MinGpuCount int      `form:"min_gpu" json:"min_gpu"`
}

func (f NodeFilter) Match(n *ComputeNode) bool {
	c := n.Capabilities
	if f.NodeType != "" && c.NodeType != f.NodeType {
		return false
	}
	if f.GpuType != "" && !strings.EqualFold(c.GpuType, f.GpuType) {
		return false
	}
	return c.CpuCores >= f.MinCpuCores && c.MemoryGB >= f.MinMemoryGB && c.GpuCount >= f.MinGpuCount
}

type MarketStats struct {
	TotalNodes     int     `json:"total_nodes"`
	AvailableNodes int     `json:"available_nodes"`
	TotalJobs      uint64  `json:"total_jobs"`
	AvgReliability float64 `json:"avg_reliability"`
}
