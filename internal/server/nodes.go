package server

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
)

type registerNodeReq struct {
	Capabilities models.Capabilities `json:"capabilities"`
	PricePerHour string              `json:"price_per_hour" binding:"required"`
	Endpoint     string              `json:"endpoint"`
}

type availabilityReq struct {
	Available bool `json:"available"`
}

type priceReq struct {
	PricePerHour string `json:"price_per_hour" binding:"required"`
}

func (s *Server) registerNode(c *gin.Context) {
	var req registerNodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	price, err := util.ParseAmount(req.PricePerHour)
	if err != nil {
		badRequest(c, util.AmountError, err)
		return
	}
	node, err := s.Registry.Register(c.Request.Context(), caller(c), req.Capabilities, price, req.Endpoint)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, node)
}

func (s *Server) setAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	node, err := s.Registry.SetAvailability(c.Request.Context(), c.Param("id"), req.Available, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, node)
}

func (s *Server) setPrice(c *gin.Context) {
	var req priceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	price, err := util.ParseAmount(req.PricePerHour)
	if err != nil {
		badRequest(c, util.AmountError, err)
		return
	}
	node, err := s.Registry.SetPrice(c.Request.Context(), c.Param("id"), price, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, node)
}

func (s *Server) deregisterNode(c *gin.Context) {
	node, err := s.Registry.Deregister(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, node)
}

func (s *Server) getNode(c *gin.Context) {
	node, err := s.Registry.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, nodeView{node, node.Reliability()})
}

// listNodes serves ?owner=, or ?available=true with the NodeFilter fields.
func (s *Server) listNodes(c *gin.Context) {
	var (
		nodes []*models.ComputeNode
		err   error
	)
	available, _ := strconv.ParseBool(c.Query("available"))
	switch owner := c.Query("owner"); {
	case owner != "":
		if !common.IsHexAddress(owner) {
			badRequest(c, util.AddressError, nil)
			return
		}
		nodes, err = s.Registry.ListByOwner(common.HexToAddress(owner))
	case available:
		var filter models.NodeFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			badRequest(c, util.JsonError, err)
			return
		}
		nodes, err = s.Registry.GetAvailable(filter)
	default:
		nodes, err = s.Registry.List()
	}
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, nodeView{n, n.Reliability()})
	}
	ok(c, views)
}

type nodeView struct {
	*models.ComputeNode
	Reliability float64 `json:"reliability"`
}
