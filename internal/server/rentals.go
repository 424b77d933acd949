package server

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
)

type rentReq struct {
	NodeId string `json:"node_id" binding:"required"`
	// Duration in seconds.
	Duration int64 `json:"duration" binding:"required"`
}

func (s *Server) rent(c *gin.Context) {
	var req rentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	r, err := s.Rentals.Rent(c.Request.Context(), req.NodeId, caller(c), req.Duration)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, r)
}

func (s *Server) completeRental(c *gin.Context) {
	r, err := s.Rentals.Complete(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, r)
}

func (s *Server) getRental(c *gin.Context) {
	r, err := s.Rentals.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, r)
}

// listRentals serves ?renter= or ?active=true.
func (s *Server) listRentals(c *gin.Context) {
	var (
		rentals []*models.Rental
		err     error
	)
	active, _ := strconv.ParseBool(c.Query("active"))
	switch renter := c.Query("renter"); {
	case renter != "":
		if !common.IsHexAddress(renter) {
			badRequest(c, util.AddressError, nil)
			return
		}
		rentals, err = s.Rentals.ListByRenter(common.HexToAddress(renter))
	case active:
		rentals, err = s.Rentals.ListActive()
	default:
		rentals, err = s.Rentals.List()
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rentals)
}
