package server

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
)

type splitReq struct {
	PayeeAmount string `json:"payee_amount" binding:"required"`
}

type depositReq struct {
	Amount string `json:"amount" binding:"required"`
}

type accountView struct {
	Address common.Address `json:"address"`
	Balance string         `json:"balance"`
	Tokens  string         `json:"tokens"`
}

// releaseEscrow ends a rental at its metered price when the escrow belongs
// to one. Job escrows are settled through the job.
func (s *Server) releaseEscrow(c *gin.Context) {
	ctx, id := c.Request.Context(), c.Param("id")
	e, err := s.Escrow.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	if e.Managed && e.Kind == models.EscrowKindRental {
		if _, err := s.Rentals.Complete(ctx, id, caller(c)); err != nil {
			fail(c, err)
			return
		}
		s.respondEscrow(c)(s.Escrow.Get(id))
		return
	}
	s.respondEscrow(c)(s.Escrow.Release(ctx, id, caller(c)))
}

func (s *Server) refundEscrow(c *gin.Context) {
	s.respondEscrow(c)(s.Escrow.Refund(c.Request.Context(), c.Param("id"), caller(c)))
}

func (s *Server) splitEscrow(c *gin.Context) {
	var req splitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	amount, err := util.ParseAmount(req.PayeeAmount)
	if err != nil {
		badRequest(c, util.AmountError, err)
		return
	}
	s.respondEscrow(c)(s.Escrow.Split(c.Request.Context(), c.Param("id"), amount, caller(c)))
}

func (s *Server) getEscrow(c *gin.Context) {
	s.respondEscrow(c)(s.Escrow.Get(c.Param("id")))
}

func (s *Server) listEscrows(c *gin.Context) {
	var state *models.EscrowState
	if q := c.Query("state"); q != "" {
		var st models.EscrowState
		if err := st.UnmarshalText([]byte(q)); err != nil {
			badRequest(c, util.InvalidArgument, err)
			return
		}
		state = &st
	}
	escrows, err := s.Escrow.List(state)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, escrows)
}

func (s *Server) respondEscrow(c *gin.Context) func(*models.Escrow, error) {
	return func(e *models.Escrow, err error) {
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, e)
	}
}

// deposit credits the dev ledger. Only the authority may mint.
func (s *Server) deposit(c *gin.Context) {
	if caller(c) != s.authority() {
		fail(c, fmt.Errorf("deposit by %s: %w", caller(c).Hex(), models.ErrUnauthorized))
		return
	}
	if !common.IsHexAddress(c.Param("address")) {
		badRequest(c, util.AddressError, nil)
		return
	}
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	amount, err := util.ParseAmount(req.Amount)
	if err != nil {
		badRequest(c, util.AmountError, err)
		return
	}
	account := common.HexToAddress(c.Param("address"))
	if err := s.Funds.Deposit(c.Request.Context(), account, amount); err != nil {
		fail(c, err)
		return
	}
	s.respondAccount(c, account)
}

func (s *Server) getAccount(c *gin.Context) {
	if !common.IsHexAddress(c.Param("address")) {
		badRequest(c, util.AddressError, nil)
		return
	}
	s.respondAccount(c, common.HexToAddress(c.Param("address")))
}

func (s *Server) respondAccount(c *gin.Context, account common.Address) {
	balance, err := s.Funds.Balance(c.Request.Context(), account)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, accountView{Address: account, Balance: balance.String(), Tokens: util.FormatToken(balance)})
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.Funds.Accounts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{Address: a.Address, Balance: a.Balance.String(), Tokens: util.FormatToken(a.Balance)})
	}
	ok(c, views)
}
