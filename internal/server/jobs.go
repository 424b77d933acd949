package server

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-computing-market/internal/lifecycle"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/util"
)

type assignReq struct {
	NodeId string `json:"node_id" binding:"required"`
}

type resultReq struct {
	OutputHash string `json:"output_hash"`
}

type completeReq struct {
	Result models.JobResult `json:"result"`
}

type disputeReq struct {
	Reason string `json:"reason"`
}

type resolveReq struct {
	Resolution     string `json:"resolution" binding:"required"`
	ProviderAmount string `json:"provider_amount"`
}

type failReq struct {
	ProviderAmount string `json:"provider_amount"`
}

type rateReq struct {
	Score uint8 `json:"score"`
}

func (s *Server) submitJob(c *gin.Context) {
	var spec models.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	s.respondJob(c)(s.Jobs.Submit(c.Request.Context(), caller(c), spec))
}

func (s *Server) fundJob(c *gin.Context) {
	s.respondJob(c)(s.Jobs.Fund(c.Request.Context(), c.Param("id"), caller(c)))
}

func (s *Server) assignJob(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	s.respondJob(c)(s.Jobs.Assign(c.Request.Context(), c.Param("id"), req.NodeId, caller(c)))
}

func (s *Server) startJob(c *gin.Context) {
	s.respondJob(c)(s.Jobs.Start(c.Request.Context(), c.Param("id"), caller(c)))
}

func (s *Server) submitResult(c *gin.Context) {
	var req resultReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	s.respondJob(c)(s.Jobs.SubmitResult(c.Request.Context(), c.Param("id"), req.OutputHash, caller(c)))
}

func (s *Server) completeJob(c *gin.Context) {
	req := completeReq{Result: models.ResultSuccess}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, util.JsonError, err)
			return
		}
	}
	s.respondJob(c)(s.Jobs.Complete(c.Request.Context(), c.Param("id"), req.Result, caller(c)))
}

func (s *Server) disputeJob(c *gin.Context) {
	var req disputeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	s.respondJob(c)(s.Jobs.Dispute(c.Request.Context(), c.Param("id"), req.Reason, caller(c)))
}

func (s *Server) resolveJob(c *gin.Context) {
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	resolution, err := lifecycle.ParseResolution(req.Resolution)
	if err != nil {
		badRequest(c, util.InvalidArgument, err)
		return
	}
	var amount *big.Int
	if resolution == lifecycle.ResolveSplit {
		if amount, err = util.ParseAmount(req.ProviderAmount); err != nil {
			badRequest(c, util.AmountError, err)
			return
		}
	}
	s.respondJob(c)(s.Jobs.Resolve(c.Request.Context(), c.Param("id"), resolution, amount, caller(c)))
}

func (s *Server) cancelJob(c *gin.Context) {
	s.respondJob(c)(s.Jobs.Cancel(c.Request.Context(), c.Param("id"), caller(c)))
}

func (s *Server) failJob(c *gin.Context) {
	var req failReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, util.JsonError, err)
			return
		}
	}
	var amount *big.Int
	if req.ProviderAmount != "" {
		var err error
		if amount, err = util.ParseAmount(req.ProviderAmount); err != nil {
			badRequest(c, util.AmountError, err)
			return
		}
	}
	s.respondJob(c)(s.Jobs.Fail(c.Request.Context(), c.Param("id"), amount, caller(c)))
}

func (s *Server) rateJob(c *gin.Context) {
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, util.JsonError, err)
		return
	}
	s.respondJob(c)(s.Jobs.Rate(c.Request.Context(), c.Param("id"), req.Score, caller(c)))
}

func (s *Server) respondJob(c *gin.Context) func(*models.Job, error) {
	return func(job *models.Job, err error) {
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, job)
	}
}

func (s *Server) getJob(c *gin.Context) {
	s.respondJob(c)(s.Jobs.Get(c.Param("id")))
}

func (s *Server) jobHistory(c *gin.Context) {
	if _, err := s.Jobs.Get(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	history, err := s.Jobs.History(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, history)
}

// listJobs serves ?client=, ?provider= or ?phase=.
func (s *Server) listJobs(c *gin.Context) {
	var (
		jobs []*models.Job
		err  error
	)
	client, provider, phase := c.Query("client"), c.Query("provider"), c.Query("phase")
	switch {
	case client != "":
		if !common.IsHexAddress(client) {
			badRequest(c, util.AddressError, nil)
			return
		}
		jobs, err = s.Jobs.ListByClient(common.HexToAddress(client))
	case provider != "":
		if !common.IsHexAddress(provider) {
			badRequest(c, util.AddressError, nil)
			return
		}
		jobs, err = s.Jobs.ListByProvider(common.HexToAddress(provider))
	case phase != "":
		p, perr := models.ParsePhase(phase)
		if perr != nil {
			badRequest(c, util.InvalidArgument, perr)
			return
		}
		jobs, err = s.Jobs.List(&p)
	default:
		jobs, err = s.Jobs.List(nil)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, jobs)
}
