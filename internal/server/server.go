package server

import (
	"context"
	"math/big"
	"net/http"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	cors "github.com/itsjamie/gin-cors"
	"github.com/lagrangedao/go-computing-market/build"
	"github.com/lagrangedao/go-computing-market/internal/escrow"
	"github.com/lagrangedao/go-computing-market/internal/events"
	"github.com/lagrangedao/go-computing-market/internal/ledger"
	"github.com/lagrangedao/go-computing-market/internal/lifecycle"
	"github.com/lagrangedao/go-computing-market/internal/models"
	"github.com/lagrangedao/go-computing-market/internal/registry"
	"github.com/lagrangedao/go-computing-market/internal/rental"
	"github.com/lagrangedao/go-computing-market/util"
)

// Funds is the account side of the dev ledger.
type Funds interface {
	Deposit(ctx context.Context, account common.Address, amount *big.Int) error
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Accounts(ctx context.Context) ([]*ledger.Account, error)
}

type Server struct {
	Registry *registry.Registry
	Jobs     *lifecycle.Lifecycle
	Rentals  *rental.Service
	Escrow   *escrow.Ledger
	Funds    Funds
	Hub      *events.Hub

	// VerifySignature requires signed requests. Without it X-Address is trusted.
	VerifySignature bool
	SignatureTTL    time.Duration
	Clock           clock.Clock
}

func (s *Server) authority() common.Address {
	return s.Escrow.Authority()
}

func (s *Server) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// Router builds the gin engine serving the market api under /api/v1/market.
func (s *Server) Router(enablePprof bool) *gin.Engine {
	r := gin.Default()
	r.Use(cors.Middleware(cors.Config{
		Origins:         "*",
		Methods:         "GET, PUT, POST, DELETE",
		RequestHeaders:  "Origin, Authorization, Content-Type, X-Address, X-Timestamp, X-Signature",
		ExposedHeaders:  "",
		MaxAge:          50 * time.Second,
		ValidateHeaders: false,
	}))
	if enablePprof {
		pprof.Register(r)
	}

	v1 := r.Group("/api/v1")
	s.marketManager(v1.Group("/market"))
	return r
}

func (s *Server) marketManager(router *gin.RouterGroup) {
	router.GET("/host/info", s.hostInfo)
	router.GET("/stats", s.stats)
	router.GET("/events", gin.WrapF(s.Hub.Serve))

	router.GET("/nodes", s.listNodes)
	router.GET("/nodes/:id", s.getNode)
	router.GET("/jobs", s.listJobs)
	router.GET("/jobs/:id", s.getJob)
	router.GET("/jobs/:id/history", s.jobHistory)
	router.GET("/rentals", s.listRentals)
	router.GET("/rentals/:id", s.getRental)
	router.GET("/escrows", s.listEscrows)
	router.GET("/escrows/:id", s.getEscrow)
	router.GET("/accounts", s.listAccounts)
	router.GET("/accounts/:address", s.getAccount)

	signed := router.Group("", s.callerAuth())
	signed.POST("/nodes", s.registerNode)
	signed.PUT("/nodes/:id/availability", s.setAvailability)
	signed.PUT("/nodes/:id/price", s.setPrice)
	signed.DELETE("/nodes/:id", s.deregisterNode)

	signed.POST("/jobs", s.submitJob)
	signed.POST("/jobs/:id/fund", s.fundJob)
	signed.POST("/jobs/:id/assign", s.assignJob)
	signed.POST("/jobs/:id/start", s.startJob)
	signed.POST("/jobs/:id/result", s.submitResult)
	signed.POST("/jobs/:id/complete", s.completeJob)
	signed.POST("/jobs/:id/dispute", s.disputeJob)
	signed.POST("/jobs/:id/resolve", s.resolveJob)
	signed.POST("/jobs/:id/cancel", s.cancelJob)
	signed.POST("/jobs/:id/fail", s.failJob)
	signed.POST("/jobs/:id/rate", s.rateJob)

	signed.POST("/rentals", s.rent)
	signed.POST("/rentals/:id/complete", s.completeRental)

	signed.POST("/escrows/:id/release", s.releaseEscrow)
	signed.POST("/escrows/:id/refund", s.refundEscrow)
	signed.POST("/escrows/:id/split", s.splitEscrow)

	signed.POST("/accounts/:address/deposit", s.deposit)
}

func (s *Server) hostInfo(c *gin.Context) {
	info := models.HostInfo{
		Version:         build.UserVersion(),
		OperatingSystem: runtime.GOOS,
		Architecture:    runtime.GOARCH,
		CPUCores:        runtime.NumCPU(),
		Authority:       s.authority().Hex(),
	}
	c.JSON(http.StatusOK, util.CreateSuccessResponse(info))
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.Registry.Stats()
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, util.CreateSuccessResponse(data))
}

func fail(c *gin.Context, err error) {
	code, status := util.ErrorCode(err)
	if status == http.StatusInternalServerError {
		logs.GetLogger().Errorf("Failed %s %s, error: %+v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, util.CreateErrorResponse(code, err.Error()))
}

func badRequest(c *gin.Context, code int, err error) {
	if err == nil {
		c.JSON(http.StatusBadRequest, util.CreateErrorResponse(code))
		return
	}
	c.JSON(http.StatusBadRequest, util.CreateErrorResponse(code, err.Error()))
}
