package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/lagrangedao/go-computing-market/wallet"
)

const callerKey = "caller"

// callerAuth resolves the calling address of a mutating request and stores
// it on the gin context.
// A verified request is accepted once; a replay within the signature TTL is
// refused.
func (s *Server) callerAuth() gin.HandlerFunc {
	seen := newSeenRequests(s.signatureTTL())
	return func(c *gin.Context) {
		header := c.GetHeader(wallet.HeaderAddress)
		if !common.IsHexAddress(header) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, util.CreateErrorResponse(util.AddressError))
			return
		}
		addr := common.HexToAddress(header)

		if s.VerifySignature {
			if code, err := s.checkSignature(c, addr, seen); err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, util.CreateErrorResponse(code, err.Error()))
				return
			}
		}

		c.Set(callerKey, addr)
		c.Next()
	}
}

func (s *Server) signatureTTL() time.Duration {
	if s.SignatureTTL <= 0 {
		return 5 * time.Minute
	}
	return s.SignatureTTL
}

func (s *Server) checkSignature(c *gin.Context, addr common.Address, seen *seenRequests) (int, error) {
	ts, err := strconv.ParseInt(c.GetHeader(wallet.HeaderTimestamp), 10, 64)
	if err != nil {
		return util.SignatureError, fmt.Errorf("bad %s header", wallet.HeaderTimestamp)
	}
	ttl := s.signatureTTL()
	age := s.now().Sub(time.Unix(ts, 0))
	if age > ttl || age < -ttl {
		return util.SignatureExpired, fmt.Errorf("signature timestamp %d outside %s", ts, ttl)
	}

	sig, err := hexutil.Decode(c.GetHeader(wallet.HeaderSignature))
	if err != nil {
		return util.SignatureError, fmt.Errorf("bad %s header: %w", wallet.HeaderSignature, err)
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			return util.SignatureError, err
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}

	msg := wallet.RequestMessage(c.Request.Method, c.Request.URL.RequestURI(), ts, body)
	if !wallet.Verify(addr, sig, msg) {
		return util.SignatureError, fmt.Errorf("signature does not match %s", addr.Hex())
	}
	// keyed by the signed message: a malleated signature of it is the same request
	if !seen.firstUse(addr.Hex() + hexutil.Encode(crypto.Keccak256(msg))) {
		return util.SignatureReplayed, fmt.Errorf("request signed at %d was already accepted", ts)
	}
	return 0, nil
}

func caller(c *gin.Context) common.Address {
	return c.MustGet(callerKey).(common.Address)
}
