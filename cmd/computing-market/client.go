package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lagrangedao/go-computing-market/util"
	"github.com/lagrangedao/go-computing-market/wallet"
	"github.com/urfave/cli/v2"
)

func repoPath(cctx *cli.Context) (string, error) {
	p := cctx.String(FlagMarketRepo)
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, p[1:])
	}
	return p, nil
}

func setupWallet(cctx *cli.Context) (*wallet.LocalWallet, error) {
	repo, err := repoPath(cctx)
	if err != nil {
		return nil, err
	}
	return wallet.SetupWallet(repo)
}

// marketClient calls the market api, signing mutating requests as from.
type marketClient struct {
	base   string
	from   common.Address
	wallet *wallet.LocalWallet
	http   *http.Client
}

// newReadClient can only query.
func newReadClient(cctx *cli.Context) *marketClient {
	return &marketClient{
		base: strings.TrimSuffix(cctx.String(FlagApi), "/") + "/api/v1/market",
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func newClient(cctx *cli.Context) (*marketClient, error) {
	c := newReadClient(cctx)
	if from := cctx.String(FlagFrom); from != "" {
		if !common.IsHexAddress(from) {
			return nil, fmt.Errorf("--%s %q is not an address", FlagFrom, from)
		}
		w, err := setupWallet(cctx)
		if err != nil {
			return nil, err
		}
		c.from = common.HexToAddress(from)
		c.wallet = w
	}
	return c, nil
}

func (c *marketClient) get(ctx context.Context, path string, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

func (c *marketClient) post(ctx context.Context, method, path string, body, out interface{}) error {
	if c.wallet == nil {
		return fmt.Errorf("--%s is required to sign requests", FlagFrom)
	}
	return c.call(ctx, method, path, body, out)
}

func (c *marketClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		if err := c.wallet.SignRequest(ctx, c.from, req); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		util.BasicResponse
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed decode %s %s response, status: %s, error: %w", method, path, resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s (code %d)", result.Message, result.Code)
	}
	if out != nil && len(result.Data) > 0 {
		return json.Unmarshal(result.Data, out)
	}
	return nil
}
