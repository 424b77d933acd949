package wallet

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func openWallet(t *testing.T) *LocalWallet {
	ks, err := OpenOrInitKeystore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	return NewWallet(ks)
}

func TestWalletNewAndList(t *testing.T) {
	ctx := context.Background()
	w := openWallet(t)

	a, err := w.WalletNew(ctx)
	require.NoError(t, err)
	b, err := w.WalletNew(ctx)
	require.NoError(t, err)

	all, err := w.WalletList(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.Hex(), b.Hex()}, []string{all[0].Hex(), all[1].Hex()})

	require.NoError(t, w.WalletDelete(ctx, a))
	all, err = w.WalletList(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, b, all[0])
}

func TestWalletImportExport(t *testing.T) {
	ctx := context.Background()
	src := openWallet(t)
	addr, err := src.WalletNew(ctx)
	require.NoError(t, err)
	ki, err := src.WalletExport(ctx, addr)
	require.NoError(t, err)

	dst := openWallet(t)
	got, err := dst.WalletImport(ctx, ki)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	_, err = dst.WalletImport(ctx, ki)
	require.ErrorIs(t, err, ErrKeyExists)
	_, err = dst.WalletImport(ctx, &KeyInfo{})
	require.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	ctx := context.Background()
	w := openWallet(t)
	addr, err := w.WalletNew(ctx)
	require.NoError(t, err)

	msg := []byte("settle job-1")
	sig, err := w.WalletSign(ctx, addr, msg)
	require.NoError(t, err)
	require.True(t, Verify(addr, sig, msg))
	require.False(t, Verify(addr, sig, []byte("settle job-2")))

	// 27/28 style recovery byte
	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	require.True(t, Verify(addr, legacy, msg))

	_, err = Recover(msg, sig[:10])
	require.Error(t, err)
}

func TestSignRequest(t *testing.T) {
	ctx := context.Background()
	w := openWallet(t)
	addr, err := w.WalletNew(ctx)
	require.NoError(t, err)

	body := `{"duration":3600}`
	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/v1/market/rentals?x=1", strings.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, w.SignRequest(ctx, addr, req))

	require.Equal(t, addr.Hex(), req.Header.Get(HeaderAddress))
	ts, err := strconv.ParseInt(req.Header.Get(HeaderTimestamp), 10, 64)
	require.NoError(t, err)
	sig, err := hexutil.Decode(req.Header.Get(HeaderSignature))
	require.NoError(t, err)

	msg := RequestMessage(http.MethodPost, "/api/v1/market/rentals?x=1", ts, []byte(body))
	require.True(t, Verify(addr, sig, msg))

	_, err = w.WalletSign(ctx, common.HexToAddress("0x000000000000000000000000000000000000beef"), msg)
	require.ErrorIs(t, err, ErrKeyInfoNotFound)
}

