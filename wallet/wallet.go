package wallet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/xerrors"
)

const (
	WalletRepo  = "keystore"
	KNamePrefix = "wallet-"
)

var (
	ErrKeyInfoNotFound = fmt.Errorf("key info not found")
	ErrKeyExists       = fmt.Errorf("key already exists")
)

// SetupWallet opens the keystore kept under the market repo.
func SetupWallet(repoPath string) (*LocalWallet, error) {
	kstore, err := OpenOrInitKeystore(filepath.Join(repoPath, WalletRepo))
	if err != nil {
		return nil, err
	}
	return NewWallet(kstore), nil
}

type LocalWallet struct {
	keys     map[common.Address]*KeyInfo
	keystore KeyStore

	lk sync.Mutex
}

func NewWallet(keystore KeyStore) *LocalWallet {
	return &LocalWallet{
		keys:     make(map[common.Address]*KeyInfo),
		keystore: keystore,
	}
}

func (w *LocalWallet) WalletSign(ctx context.Context, addr common.Address, msg []byte) ([]byte, error) {
	ki, err := w.findKey(addr)
	if err != nil {
		return nil, err
	}
	if ki == nil {
		return nil, xerrors.Errorf("signing using private key '%s': %w", addr, ErrKeyInfoNotFound)
	}
	return Sign(ki.PrivateKey, msg)
}

// SignRequest sets the signature headers on req as addr. The body is read and
// put back.
func (w *LocalWallet) SignRequest(ctx context.Context, addr common.Address, req *http.Request) error {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		req.Body.Close()
		body = b
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	ts := time.Now().Unix()
	sig, err := w.WalletSign(ctx, addr, RequestMessage(req.Method, req.URL.RequestURI(), ts, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAddress, addr.Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

func (w *LocalWallet) findKey(addr common.Address) (*KeyInfo, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	k, ok := w.keys[addr]
	if ok {
		return k, nil
	}

	ki, err := w.keystore.Get(KNamePrefix + addr.Hex())
	if err != nil {
		if xerrors.Is(err, ErrKeyInfoNotFound) {
			return nil, nil
		}
		return nil, xerrors.Errorf("getting from keystore: %w", err)
	}

	w.keys[addr] = &ki
	return &ki, nil
}

func (w *LocalWallet) WalletExport(ctx context.Context, addr common.Address) (*KeyInfo, error) {
	k, err := w.findKey(addr)
	if err != nil {
		return nil, xerrors.Errorf("failed to find key to export: %w", err)
	}
	if k == nil {
		return nil, xerrors.Errorf("private key not found for %s", addr)
	}
	return k, nil
}

func (w *LocalWallet) WalletImport(ctx context.Context, ki *KeyInfo) (common.Address, error) {
	if ki == nil || len(strings.TrimSpace(ki.PrivateKey)) == 0 {
		return common.Address{}, fmt.Errorf("not found private key")
	}

	_, publicKeyECDSA, err := ToPublic(ki.PrivateKey)
	if err != nil {
		return common.Address{}, err
	}

	address := crypto.PubkeyToAddress(*publicKeyECDSA)
	existing, err := w.findKey(address)
	if err != nil {
		return common.Address{}, err
	}
	if existing != nil {
		return address, xerrors.Errorf("import %s: %w", address, ErrKeyExists)
	}

	key := KeyInfo{PrivateKey: strings.TrimPrefix(strings.TrimSpace(ki.PrivateKey), "0x")}
	if err := w.keystore.Put(KNamePrefix+address.Hex(), key); err != nil {
		return common.Address{}, xerrors.Errorf("saving to keystore: %w", err)
	}
	return address, nil
}

func (w *LocalWallet) WalletNew(ctx context.Context) (common.Address, error) {
	w.lk.Lock()
	defer w.lk.Unlock()

	privateK, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}

	privateKey := hexutil.Encode(crypto.FromECDSA(privateK))[2:]
	address := crypto.PubkeyToAddress(privateK.PublicKey)

	keyInfo := KeyInfo{PrivateKey: privateKey}
	if err := w.keystore.Put(KNamePrefix+address.Hex(), keyInfo); err != nil {
		return common.Address{}, xerrors.Errorf("saving to keystore: %w", err)
	}
	w.keys[address] = &keyInfo

	return address, nil
}

func (w *LocalWallet) WalletDelete(ctx context.Context, addr common.Address) error {
	k, err := w.findKey(addr)
	if err != nil {
		return xerrors.Errorf("failed to delete key %s : %w", addr, err)
	}
	if k == nil {
		return nil // already not there
	}

	w.lk.Lock()
	defer w.lk.Unlock()

	if err := w.keystore.Delete(KNamePrefix + addr.Hex()); err != nil {
		return xerrors.Errorf("failed to delete key %s: %w", addr, err)
	}
	delete(w.keys, addr)
	return nil
}

func (w *LocalWallet) WalletList(ctx context.Context) ([]common.Address, error) {
	all, err := w.keystore.List()
	if err != nil {
		return nil, xerrors.Errorf("listing keystore: %w", err)
	}

	addressList := make([]common.Address, 0, len(all))
	for _, a := range all {
		if strings.HasPrefix(a, KNamePrefix) {
			addressList = append(addressList, common.HexToAddress(strings.TrimPrefix(a, KNamePrefix)))
		}
	}
	sort.Slice(addressList, func(i, j int) bool {
		return addressList[i].Hex() < addressList[j].Hex()
	})
	return addressList, nil
}
