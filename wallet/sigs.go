package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Headers carrying a signed request.
const (
	HeaderAddress   = "X-Address"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// Sign signs keccak256(msg) with a hex encoded private key.
func Sign(privatekey string, msg []byte) ([]byte, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privatekey, "0x"))
	if err != nil {
		return nil, err
	}
	return crypto.Sign(crypto.Keccak256Hash(msg).Bytes(), privateKey)
}

// Recover returns the address that signed msg.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	// accept wallets that put 27/28 in the recovery byte
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256Hash(msg).Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over msg was made by addr.
func Verify(addr common.Address, sig []byte, msg []byte) bool {
	signer, err := Recover(msg, sig)
	return err == nil && signer == addr
}

// RequestMessage is what a caller signs for one http request.
func RequestMessage(method, path string, timestamp int64, body []byte) []byte {
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s", method, path, timestamp, hexutil.Encode(crypto.Keccak256(body))))
}

// ToPublic converts private key to public key
func ToPublic(priv string) (string, *ecdsa.PublicKey, error) {
	priv = strings.TrimPrefix(strings.TrimSpace(priv), "0x")
	if priv == "" {
		return "", nil, fmt.Errorf("invalid private key")
	}

	privateKey, err := crypto.HexToECDSA(priv)
	if err != nil {
		return "", nil, err
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", nil, fmt.Errorf("cannot assert type: publicKey is not of type *ecdsa.PublicKey")
	}

	publicK := hexutil.Encode(crypto.FromECDSAPub(publicKeyECDSA))[4:]
	return publicK, publicKeyECDSA, nil
}
