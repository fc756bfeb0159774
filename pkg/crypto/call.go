package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
	"github.com/uhyunpark/hyperdex/pkg/app/core/transaction"
)

// callDomain separates call digests from any other keccak input.
const callDomain = "hyperdex.call.v1"

// CallDigest is the hash a signer commits to: the call id, its type and
// the exact payload bytes. Signers are not covered since they are what
// the signatures establish.
func CallDigest(c *transaction.Call) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(callDomain), []byte{0},
		[]byte(c.ID), []byte{0},
		[]byte(c.Type), []byte{0},
		c.Payload,
	)
}

// SignCall signs the call digest.
func (s *Signer) SignCall(c *transaction.Call) ([]byte, error) {
	return s.Sign(CallDigest(c).Bytes())
}

// SignCallHex is SignCall rendered as 0x-prefixed hex.
func (s *Signer) SignCallHex(c *transaction.Call) (string, error) {
	sig, err := s.SignCall(c)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverCallSigners returns the account behind each hex signature.
func RecoverCallSigners(c *transaction.Call, signatures []string) ([]common.Address, error) {
	digest := CallDigest(c).Bytes()
	out := make([]common.Address, 0, len(signatures))
	for i, s := range signatures {
		sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("signature %d: %v: %w", i, err, dexerr.ErrInvalidParam)
		}
		addr, err := RecoverAddress(digest, sig)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %v: %w", i, err, dexerr.ErrUnauthorized)
		}
		out = append(out, addr)
	}
	return out, nil
}
