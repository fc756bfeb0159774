package account

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperdex/pkg/app/core/dexerr"
)

// Directory resolves the account that referred another one.
type Directory interface {
	ReferrerOf(addr common.Address) (common.Address, bool)
}

// StaticDirectory is a fixed referral map, loaded from configuration.
type StaticDirectory map[common.Address]common.Address

func (d StaticDirectory) ReferrerOf(addr common.Address) (common.Address, bool) {
	ref, ok := d[addr]
	return ref, ok
}

// ParseReferrals parses "child:referrer,child:referrer" pairs of hex
// addresses into a StaticDirectory.
func ParseReferrals(s string) (StaticDirectory, error) {
	dir := make(StaticDirectory)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		child, ref, ok := strings.Cut(entry, ":")
		if !ok || !common.IsHexAddress(child) || !common.IsHexAddress(ref) {
			return nil, fmt.Errorf("invalid referral %q: %w", entry, dexerr.ErrInvalidParam)
		}
		c, r := common.HexToAddress(child), common.HexToAddress(ref)
		if c == r {
			return nil, fmt.Errorf("account %s cannot refer itself: %w", c.Hex(), dexerr.ErrInvalidParam)
		}
		dir[c] = r
	}
	return dir, nil
}
