// Package tokens resolves configured watched contract addresses into the
// per-chain map the transfer decoder consumes.
package tokens

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// BuildWatched resolves a chain's configured tokens into an
// address -> (symbol, decimals) map, keyed by the lowercase-normalized
// common.Address form go-ethereum uses internally.
func BuildWatched(chain config.ChainConfig) map[common.Address]domain.TokenMeta {
	watched := make(map[common.Address]domain.TokenMeta, len(chain.Tokens))
	for _, t := range chain.Tokens {
		if !strings.HasPrefix(t.Address, "0x") && !strings.HasPrefix(t.Address, "0X") {
			continue
		}
		addr := common.HexToAddress(t.Address)
		watched[addr] = domain.TokenMeta{Symbol: t.Symbol, Decimals: t.Decimals}
	}
	return watched
}

// Addresses returns the watched map's keys as a slice, the shape
// ethereum.FilterQuery expects.
func Addresses(watched map[common.Address]domain.TokenMeta) []common.Address {
	addrs := make([]common.Address, 0, len(watched))
	for a := range watched {
		addrs = append(addrs, a)
	}
	return addrs
}
