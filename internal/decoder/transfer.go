// Package decoder turns a raw EVM log into a typed ERC-20 transfer when it
// matches a watched contract and the Transfer(address,address,uint256)
// signature. The decoder is pure and stateless: malformed or non-matching
// logs produce nothing, never an error.
package decoder

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// TransferEventSignature is keccak256("Transfer(address,address,uint256)").
var TransferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// WatchedToken is the per-chain map of watched contract address to its
// resolved metadata, built by the tokens registry.
type WatchedToken = domain.TokenMeta

// DecodeTransfer decodes a single log into a Transfer. It returns (nil,
// false) for any log that does not match a watched token or the Transfer
// signature shape — never an error.
func DecodeTransfer(chainID int64, log types.Log, watched map[common.Address]WatchedToken, blockTimestamp time.Time) (*domain.Transfer, bool) {
	meta, ok := watched[log.Address]
	if !ok {
		return nil, false
	}
	if len(log.Topics) != 3 {
		return nil, false
	}
	if log.Topics[0] != TransferEventSignature {
		return nil, false
	}
	if len(log.Data) < 32 {
		return nil, false
	}

	from := common.BytesToAddress(log.Topics[1].Bytes())
	to := common.BytesToAddress(log.Topics[2].Bytes())
	amount := new(big.Int).SetBytes(log.Data[:32])

	t := &domain.Transfer{
		ChainID:        chainID,
		BlockNumber:    int64(log.BlockNumber),
		BlockHash:      log.BlockHash.Bytes(),
		TxHash:         log.TxHash.Bytes(),
		LogIndex:       int32(log.Index),
		TokenAddress:   log.Address.Bytes(),
		FromAddress:    from.Bytes(),
		ToAddress:      to.Bytes(),
		Amount:         amount,
		TokenSymbol:    meta.Symbol,
		TokenDecimals:  int16(meta.Decimals),
		BlockTimestamp: blockTimestamp,
	}
	return t, true
}
