package decoder

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

func usdc() map[common.Address]WatchedToken {
	addr := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	return map[common.Address]WatchedToken{
		addr: {Symbol: "USDC", Decimals: 6},
	}
}

func transferLog(address common.Address, topics []common.Hash, data []byte) types.Log {
	return types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		TxHash:      common.HexToHash("0xdeadbeef"),
		BlockHash:   common.HexToHash("0xc0ffee"),
		Index:       7,
	}
}

func TestDecodeTransfer_MatchesWatchedToken(t *testing.T) {
	watched := usdc()
	var addr common.Address
	for a := range watched {
		addr = a
	}

	from := common.BigToHash(big.NewInt(1))
	to := common.BigToHash(big.NewInt(2))
	data := make([]byte, 32)
	new(big.Int).SetInt64(2000000).FillBytes(data)

	lg := transferLog(addr, []common.Hash{TransferEventSignature, from, to}, data)

	tr, matched := DecodeTransfer(1, lg, watched, time.Unix(1700000000, 0).UTC())
	require.True(t, matched)
	require.Equal(t, "USDC", tr.TokenSymbol)
	require.EqualValues(t, 6, tr.TokenDecimals)
	require.Equal(t, int64(2000000), tr.Amount.Int64())
	require.Equal(t, common.HexToAddress("0x01").Bytes(), tr.FromAddress)
	require.Equal(t, common.HexToAddress("0x02").Bytes(), tr.ToAddress)
	require.Equal(t, int32(7), tr.LogIndex)
	require.Equal(t, int64(12345), tr.BlockNumber)
}

func TestDecodeTransfer_UnwatchedContractProducesNothing(t *testing.T) {
	watched := usdc()
	other := common.HexToAddress("0x000000000000000000000000000000000000ff")
	from := common.HexToHash("0x01")
	to := common.HexToHash("0x02")
	data := make([]byte, 32)

	lg := transferLog(other, []common.Hash{TransferEventSignature, from, to}, data)
	tr, matched := DecodeTransfer(1, lg, watched, time.Now())
	require.False(t, matched)
	require.Nil(t, tr)
}

func TestDecodeTransfer_WrongSignatureProducesNothing(t *testing.T) {
	watched := usdc()
	var addr common.Address
	for a := range watched {
		addr = a
	}
	wrongSig := crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	lg := transferLog(addr, []common.Hash{wrongSig, common.HexToHash("0x01"), common.HexToHash("0x02")}, make([]byte, 32))

	_, matched := DecodeTransfer(1, lg, watched, time.Now())
	require.False(t, matched)
}

func TestDecodeTransfer_WrongTopicCountProducesNothing(t *testing.T) {
	watched := usdc()
	var addr common.Address
	for a := range watched {
		addr = a
	}
	lg := transferLog(addr, []common.Hash{TransferEventSignature, common.HexToHash("0x01")}, make([]byte, 32))

	_, matched := DecodeTransfer(1, lg, watched, time.Now())
	require.False(t, matched)
}

func TestDecodeTransfer_ShortDataProducesNothing(t *testing.T) {
	watched := usdc()
	var addr common.Address
	for a := range watched {
		addr = a
	}
	lg := transferLog(addr, []common.Hash{TransferEventSignature, common.HexToHash("0x01"), common.HexToHash("0x02")}, make([]byte, 16))

	_, matched := DecodeTransfer(1, lg, watched, time.Now())
	require.False(t, matched)
}

func TestDecodeTransfer_NeverReturnsAFloat(t *testing.T) {
	// Guards spec.md's "no floating point on the ingest path" invariant:
	// Amount must stay *big.Int all the way through decode.
	watched := usdc()
	var addr common.Address
	for a := range watched {
		addr = a
	}
	data := make([]byte, 32)
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	huge.FillBytes(data)

	lg := transferLog(addr, []common.Hash{TransferEventSignature, common.HexToHash("0x01"), common.HexToHash("0x02")}, data)
	tr, matched := DecodeTransfer(1, lg, watched, time.Now())
	require.True(t, matched)
	require.Equal(t, huge.String(), tr.Amount.String())
	var _ *domain.Transfer = tr
}
