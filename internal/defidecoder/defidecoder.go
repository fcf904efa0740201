// Package defidecoder matches a log's topic0 against a fixed set of ten
// DeFi protocol event signatures (Uniswap V2/V3, Curve, Aave V3, Compound
// V3) and produces a normalized DefiEvent. The decoder is pure and
// stateless; unknown signatures produce nothing.
package defidecoder

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// Signature hashes for the ten watched DeFi event shapes.
var (
	sigUniswapV2Swap = crypto.Keccak256Hash([]byte(
		"Swap(address,uint256,uint256,uint256,uint256,address)"))
	sigUniswapV3Swap = crypto.Keccak256Hash([]byte(
		"Swap(address,address,int256,int256,uint160,uint128,int24)"))
	sigCurveTokenExchange = crypto.Keccak256Hash([]byte(
		"TokenExchange(address,int128,uint256,int128,uint256)"))
	sigAaveSupply = crypto.Keccak256Hash([]byte(
		"Supply(address,address,address,uint256,uint16)"))
	sigAaveBorrow = crypto.Keccak256Hash([]byte(
		"Borrow(address,address,address,uint256,uint8,uint256,uint16)"))
	sigAaveRepay = crypto.Keccak256Hash([]byte(
		"Repay(address,address,address,uint256,bool)"))
	sigAaveLiquidationCall = crypto.Keccak256Hash([]byte(
		"LiquidationCall(address,address,address,uint256,uint256,address,bool)"))
	sigCometSupply = crypto.Keccak256Hash([]byte(
		"Supply(address,address,uint256)"))
	sigCometWithdraw = crypto.Keccak256Hash([]byte(
		"Withdraw(address,address,uint256)"))
	sigCometAbsorbCollateral = crypto.Keccak256Hash([]byte(
		"AbsorbCollateral(address,address,address,uint256,uint256)"))
)

// argsOf builds an abi.Arguments list of plain (non-indexed) types, used to
// unpack each event's data payload.
func argsOf(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		ty, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err) // static, compile-time-known types; cannot fail
		}
		args[i] = abi.Argument{Type: ty}
	}
	return args
}

var (
	uniswapV2SwapData = argsOf("uint256", "uint256", "uint256", "uint256")
	uniswapV3SwapData = argsOf("int256", "int256", "uint160", "uint128", "int24")
	curveExchangeData = argsOf("int128", "uint256", "int128", "uint256")
	aaveSupplyData    = argsOf("address", "uint256")
	aaveBorrowData    = argsOf("address", "uint256", "uint8", "uint256")
	aaveRepayData     = argsOf("uint256", "bool")
	aaveLiquidationData = argsOf("uint256", "uint256", "address", "bool")
	cometAmountData   = argsOf("uint256")
	cometAbsorbData   = argsOf("uint256", "uint256")
)

// Decode dispatches on log.Topics[0] and produces a normalized DefiEvent.
// Returns (nil, false) for unrecognized signatures or malformed payloads.
func Decode(chainID int64, log types.Log, blockTimestamp int64) (*domain.DefiEvent, bool) {
	if len(log.Topics) == 0 {
		return nil, false
	}

	base := domain.DefiEvent{
		ChainID:     chainID,
		BlockNumber: int64(log.BlockNumber),
		BlockHash:   log.BlockHash.Bytes(),
		TxHash:      log.TxHash.Bytes(),
		LogIndex:    int32(log.Index),
	}
	base.BlockTimestamp = timeFromUnix(blockTimestamp)

	switch log.Topics[0] {
	case sigUniswapV2Swap:
		return decodeUniswapV2Swap(base, log)
	case sigUniswapV3Swap:
		return decodeUniswapV3Swap(base, log)
	case sigCurveTokenExchange:
		return decodeCurveTokenExchange(base, log)
	case sigAaveSupply:
		return decodeAaveSupply(base, log)
	case sigAaveBorrow:
		return decodeAaveBorrow(base, log)
	case sigAaveRepay:
		return decodeAaveRepay(base, log)
	case sigAaveLiquidationCall:
		return decodeAaveLiquidationCall(base, log)
	case sigCometSupply:
		return decodeCometSupply(base, log)
	case sigCometWithdraw:
		return decodeCometWithdraw(base, log)
	case sigCometAbsorbCollateral:
		return decodeCometAbsorbCollateral(base, log)
	default:
		return nil, false
	}
}

func decodeUniswapV2Swap(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 3 || len(log.Data) < 128 {
		return nil, false
	}
	vals, err := uniswapV2SwapData.Unpack(log.Data)
	if err != nil || len(vals) != 4 {
		return nil, false
	}
	amount0In := vals[0].(*big.Int)
	amount1In := vals[1].(*big.Int)
	amount0Out := vals[2].(*big.Int)
	amount1Out := vals[3].(*big.Int)

	ev.Protocol = "uniswap_v2"
	ev.EventType = "swap"
	sender := common.BytesToAddress(log.Topics[1].Bytes())
	ev.Account = sender.Bytes()

	// The non-zero amountNIn is the in-side; pair with the opposite side's
	// amountMOut. Token addresses are not resolved here: this is the pair
	// contract, not the underlying tokens.
	if amount0In.Sign() != 0 {
		ev.AmountIn = amount0In
		ev.AmountOut = amount1Out
	} else {
		ev.AmountIn = amount1In
		ev.AmountOut = amount0Out
	}

	raw := map[string]string{
		"sender":      sender.Hex(),
		"to":          common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		"amount0_in":  amount0In.String(),
		"amount1_in":  amount1In.String(),
		"amount0_out": amount0Out.String(),
		"amount1_out": amount1Out.String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeUniswapV3Swap(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 3 || len(log.Data) < 160 {
		return nil, false
	}
	vals, err := uniswapV3SwapData.Unpack(log.Data)
	if err != nil || len(vals) != 5 {
		return nil, false
	}
	amount0 := vals[0].(*big.Int)
	amount1 := vals[1].(*big.Int)
	sqrtPriceX96 := vals[2].(*big.Int)
	liquidity := vals[3].(*big.Int)
	tick := vals[4].(*big.Int)

	ev.Protocol = "uniswap_v3"
	ev.EventType = "swap"
	sender := common.BytesToAddress(log.Topics[1].Bytes())
	ev.Account = sender.Bytes()

	// Signed amount0/amount1: the positive side is in (pool-received),
	// negated other side is out.
	if amount0.Sign() > 0 {
		ev.AmountIn = new(big.Int).Set(amount0)
		ev.AmountOut = new(big.Int).Neg(amount1)
	} else {
		ev.AmountIn = new(big.Int).Set(amount1)
		ev.AmountOut = new(big.Int).Neg(amount0)
	}

	raw := map[string]string{
		"sender":         sender.Hex(),
		"recipient":      common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		"amount0":        amount0.String(),
		"amount1":        amount1.String(),
		"sqrt_price_x96": sqrtPriceX96.String(),
		"liquidity":      liquidity.String(),
		"tick":           tick.String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeCurveTokenExchange(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 2 || len(log.Data) < 128 {
		return nil, false
	}
	vals, err := curveExchangeData.Unpack(log.Data)
	if err != nil || len(vals) != 4 {
		return nil, false
	}
	soldID := vals[0].(*big.Int)
	tokensSold := vals[1].(*big.Int)
	boughtID := vals[2].(*big.Int)
	tokensBought := vals[3].(*big.Int)

	ev.Protocol = "curve"
	ev.EventType = "token_exchange"
	buyer := common.BytesToAddress(log.Topics[1].Bytes())
	ev.Account = buyer.Bytes()
	ev.AmountIn = tokensSold
	ev.AmountOut = tokensBought

	raw := map[string]string{
		"buyer":         buyer.Hex(),
		"sold_id":       soldID.String(),
		"tokens_sold":   tokensSold.String(),
		"bought_id":     boughtID.String(),
		"tokens_bought": tokensBought.String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeAaveSupply(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 4 || len(log.Data) < 64 {
		return nil, false
	}
	vals, err := aaveSupplyData.Unpack(log.Data)
	if err != nil || len(vals) != 2 {
		return nil, false
	}
	user := vals[0].(common.Address)
	amount := vals[1].(*big.Int)

	ev.Protocol = "aave_v3"
	ev.EventType = "supply"
	onBehalfOf := common.BytesToAddress(log.Topics[2].Bytes())
	ev.Account = onBehalfOf.Bytes()
	ev.AmountIn = amount

	raw := map[string]string{
		"reserve":       common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		"user":          user.Hex(),
		"on_behalf_of":  onBehalfOf.Hex(),
		"amount":        amount.String(),
		"referral_code": new(big.Int).SetBytes(log.Topics[3].Bytes()).String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeAaveBorrow(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 4 || len(log.Data) < 128 {
		return nil, false
	}
	vals, err := aaveBorrowData.Unpack(log.Data)
	if err != nil || len(vals) != 4 {
		return nil, false
	}
	user := vals[0].(common.Address)
	amount := vals[1].(*big.Int)
	interestRateMode := vals[2].(uint8)
	borrowRate := vals[3].(*big.Int)

	ev.Protocol = "aave_v3"
	ev.EventType = "borrow"
	onBehalfOf := common.BytesToAddress(log.Topics[2].Bytes())
	ev.Account = onBehalfOf.Bytes()
	ev.AmountOut = amount

	raw := map[string]interface{}{
		"reserve":             common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		"user":                user.Hex(),
		"on_behalf_of":        onBehalfOf.Hex(),
		"amount":              amount.String(),
		"interest_rate_mode":  interestRateMode,
		"borrow_rate":         borrowRate.String(),
		"referral_code":       new(big.Int).SetBytes(log.Topics[3].Bytes()).String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeAaveRepay(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 4 || len(log.Data) < 64 {
		return nil, false
	}
	vals, err := aaveRepayData.Unpack(log.Data)
	if err != nil || len(vals) != 2 {
		return nil, false
	}
	amount := vals[0].(*big.Int)
	useATokens := vals[1].(bool)

	ev.Protocol = "aave_v3"
	ev.EventType = "repay"
	user := common.BytesToAddress(log.Topics[2].Bytes())
	ev.Account = user.Bytes()
	ev.AmountIn = amount

	raw := map[string]interface{}{
		"reserve":     common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		"user":        user.Hex(),
		"repayer":     common.BytesToAddress(log.Topics[3].Bytes()).Hex(),
		"amount":      amount.String(),
		"use_atokens": useATokens,
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeAaveLiquidationCall(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 4 || len(log.Data) < 128 {
		return nil, false
	}
	vals, err := aaveLiquidationData.Unpack(log.Data)
	if err != nil || len(vals) != 4 {
		return nil, false
	}
	debtToCover := vals[0].(*big.Int)
	liquidatedCollateralAmount := vals[1].(*big.Int)
	liquidator := vals[2].(common.Address)
	receiveAToken := vals[3].(bool)

	ev.Protocol = "aave_v3"
	ev.EventType = "liquidation_call"
	user := common.BytesToAddress(log.Topics[3].Bytes())
	ev.Account = user.Bytes() // the borrower
	ev.AmountIn = debtToCover
	ev.AmountOut = liquidatedCollateralAmount

	raw := map[string]interface{}{
		"collateral_asset":             common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		"debt_asset":                   common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		"user":                         user.Hex(),
		"debt_to_cover":                debtToCover.String(),
		"liquidated_collateral_amount": liquidatedCollateralAmount.String(),
		"liquidator":                   liquidator.Hex(),
		"receive_atoken":               receiveAToken,
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeCometSupply(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 3 || len(log.Data) < 32 {
		return nil, false
	}
	vals, err := cometAmountData.Unpack(log.Data)
	if err != nil || len(vals) != 1 {
		return nil, false
	}
	amount := vals[0].(*big.Int)

	ev.Protocol = "compound_v3"
	ev.EventType = "supply"
	from := common.BytesToAddress(log.Topics[1].Bytes())
	ev.Account = from.Bytes()
	ev.AmountIn = amount

	raw := map[string]string{
		"from":   from.Hex(),
		"dst":    common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		"amount": amount.String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeCometWithdraw(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 3 || len(log.Data) < 32 {
		return nil, false
	}
	vals, err := cometAmountData.Unpack(log.Data)
	if err != nil || len(vals) != 1 {
		return nil, false
	}
	amount := vals[0].(*big.Int)

	ev.Protocol = "compound_v3"
	ev.EventType = "withdraw"
	src := common.BytesToAddress(log.Topics[1].Bytes())
	ev.Account = src.Bytes()
	ev.AmountOut = amount

	raw := map[string]string{
		"src":    src.Hex(),
		"to":     common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
		"amount": amount.String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}

func decodeCometAbsorbCollateral(ev domain.DefiEvent, log types.Log) (*domain.DefiEvent, bool) {
	if len(log.Topics) != 4 || len(log.Data) < 64 {
		return nil, false
	}
	vals, err := cometAbsorbData.Unpack(log.Data)
	if err != nil || len(vals) != 2 {
		return nil, false
	}
	collateralAbsorbed := vals[0].(*big.Int)
	usdValue := vals[1].(*big.Int)

	ev.Protocol = "compound_v3"
	ev.EventType = "absorb_collateral"
	borrower := common.BytesToAddress(log.Topics[2].Bytes())
	ev.Account = borrower.Bytes()
	ev.AmountOut = collateralAbsorbed

	raw := map[string]string{
		"absorber":             common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
		"borrower":             borrower.Hex(),
		"asset":                common.BytesToAddress(log.Topics[3].Bytes()).Hex(),
		"collateral_absorbed":  collateralAbsorbed.String(),
		"usd_value":            usdValue.String(),
	}
	ev.RawData, _ = json.Marshal(raw)
	return &ev, true
}
