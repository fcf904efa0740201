// Package anomaly runs the fixed rule set against each enriched batch:
// large transfer, sanctioned counterparty, round number, new-wallet large
// receive, velocity, and cross-chain activity.
package anomaly

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

// Anomaly type constants, matching the values stored in anomalies.anomaly_type.
const (
	TypeLargeTransfer         = "large_transfer"
	TypeVelocity              = "velocity"
	TypeSanctionedCounterparty = "sanctioned_counterparty"
	TypeRoundNumber           = "round_number"
	TypeNewWalletLargeReceive = "new_wallet_large_receive"
	TypeCrossChainActivity    = "cross_chain_activity"
)

var roundBases = []float64{100_000, 50_000, 25_000, 10_000, 5_000, 1_000}

// rawToHuman divides a raw on-chain integer amount by 10^decimals. 64-bit
// floats are acceptable here — thresholds are inherently fuzzy — but never
// on the ingest path itself.
func rawToHuman(amount *big.Int, decimals int16) float64 {
	f := new(big.Float).SetInt(amount)
	divisor := new(big.Float).SetFloat64(1)
	ten := big.NewFloat(10)
	for i := int16(0); i < decimals; i++ {
		divisor.Mul(divisor, ten)
	}
	f.Quo(f, divisor)
	v, _ := f.Float64()
	return v
}

func detailsJSON(v map[string]any) []byte {
	b, _ := json.Marshal(v)
	return b
}

// checkLargeTransfer fires when the human-readable amount meets or exceeds
// the token's configured threshold (falling back to "default", then
// $100,000).
func checkLargeTransfer(t domain.Transfer, thresholds map[string]float64) *domain.AnomalyRecord {
	threshold, ok := thresholds[t.TokenSymbol]
	if !ok {
		threshold, ok = thresholds["default"]
	}
	if !ok {
		threshold = 100_000
	}

	human := rawToHuman(t.Amount, t.TokenDecimals)
	if human < threshold {
		return nil
	}

	risk := float32(40)
	switch {
	case human >= threshold*10:
		risk = 80
	case human >= threshold*5:
		risk = 60
	}

	return &domain.AnomalyRecord{
		ChainID:     t.ChainID,
		AnomalyType: TypeLargeTransfer,
		RiskScore:   risk,
		Flags:       []string{fmt.Sprintf("transfer_amount_%.0f_%s_exceeds_%.0f", human, t.TokenSymbol, threshold)},
		Details:     detailsJSON(map[string]any{"amount": human, "token": t.TokenSymbol, "threshold": threshold}),
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
	}
}

// checkSanctionedCounterparty fires if either side of the transfer is
// sanctioned; "from" takes precedence in reporting when both are.
func checkSanctionedCounterparty(t domain.Transfer, isSanctioned func([]byte) bool) *domain.AnomalyRecord {
	fromSanctioned := isSanctioned(t.FromAddress)
	toSanctioned := isSanctioned(t.ToAddress)
	if !fromSanctioned && !toSanctioned {
		return nil
	}

	side := "to"
	flagged := t.ToAddress
	if fromSanctioned {
		side = "from"
		flagged = t.FromAddress
	}

	return &domain.AnomalyRecord{
		ChainID:     t.ChainID,
		AnomalyType: TypeSanctionedCounterparty,
		RiskScore:   95,
		Flags:       []string{fmt.Sprintf("sanctioned_%s_address", side)},
		Details:     detailsJSON(map[string]any{"side": side, "sanctioned_address": hex.EncodeToString(flagged)}),
		Address:     flagged,
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
	}
}

// checkRoundNumber fires for amounts at or above $1,000 that land within
// tolerance of a round base (walked from largest to smallest).
func checkRoundNumber(t domain.Transfer, tolerance float64) *domain.AnomalyRecord {
	human := rawToHuman(t.Amount, t.TokenDecimals)
	if human < 1000 {
		return nil
	}

	for _, base := range roundBases {
		if human < base {
			continue
		}
		remainder := mod(human, base)
		fraction := remainder / base
		if fraction < tolerance || fraction > 1-tolerance {
			risk := float32(20)
			switch {
			case base >= 100_000:
				risk = 40
			case base >= 10_000:
				risk = 30
			}
			return &domain.AnomalyRecord{
				ChainID:     t.ChainID,
				AnomalyType: TypeRoundNumber,
				RiskScore:   risk,
				Flags:       []string{fmt.Sprintf("round_amount_%.0f", human)},
				Details:     detailsJSON(map[string]any{"amount": human, "nearest_round": base, "token": t.TokenSymbol}),
				TxHash:      t.TxHash,
				LogIndex:    t.LogIndex,
			}
		}
		break // only the first base <= amount is considered
	}
	return nil
}

func mod(a, b float64) float64 {
	m := a - b*float64(int64(a/b))
	return m
}

func secondsToDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}

// checkNewWalletLargeReceive fires when the receiving address is new in
// this batch (direction "to") and the amount exceeds the configured
// threshold.
func checkNewWalletLargeReceive(t domain.Transfer, newWallets []domain.NewWalletEvent, thresholdUSD float64) *domain.AnomalyRecord {
	human := rawToHuman(t.Amount, t.TokenDecimals)
	if human <= thresholdUSD {
		return nil
	}

	isNew := false
	for _, w := range newWallets {
		if string(w.Address) == string(t.ToAddress) && w.ChainID == t.ChainID && w.Direction == "to" {
			isNew = true
			break
		}
	}
	if !isNew {
		return nil
	}

	risk := float32(60)
	if human >= thresholdUSD*10 {
		risk = 80
	}

	return &domain.AnomalyRecord{
		ChainID:     t.ChainID,
		AnomalyType: TypeNewWalletLargeReceive,
		RiskScore:   risk,
		Flags:       []string{fmt.Sprintf("new_wallet_received_%.0f_%s", human, t.TokenSymbol)},
		Details:     detailsJSON(map[string]any{"amount": human, "token": t.TokenSymbol, "new_wallet": hex.EncodeToString(t.ToAddress)}),
		Address:     t.ToAddress,
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
	}
}

type velocityStore interface {
	CountTransfersFromSince(ctx context.Context, chainID int64, from []byte, since time.Time) (int64, error)
}

// checkVelocity fires when the sender has more than max prior transfers on
// the same chain within window_secs before this transfer.
func checkVelocity(ctx context.Context, db velocityStore, t domain.Transfer, windowSecs, maxTransfers int64) (*domain.AnomalyRecord, error) {
	since := t.BlockTimestamp.Add(-secondsToDuration(windowSecs))
	count, err := db.CountTransfersFromSince(ctx, t.ChainID, t.FromAddress, since)
	if err != nil {
		return nil, fmt.Errorf("anomaly: velocity: %w", err)
	}
	if count <= maxTransfers {
		return nil, nil
	}

	risk := float32(50)
	if count > maxTransfers*5 {
		risk = 70
	}

	return &domain.AnomalyRecord{
		ChainID:     t.ChainID,
		AnomalyType: TypeVelocity,
		RiskScore:   risk,
		Flags:       []string{fmt.Sprintf("velocity_%d_transfers_in_%d_secs", count, windowSecs)},
		Details:     detailsJSON(map[string]any{"transfer_count": count, "window_secs": windowSecs, "max_allowed": maxTransfers}),
		Address:     t.FromAddress,
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
	}, nil
}

type crossChainStore interface {
	CountDistinctChainsActiveSince(ctx context.Context, address []byte, since time.Time) (int64, error)
}

// checkCrossChainActivity fires when the sender has been active on 3 or
// more distinct chains within window_secs.
func checkCrossChainActivity(ctx context.Context, db crossChainStore, t domain.Transfer, windowSecs int64) (*domain.AnomalyRecord, error) {
	since := t.BlockTimestamp.Add(-secondsToDuration(windowSecs))
	count, err := db.CountDistinctChainsActiveSince(ctx, t.FromAddress, since)
	if err != nil {
		return nil, fmt.Errorf("anomaly: cross chain activity: %w", err)
	}
	if count < 3 {
		return nil, nil
	}

	risk := float32(30)
	if count >= 5 {
		risk = 50
	}

	return &domain.AnomalyRecord{
		ChainID:     t.ChainID,
		AnomalyType: TypeCrossChainActivity,
		RiskScore:   risk,
		Flags:       []string{fmt.Sprintf("active_on_%d_chains_in_%d_secs", count, windowSecs)},
		Details:     detailsJSON(map[string]any{"chain_count": count, "window_secs": windowSecs, "address": hex.EncodeToString(t.FromAddress)}),
		Address:     t.FromAddress,
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
	}, nil
}
