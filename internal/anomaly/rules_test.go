package anomaly

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/csic/platform/chainwatch-indexer/internal/config"
	"github.com/csic/platform/chainwatch-indexer/internal/domain"
)

func usdcTransfer(amountRaw int64) domain.Transfer {
	return domain.Transfer{
		ChainID:        1,
		TokenSymbol:    "USDC",
		TokenDecimals:  6,
		Amount:         big.NewInt(amountRaw),
		FromAddress:    []byte{0x01},
		ToAddress:      []byte{0x02},
		TxHash:         []byte{0xaa},
		LogIndex:       0,
		BlockTimestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestCheckLargeTransfer_FiresAtFiveTimesThreshold(t *testing.T) {
	// spec.md scenario 3: 500,000 USDC, threshold {default: 100000} -> risk 60.
	tr := usdcTransfer(500_000_000_000)
	a := checkLargeTransfer(tr, map[string]float64{"default": 100_000})
	require.NotNil(t, a)
	require.Equal(t, TypeLargeTransfer, a.AnomalyType)
	require.EqualValues(t, 60, a.RiskScore)
}

func TestCheckLargeTransfer_FiresAtTenTimesThreshold(t *testing.T) {
	tr := usdcTransfer(1_000_000_000_000)
	a := checkLargeTransfer(tr, map[string]float64{"default": 100_000})
	require.NotNil(t, a)
	require.EqualValues(t, 80, a.RiskScore)
}

func TestCheckLargeTransfer_FallsBackToDefaultThenHardcoded(t *testing.T) {
	tr := usdcTransfer(200_000_000_000) // 200,000 USDC
	a := checkLargeTransfer(tr, map[string]float64{"DAI": 50_000})
	require.NotNil(t, a, "no USDC/default entry configured, must fall back to the $100,000 hardcoded default")
	require.EqualValues(t, 40, a.RiskScore)
}

func TestCheckLargeTransfer_BelowThresholdProducesNothing(t *testing.T) {
	tr := usdcTransfer(1_000_000_000) // 1,000 USDC
	a := checkLargeTransfer(tr, map[string]float64{"default": 100_000})
	require.Nil(t, a)
}

func TestCheckRoundNumber_10000USDC(t *testing.T) {
	// spec.md scenario 4: 10,000 USDC, tolerance 0.01 -> round_number, risk 30.
	tr := usdcTransfer(10_000_000_000)
	a := checkRoundNumber(tr, 0.01)
	require.NotNil(t, a)
	require.Equal(t, TypeRoundNumber, a.AnomalyType)
	require.EqualValues(t, 30, a.RiskScore)
}

func TestCheckRoundNumber_BelowOneThousandNeverFires(t *testing.T) {
	tr := usdcTransfer(999_000_000)
	a := checkRoundNumber(tr, 0.01)
	require.Nil(t, a)
}

func TestCheckRoundNumber_NonRoundAmountProducesNothing(t *testing.T) {
	tr := usdcTransfer(10_423_000_000) // 10,423 USDC
	a := checkRoundNumber(tr, 0.01)
	require.Nil(t, a)
}

func TestCheckSanctionedCounterparty_FromTakesPrecedence(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	isSanctioned := func(addr []byte) bool { return true } // both sides sanctioned
	a := checkSanctionedCounterparty(tr, isSanctioned)
	require.NotNil(t, a)
	require.EqualValues(t, 95, a.RiskScore)
	require.Equal(t, tr.FromAddress, a.Address)
}

func TestCheckSanctionedCounterparty_NeitherSanctionedProducesNothing(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	a := checkSanctionedCounterparty(tr, func([]byte) bool { return false })
	require.Nil(t, a)
}

func TestCheckNewWalletLargeReceive_BaselineTierAtFiveTimesThreshold(t *testing.T) {
	// spec.md scenario 6's numbers (50,000 USDT, threshold 10,000 -> 5x) fall
	// under the rule's own stated tiering ("risk 80 at >=10x threshold, else
	// 60" per spec.md's rule-4 definition), so this lands at the 60 tier; see
	// DESIGN.md for the resolution of that inconsistency in favor of the
	// rule's explicit multiplier text.
	tr := usdcTransfer(50_000_000_000)
	newWallets := []domain.NewWalletEvent{{Address: tr.ToAddress, ChainID: tr.ChainID, Direction: "to"}}
	a := checkNewWalletLargeReceive(tr, newWallets, 10_000)
	require.NotNil(t, a)
	require.EqualValues(t, 60, a.RiskScore)
}

func TestCheckNewWalletLargeReceive_FiresAtTenTimesThreshold(t *testing.T) {
	tr := usdcTransfer(100_001_000_000) // 100,001 USDC, >10x the 10,000 threshold
	newWallets := []domain.NewWalletEvent{{Address: tr.ToAddress, ChainID: tr.ChainID, Direction: "to"}}
	a := checkNewWalletLargeReceive(tr, newWallets, 10_000)
	require.NotNil(t, a)
	require.EqualValues(t, 80, a.RiskScore)
}

func TestCheckNewWalletLargeReceive_WrongDirectionProducesNothing(t *testing.T) {
	tr := usdcTransfer(50_000_000_000)
	newWallets := []domain.NewWalletEvent{{Address: tr.FromAddress, ChainID: tr.ChainID, Direction: "from"}}
	a := checkNewWalletLargeReceive(tr, newWallets, 10_000)
	require.Nil(t, a)
}

func TestCheckNewWalletLargeReceive_NotInNewWalletListProducesNothing(t *testing.T) {
	tr := usdcTransfer(50_000_000_000)
	a := checkNewWalletLargeReceive(tr, nil, 10_000)
	require.Nil(t, a)
}

type fakeVelocityStore struct {
	count int64
}

func (f fakeVelocityStore) CountTransfersFromSince(ctx context.Context, chainID int64, from []byte, since time.Time) (int64, error) {
	return f.count, nil
}

func TestCheckVelocity_TwelveTransfersMaxTen(t *testing.T) {
	// spec.md scenario 5: 12 transfers from A in the past 1000s, max=10 -> risk 50.
	tr := usdcTransfer(1_000_000)
	a, err := checkVelocity(context.Background(), fakeVelocityStore{count: 12}, tr, 1000, 10)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.EqualValues(t, 50, a.RiskScore)
}

func TestCheckVelocity_SixtyTransfersFiresHighRisk(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	a, err := checkVelocity(context.Background(), fakeVelocityStore{count: 60}, tr, 1000, 10)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.EqualValues(t, 70, a.RiskScore)
}

func TestCheckVelocity_AtOrBelowMaxProducesNothing(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	a, err := checkVelocity(context.Background(), fakeVelocityStore{count: 10}, tr, 1000, 10)
	require.NoError(t, err)
	require.Nil(t, a)
}

type fakeCrossChainStore struct {
	count int64
}

func (f fakeCrossChainStore) CountDistinctChainsActiveSince(ctx context.Context, address []byte, since time.Time) (int64, error) {
	return f.count, nil
}

func TestCheckCrossChainActivity_ThreeChainsLowRisk(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	a, err := checkCrossChainActivity(context.Background(), fakeCrossChainStore{count: 3}, tr, 1800)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.EqualValues(t, 30, a.RiskScore)
}

func TestCheckCrossChainActivity_FiveChainsHighRisk(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	a, err := checkCrossChainActivity(context.Background(), fakeCrossChainStore{count: 5}, tr, 1800)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.EqualValues(t, 50, a.RiskScore)
}

func TestCheckCrossChainActivity_BelowThreeProducesNothing(t *testing.T) {
	tr := usdcTransfer(1_000_000)
	a, err := checkCrossChainActivity(context.Background(), fakeCrossChainStore{count: 2}, tr, 1800)
	require.NoError(t, err)
	require.Nil(t, a)
}

// fakeEngineStore implements the Store interface AnalyzeBatch/Persist need.
type fakeEngineStore struct {
	fakeVelocityStore
	fakeCrossChainStore
	nextID int64
}

func (f *fakeEngineStore) TransferID(ctx context.Context, chainID int64, txHash []byte, logIndex int32) (int64, bool, error) {
	f.nextID++
	return f.nextID, true, nil
}

func (f *fakeEngineStore) InsertAnomaly(ctx context.Context, transferID *int64, a domain.AnomalyRecord) error {
	return nil
}

type fakeLabelStore struct{}

func (fakeLabelStore) IsSanctioned(address []byte) bool { return false }

func TestAnalyzeBatch_SkipsVelocityAndCrossChainOverBatchLimits(t *testing.T) {
	cfg := config.AnomalyDetectionConfig{
		Enabled:     true,
		RoundNumber: config.RoundNumberConfig{Tolerance: 0.01},
		Velocity:    config.VelocityConfig{WindowSecs: 3600, MaxTransfers: 1},
		CrossChain:  config.CrossChainConfig{WindowSecs: 1800},
		NewWallet:   config.NewWalletConfig{ThresholdUSD: 10_000},
	}
	store := &fakeEngineStore{
		fakeVelocityStore:   fakeVelocityStore{count: 999}, // would fire if evaluated
		fakeCrossChainStore: fakeCrossChainStore{count: 999},
	}
	engine := New(cfg, store)

	big := make([]domain.Transfer, velocityBatchLimit+1)
	for i := range big {
		big[i] = usdcTransfer(1_000_000)
	}

	anomalies, err := engine.AnalyzeBatch(context.Background(), big, fakeLabelStore{}, nil)
	require.NoError(t, err)
	for _, a := range anomalies {
		require.NotEqual(t, TypeVelocity, a.AnomalyType)
		require.NotEqual(t, TypeCrossChainActivity, a.AnomalyType)
	}
}

func TestAnalyzeBatch_DisabledEngineProducesNothing(t *testing.T) {
	cfg := config.AnomalyDetectionConfig{Enabled: false}
	engine := New(cfg, &fakeEngineStore{})
	anomalies, err := engine.AnalyzeBatch(context.Background(), []domain.Transfer{usdcTransfer(999_999_000_000)}, fakeLabelStore{}, nil)
	require.NoError(t, err)
	require.Nil(t, anomalies)
}

func TestPersist_CountsEveryRecord(t *testing.T) {
	engine := New(config.AnomalyDetectionConfig{Enabled: true}, &fakeEngineStore{})
	n, err := engine.Persist(context.Background(), []domain.AnomalyRecord{
		{ChainID: 1, AnomalyType: TypeLargeTransfer, TxHash: []byte{1}},
		{ChainID: 1, AnomalyType: TypeRoundNumber, TxHash: []byte{2}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
