package entity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeCSV(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ofac.csv")
	require.NoError(t, os.WriteFile(path, []byte(rows), 0o600))
	return path
}

func TestParseOfacCSV_GroupsRowsBySdnID(t *testing.T) {
	path := writeCSV(t, "sdn_id,entity_name,program,address\n"+
		"1001,Acme Mixer,CYBER2,0x1111111111111111111111111111111111111111\n"+
		"1001,Acme Mixer,CYBER2,0x2222222222222222222222222222222222222222\n"+
		"1002,Other Actor,SDNTK,0x3333333333333333333333333333333333333333\n")

	entries, err := ParseOfacCSV(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "1001", entries[0].SdnID)
	require.Len(t, entries[0].Addresses, 2)
	require.Equal(t, "1002", entries[1].SdnID)
	require.Len(t, entries[1].Addresses, 1)
}

func TestParseOfacCSV_SkipsEmptyAndNonHexAddresses(t *testing.T) {
	path := writeCSV(t, "sdn_id,entity_name,program,address\n"+
		"1001,Acme,CYBER2,\n"+
		"1002,Bravo,CYBER2,not-an-address\n"+
		"1003,Charlie,CYBER2,0x3333333333333333333333333333333333333333\n")

	entries, err := ParseOfacCSV(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "1003", entries[0].SdnID)
}

func TestParseOfacCSV_MissingFileReturnsError(t *testing.T) {
	_, err := ParseOfacCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestSeedOfacEntries_WritesSanctionedLabelsPerAddress(t *testing.T) {
	s := New(&fakeLabelDB{}, zap.NewNop())
	entries := []OfacEntry{
		{SdnID: "1001", EntityName: "Acme Mixer", Program: "CYBER2", Addresses: []string{
			"0x1111111111111111111111111111111111111111",
			"0x2222222222222222222222222222222222222222",
		}},
	}

	count, err := s.SeedOfacEntries(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.True(t, s.IsSanctioned(common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes()))
}

func TestSeedOfacEntries_SkipsInvalidHexAddress(t *testing.T) {
	s := New(&fakeLabelDB{}, zap.NewNop())
	entries := []OfacEntry{
		{SdnID: "1001", EntityName: "Acme", Addresses: []string{"not-hex"}},
	}
	count, err := s.SeedOfacEntries(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestSeedManualLabels_SkipsInvalidAddressButContinues(t *testing.T) {
	s := New(&fakeLabelDB{}, zap.NewNop())
	labels := []ManualLabel{
		{Address: "garbage", EntityName: "bad", EntityType: "sanctioned", Source: "manual"},
		{Address: "0x4444444444444444444444444444444444444444", EntityName: "good", EntityType: "exchange", Source: "manual"},
	}
	count, err := s.SeedManualLabels(context.Background(), labels)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
