package dbutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/VectorBits/crossleak/src/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "crossleak.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestContractUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetContract(ctx, "0xabc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveContract(ctx, ContractRecord{Address: "0xABC", Network: "ETH", Name: "Vault", HasSource: true}))
	require.NoError(t, store.SaveContract(ctx, ContractRecord{Address: "0xabc", Network: "ETH", Name: "VaultV2", IsProxy: true, Implementation: "0xDEF"}))

	rec, err := store.GetContract(ctx, "0xAbC")
	require.NoError(t, err)
	assert.Equal(t, "VaultV2", rec.Name)
	assert.True(t, rec.IsProxy)
	assert.Equal(t, "0xdef", rec.Implementation)
}

func TestFindingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFinding(ctx, report.Finding{
		Victim:           "0xVictim",
		Kind:             "origin",
		TargetContract:   "0xT",
		TargetFunction:   "transfer()",
		RelatedSignature: "0xa9059cbb",
		Arguments:        []string{"1", "0xaa"},
		OracleArgs:       []string{"evm", "-o"},
	}))
	require.NoError(t, store.SaveFinding(ctx, report.Finding{Victim: "0xvictim", Kind: "random"}))
	require.NoError(t, store.SaveFinding(ctx, report.Finding{Victim: "0xother", Kind: "payable"}))

	got, err := store.ListFindings(ctx, "0xVICTIM")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "origin", got[0].Kind)
	assert.Equal(t, "0xt", got[0].TargetContract)
	assert.Equal(t, []string{"1", "0xaa"}, got[0].Arguments)
	assert.Equal(t, []string{"evm", "-o"}, got[0].OracleArgs)
	assert.Equal(t, "random", got[1].Kind)

	counts, err := store.CountFindings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["0xvictim"])
	assert.Equal(t, int64(1), counts["0xother"])
}

func TestNewStoreRejectsNil(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)
}
