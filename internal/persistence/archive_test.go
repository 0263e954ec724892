package persistence

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
	"DexLedger/internal/state"
	"DexLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func sampleCommit() core.CommitOutput {
	tx := common.HexToHash("0xfeed")
	return core.CommitOutput{
		CycleID:  uuid.New(),
		Position: event.Position{BlockNumber: 12, LogIndex: 3},
		Events: []event.Event{
			&event.TokenListing{
				Meta:  event.Meta{Position: event.Position{BlockNumber: 12, LogIndex: 2}},
				ID:    0,
				Token: weth,
			},
			&event.Deposit{
				Meta:    event.Meta{Position: event.Position{BlockNumber: 12, LogIndex: 3}, TxHash: tx},
				User:    alice,
				Token:   weth,
				Amount:  big.NewInt(500),
				BatchID: 7,
			},
		},
		Accounts:  []common.Address{alice},
		State:     state.New(),
		StateHash: [32]byte{1},
		PrevHash:  [32]byte{2},
	}
}

func TestRowsFromCommit(t *testing.T) {
	out := sampleCommit()

	rows, commit, err := RowsFromCommit(out)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, uint64(12), rows[0].BlockNumber)
	assert.Equal(t, uint(2), rows[0].LogIndex)
	assert.Equal(t, "TokenListing", rows[0].Kind)
	assert.Nil(t, rows[0].TxHash, "zero tx hash is stored as NULL")

	assert.Equal(t, "Deposit", rows[1].Kind)
	assert.Equal(t, common.HexToHash("0xfeed").Bytes(), rows[1].TxHash)
	assert.Equal(t, out.CycleID, rows[1].CycleID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rows[1].Payload, &payload))
	assert.EqualValues(t, 12, payload["blockNumber"])
	assert.EqualValues(t, 3, payload["logIndex"])
	assert.EqualValues(t, 500, payload["amount"])
	assert.EqualValues(t, 7, payload["batchId"])

	assert.Equal(t, out.CycleID, commit.CycleID)
	assert.Equal(t, uint64(12), commit.BlockNumber)
	assert.Equal(t, uint(3), commit.LogIndex)
	assert.Equal(t, out.StateHash[:], commit.StateHash)
	assert.Equal(t, out.PrevHash[:], commit.PrevHash)
	assert.Equal(t, 2, commit.Events)
}

func TestBuildEventInsert(t *testing.T) {
	rows, _, err := RowsFromCommit(sampleCommit())
	require.NoError(t, err)

	query, args := BuildEventInsert(rows)
	assert.Contains(t, query, "INSERT INTO archive.events")
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)")
	assert.Contains(t, query, "ON CONFLICT (block_number, log_index) DO NOTHING")
	require.Len(t, args, 12)
	assert.Equal(t, int64(12), args[0])
	assert.Equal(t, int64(2), args[1])
	assert.Equal(t, "TokenListing", args[2])
	assert.Equal(t, int64(3), args[7])
}

func TestNewArchive_RejectsInvalidBatching(t *testing.T) {
	input := make(chan core.CommitOutput)

	for _, size := range []int{0, -1} {
		_, err := NewArchive(nil, input, size, time.Second, nil, zerolog.Nop())
		assert.ErrorIs(t, err, ErrInvalidBatchSize, "batch size %d", size)
	}
	_, err := NewArchive(nil, input, 10, 0, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	archive, err := NewArchive(nil, input, 10, time.Second, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, archive)
}

func TestPendingMigrations(t *testing.T) {
	files := []string{"000001_projections.up.sql", "000002_archive.up.sql"}

	assert.Equal(t, files, Pending(files, nil))
	assert.Equal(t, []string{"000002_archive.up.sql"}, Pending(files, map[string]bool{"000001": true}))
	assert.Empty(t, Pending(files, map[string]bool{"000001": true, "000002": true}))
}

func TestMigrationFilesPaired(t *testing.T) {
	ups, err := filepath.Glob(filepath.Join(testutil.MigrationsDir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		_, err := os.Stat(down)
		assert.NoError(t, err, "missing down migration for %s", filepath.Base(up))
	}
}

// ============================================================================
// Integration
// ============================================================================

func TestArchive_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, NewMigrator(db, testutil.MigrationsDir, zerolog.Nop()).Up(ctx))

	input := make(chan core.CommitOutput, 2)
	archive, err := NewArchive(db, input, 100, 10*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, err)

	out := sampleCommit()
	input <- out
	input <- out // replayed commit is a no-op
	close(input)
	require.NoError(t, archive.Run(ctx))

	var events, commits int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive.events`).Scan(&events))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive.commits`).Scan(&commits))
	assert.Equal(t, 2, events)
	assert.Equal(t, 1, commits)
}
