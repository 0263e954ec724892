package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventRow is a row of archive.events.
type EventRow struct {
	BlockNumber uint64
	LogIndex    uint
	Kind        string
	TxHash      []byte
	Payload     []byte
	CycleID     uuid.UUID
}

// CommitRow is a row of archive.commits.
type CommitRow struct {
	CycleID     uuid.UUID
	BlockNumber uint64
	LogIndex    uint
	StateHash   []byte
	PrevHash    []byte
	Events      int
}

// RowsFromCommit converts a commit into archive rows. Payloads are the JSON events.
func RowsFromCommit(out core.CommitOutput) ([]EventRow, CommitRow, error) {
	events := make([]EventRow, 0, len(out.Events))
	for _, ev := range out.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, CommitRow{}, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
		}
		pos := ev.At()
		row := EventRow{
			BlockNumber: pos.BlockNumber,
			LogIndex:    pos.LogIndex,
			Kind:        ev.Kind().String(),
			Payload:     payload,
			CycleID:     out.CycleID,
		}
		if tx := ev.Tx(); tx != (common.Hash{}) {
			row.TxHash = tx.Bytes()
		}
		events = append(events, row)
	}
	commit := CommitRow{
		CycleID:     out.CycleID,
		BlockNumber: out.Position.BlockNumber,
		LogIndex:    out.Position.LogIndex,
		StateHash:   out.StateHash[:],
		PrevHash:    out.PrevHash[:],
		Events:      len(out.Events),
	}
	return events, commit, nil
}

// BuildEventInsert renders a multi-row INSERT for rows. Replays are idempotent on position.
func BuildEventInsert(rows []EventRow) (string, []interface{}) {
	query := `INSERT INTO archive.events
		(block_number, log_index, kind, tx_hash, payload, cycle_id)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*6)
	for i, r := range rows {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, int64(r.BlockNumber), int64(r.LogIndex), r.Kind, r.TxHash, r.Payload, r.CycleID)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (block_number, log_index) DO NOTHING"
	return query, args
}

// ErrInvalidBatchSize is returned for a non-positive batch size or flush timeout.
var ErrInvalidBatchSize = errors.New("invalid archive batching")

// Archive drains commit outputs and batch-writes confirmed events and commit hashes to Postgres.
// Batches flush when full or when the flush timeout expires.
type Archive struct {
	db           *sql.DB
	input        <-chan core.CommitOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewArchive(
	db *sql.DB,
	input <-chan core.CommitOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Archive, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("archive batch size %d: %w", batchSize, ErrInvalidBatchSize)
	}
	if flushTimeout <= 0 {
		return nil, fmt.Errorf("archive flush timeout %s: %w", flushTimeout, ErrInvalidBatchSize)
	}
	return &Archive{
		db:           db,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}, nil
}

// Run blocks until ctx is cancelled or the input is closed, flushing what is buffered on exit.
func (a *Archive) Run(ctx context.Context) error {
	var (
		events  []EventRow
		commits []CommitRow
	)
	timer := time.NewTimer(a.flushTimeout)
	defer timer.Stop()

	drain := func(ctx context.Context) {
		if len(commits) == 0 {
			return
		}
		if err := a.flushWithRetry(ctx, events, commits); err != nil {
			a.log.Error().Err(err).Int("events", len(events)).Msg("archive flush failed")
		}
		events = events[:0]
		commits = commits[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drain(context.Background())
			return ctx.Err()

		case out, ok := <-a.input:
			if !ok {
				drain(context.Background())
				return nil
			}
			rows, commit, err := RowsFromCommit(out)
			if err != nil {
				a.log.Error().Err(err).Uint64("block", out.Position.BlockNumber).Msg("archive encode failed")
				continue
			}
			events = append(events, rows...)
			commits = append(commits, commit)
			if len(events) >= a.batchSize {
				drain(ctx)
				timer.Reset(a.flushTimeout)
			}

		case <-timer.C:
			drain(ctx)
			timer.Reset(a.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds or ctx is done,
// then makes one last attempt.
func (a *Archive) flushWithRetry(ctx context.Context, events []EventRow, commits []CommitRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			a.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Msg("archive retry")
			select {
			case <-ctx.Done():
				return a.flush(context.Background(), events, commits)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := a.flush(ctx, events, commits)
		if err == nil {
			return nil
		}
		a.log.Warn().Err(err).Msg("archive write failed")
	}
}

func (a *Archive) flush(ctx context.Context, events []EventRow, commits []CommitRow) error {
	start := time.Now()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		a.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	for off := 0; off < len(events); off += a.batchSize {
		end := min(off+a.batchSize, len(events))
		query, args := BuildEventInsert(events[off:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			a.countError("write_events")
			return err
		}
	}

	for _, c := range commits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO archive.commits (cycle_id, block_number, log_index, state_hash, prev_hash, events)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (state_hash) DO NOTHING
		`, c.CycleID, int64(c.BlockNumber), int64(c.LogIndex), c.StateHash, c.PrevHash, c.Events); err != nil {
			a.countError("write_commits")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		a.countError("tx_commit")
		return err
	}

	if a.metrics != nil {
		a.metrics.ArchiveBatchDur.Observe(time.Since(start).Seconds())
		a.metrics.ArchiveEventsWritten.Add(float64(len(events)))
	}
	return nil
}

func (a *Archive) countError(stage string) {
	if a.metrics != nil {
		a.metrics.ArchiveErrors.WithLabelValues(stage).Inc()
	}
}
