package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"DexLedger/internal/event"
	"DexLedger/internal/observability"
	"DexLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTransientFetch wraps failures reading blocks or events from the source.
// The state is left untouched and the fetch is retried on the next tick.
var ErrTransientFetch = errors.New("transient fetch failure")

// ErrInvalidEvent marks source data that cannot be turned into an event, such as a log that
// does not match the exchange ABI. Retrying cannot fix it, so it stops the engine.
var ErrInvalidEvent = errors.New("invalid event")

// EventSource is the ledger the engine materializes.
type EventSource interface {
	// LatestBlock returns the current chain head
	LatestBlock(ctx context.Context) (uint64, error)

	// DeploymentBlock returns the block the exchange was deployed in
	DeploymentBlock(ctx context.Context) (uint64, error)

	// Events returns all exchange events in [from, to], sorted by position.
	// Data that cannot be decoded is reported wrapping ErrInvalidEvent.
	Events(ctx context.Context, from, to uint64) ([]event.Event, error)
}

// Options configure the engine.
type Options struct {
	BlockPageSize      uint64
	BlockConfirmations uint64
	PollInterval       time.Duration
	Strict             bool

	// EndBlock stops the replay at a fixed block and disables live updates. Zero means live.
	EndBlock uint64

	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		BlockPageSize:      10000,
		BlockConfirmations: 6,
		PollInterval:       10 * time.Second,
		Strict:             true,
		Logger:             zerolog.Nop(),
	}
}

// Snapshot is a committed state together with its hash. Never mutated after publication.
type Snapshot struct {
	State       *state.AccountState
	StateHash   [32]byte
	CommittedAt time.Time
}

// CommitOutput describes one committed page of events, fanned out to sinks.
type CommitOutput struct {
	CycleID   uuid.UUID
	Position  event.Position
	Events    []event.Event
	Accounts  []common.Address
	State     *state.AccountState
	StateHash [32]byte
	PrevHash  [32]byte
}

type sink struct {
	name string
	ch   chan<- CommitOutput
}

// Engine replays the exchange's event log into an AccountState and keeps it current.
// Updates run one at a time; readers observe committed snapshots only.
type Engine struct {
	source  EventSource
	opts    Options
	log     zerolog.Logger
	metrics *observability.Metrics

	snapshot atomic.Pointer[Snapshot]
	ready    atomic.Bool
	sinks    []sink

	// guarded by cycleMu
	cycleMu sync.Mutex
	hasher  *StateHasher
	cursor  uint64 // next block not yet scanned for confirmed events

	// guarded by mu
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	lastErr error
}

// NewEngine creates an engine over source. Call Init to replay history.
func NewEngine(source EventSource, opts Options) *Engine {
	if opts.BlockPageSize == 0 {
		opts.BlockPageSize = DefaultOptions().BlockPageSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	e := &Engine{
		source:  source,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		hasher:  NewStateHasher(),
	}
	e.snapshot.Store(&Snapshot{State: state.New(), StateHash: e.hasher.GetPrevHash(), CommittedAt: time.Now()})
	return e
}

// AddSink registers a channel receiving every commit. Sends never block: a full channel drops
// the output. Must be called before Init.
func (e *Engine) AddSink(name string, ch chan<- CommitOutput) {
	e.sinks = append(e.sinks, sink{name: name, ch: ch})
}

// State returns the last committed state. It must not be modified.
func (e *Engine) State() *state.AccountState {
	return e.snapshot.Load().State
}

// Snapshot returns the last committed snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Ready reports whether the historical replay has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Init replays history page by page up to EndBlock, or up to the last confirmed block.
// Without EndBlock it then runs one live update and schedules the next ones every PollInterval.
func (e *Engine) Init(ctx context.Context) error {
	e.cycleMu.Lock()
	err := e.replay(ctx)
	e.cycleMu.Unlock()
	if err != nil {
		e.setLastErr(err)
		return err
	}
	e.ready.Store(true)

	if e.opts.EndBlock != 0 {
		return nil
	}
	if err := e.Update(ctx); err != nil {
		if !errors.Is(err, ErrTransientFetch) {
			e.setLastErr(err)
			return err
		}
		e.log.Warn().Err(err).Msg("initial update failed, retrying on next tick")
		e.setLastErr(err)
	}
	e.schedule(ctx, e.opts.PollInterval)
	return nil
}

func (e *Engine) replay(ctx context.Context) error {
	start, err := e.source.DeploymentBlock(ctx)
	if err != nil {
		return e.fetchErr("deployment block", err)
	}
	if next := e.State().NextBlock(); next > start {
		start = next
	}

	target := e.opts.EndBlock
	if target == 0 {
		latest, err := e.source.LatestBlock(ctx)
		if err != nil {
			return e.fetchErr("latest block", err)
		}
		if e.metrics != nil {
			e.metrics.ChainHeadBlock.Set(float64(latest))
		}
		if latest < e.opts.BlockConfirmations+start {
			e.cursor = start
			e.log.Info().Uint64("from", start).Msg("nothing confirmed to replay")
			return nil
		}
		target = latest - e.opts.BlockConfirmations
	}

	cycleID := uuid.New()
	began := time.Now()
	e.log.Info().
		Str("cycle_id", cycleID.String()).
		Uint64("from", start).
		Uint64("to", target).
		Msg("replaying history")

	for from := start; from <= target; from += e.opts.BlockPageSize {
		to := min(from+e.opts.BlockPageSize-1, target)
		events, err := e.source.Events(ctx, from, to)
		if err != nil {
			return e.fetchErr(fmt.Sprintf("events [%d, %d]", from, to), err)
		}
		if err := e.commit(cycleID, events); err != nil {
			return err
		}
		e.cursor = to + 1
		e.log.Debug().Uint64("from", from).Uint64("to", to).Int("events", len(events)).Msg("page applied")
	}

	pos, _ := e.State().Position()
	e.log.Info().
		Str("cycle_id", cycleID.String()).
		Uint64("block", pos.BlockNumber).
		Int("accounts", e.State().NumAccounts()).
		Dur("took", time.Since(began)).
		Msg("history replay complete")
	return nil
}

// Update fetches events from the first unscanned block to the chain head, applies the confirmed
// ones and drops the rest, which may still be reorganized.
func (e *Engine) Update(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	latest, err := e.source.LatestBlock(ctx)
	if err != nil {
		return e.fetchErr("latest block", err)
	}
	if e.metrics != nil {
		e.metrics.ChainHeadBlock.Set(float64(latest))
	}
	if latest < e.cursor {
		return nil
	}

	var events []event.Event
	for from := e.cursor; from <= latest; from += e.opts.BlockPageSize {
		to := min(from+e.opts.BlockPageSize-1, latest)
		page, err := e.source.Events(ctx, from, to)
		if err != nil {
			return e.fetchErr(fmt.Sprintf("events [%d, %d]", from, to), err)
		}
		events = append(events, page...)
	}

	confirmed, pending := partition(events, latest, e.opts.BlockConfirmations)
	if e.metrics != nil {
		e.metrics.PendingEvents.Set(float64(len(pending)))
	}

	if err := e.commit(uuid.New(), confirmed); err != nil {
		return err
	}
	if latest >= e.opts.BlockConfirmations {
		if next := latest - e.opts.BlockConfirmations + 1; next > e.cursor {
			e.cursor = next
		}
	}
	e.log.Debug().
		Uint64("head", latest).
		Int("confirmed", len(confirmed)).
		Int("pending", len(pending)).
		Msg("update applied")
	return nil
}

// partition splits events at the confirmation depth.
func partition(events []event.Event, latest, confirmations uint64) (confirmed, pending []event.Event) {
	for _, ev := range events {
		if ev.At().BlockNumber+confirmations <= latest {
			confirmed = append(confirmed, ev)
		} else {
			pending = append(pending, ev)
		}
	}
	return confirmed, pending
}

// commit applies events to a clone of the current state and publishes it.
func (e *Engine) commit(cycleID uuid.UUID, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if e.isStopped() {
		return nil
	}

	start := time.Now()
	current := e.snapshot.Load()
	next := current.State.Clone()
	if err := next.ApplyEvents(events, e.opts.Strict); err != nil {
		if e.metrics != nil {
			e.metrics.ApplyErrors.WithLabelValues(errorClass(err)).Inc()
		}
		return fmt.Errorf("apply events: %w", err)
	}

	pos, _ := next.Position()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(pos.BlockNumber, pos.LogIndex, next.Digest())
	e.snapshot.Store(&Snapshot{State: next, StateHash: stateHash, CommittedAt: time.Now()})

	if e.metrics != nil {
		for _, ev := range events {
			e.metrics.EventsApplied.WithLabelValues(ev.Kind().String()).Inc()
		}
		e.metrics.CommitsTotal.Inc()
		e.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
		e.metrics.LastAppliedBlock.Set(float64(pos.BlockNumber))
		e.metrics.Accounts.Set(float64(next.NumAccounts()))
		e.metrics.OpenOrders.Set(float64(next.OpenOrderCount()))
	}

	output := CommitOutput{
		CycleID:   cycleID,
		Position:  pos,
		Events:    events,
		Accounts:  touchedAccounts(events, current.State),
		State:     next,
		StateHash: stateHash,
		PrevHash:  prevHash,
	}
	for _, s := range e.sinks {
		select {
		case s.ch <- output:
		default:
			if e.metrics != nil {
				e.metrics.SinkDrops.WithLabelValues(s.name).Inc()
			}
			e.log.Warn().Str("sink", s.name).Uint64("block", pos.BlockNumber).Msg("sink full, commit dropped")
		}
	}
	return nil
}

func (e *Engine) fetchErr(what string, err error) error {
	if errors.Is(err, ErrInvalidEvent) {
		if e.metrics != nil {
			e.metrics.ApplyErrors.WithLabelValues(errorClass(err)).Inc()
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	if e.metrics != nil {
		e.metrics.FetchErrors.Inc()
	}
	return fmt.Errorf("%w: %s: %v", ErrTransientFetch, what, err)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, state.ErrOrderingViolation):
		return "ordering"
	case errors.Is(err, state.ErrReference):
		return "reference"
	case errors.Is(err, state.ErrInsufficientAmount):
		return "insufficient_amount"
	case errors.Is(err, ErrInvalidEvent):
		return "invalid_event"
	default:
		return "other"
	}
}

// schedule arms the next tick unless the engine was stopped.
func (e *Engine) schedule(ctx context.Context, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.timer = time.AfterFunc(d, func() { e.tick(ctx) })
}

func (e *Engine) tick(ctx context.Context) {
	err := e.Update(ctx)
	e.setLastErr(err)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTransientFetch):
		result = "transient"
		e.log.Warn().Err(err).Msg("update failed, retrying on next tick")
	default:
		result = "fatal"
		e.log.Error().Err(err).Msg("update failed, stopping updates")
	}
	if e.metrics != nil {
		e.metrics.UpdateCycles.WithLabelValues(result).Inc()
	}
	if result == "fatal" || ctx.Err() != nil {
		return
	}
	e.schedule(ctx, e.opts.PollInterval)
}

// Stop cancels the scheduled update. It returns the failure of the most recent cycle, if any.
// An update already running completes but is not committed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.lastErr
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.lastErr = err
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// touchedAccounts lists the accounts an event page changes, in first-seen order.
// A trade reversion also touches the solver whose fee credit it takes back: the submitter of
// the solution current at that point of the page, starting from the one tracked in prev.
func touchedAccounts(events []event.Event, prev *state.AccountState) []common.Address {
	solver, hasSolver := prev.Solver()
	seen := make(map[common.Address]bool)
	var out []common.Address
	add := func(a common.Address) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case *event.OrderPlacement:
			add(e.Owner)
		case *event.OrderCancellation:
			add(e.Owner)
		case *event.OrderDeletion:
			add(e.Owner)
		case *event.Deposit:
			add(e.User)
		case *event.WithdrawRequest:
			add(e.User)
		case *event.Withdraw:
			add(e.User)
		case *event.Trade:
			add(e.Owner)
		case *event.TradeReversion:
			add(e.Owner)
			if hasSolver {
				add(solver)
			}
		case *event.SolutionSubmission:
			add(e.Submitter)
			solver, hasSolver = e.Submitter, true
		case *event.SolutionReversion:
			add(e.Submitter)
		}
	}
	return out
}
