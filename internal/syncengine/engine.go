// Package syncengine drives the terminal's background synchronization: a
// single-flight cycle of probe, push and pull on a timer, with manual
// triggers collapsing into the running cycle instead of stacking.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dukkanpos/internal/domain"
	"dukkanpos/internal/syncclient"
)

const DefaultInterval = 2 * time.Minute

// Client is the slice of the central API the engine needs.
type Client interface {
	Probe(ctx context.Context) error
	Push(ctx context.Context, req domain.PushRequest) (*domain.PushResponse, error)
	Pull(ctx context.Context, req domain.PullRequest) (*domain.PullResponse, error)
}

// Store is the slice of the local store the engine needs: the outbound
// queue plus the pull-apply upserts.
type Store interface {
	PendingOperations(ctx context.Context) ([]domain.PendingOperation, error)
	PendingCount(ctx context.Context) (int, error)
	MarkAcknowledged(ctx context.Context, ids []string) error
	PurgeAcknowledged(ctx context.Context) error

	UpsertCategory(ctx context.Context, c domain.Category) error
	UpsertProduct(ctx context.Context, p domain.Product) error
	UpsertUser(ctx context.Context, u domain.User) error
	UpsertStoreInfo(ctx context.Context, st domain.Store) error
}

// Checkpoint persists the pull watermark between cycles and restarts.
type Checkpoint interface {
	LastSyncAt() (*time.Time, error)
	SetLastSyncAt(at time.Time) error
}

type Status struct {
	Online       bool       `json:"online"`
	PendingCount int        `json:"pending_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

type Engine struct {
	client     Client
	store      Store
	checkpoint Checkpoint
	deviceID   string
	interval   time.Duration

	// busy guards the single-flight cycle: a trigger that loses the CAS
	// simply skips, the running cycle covers it.
	busy   atomic.Bool
	online atomic.Bool

	mu       sync.Mutex
	lastErr  error
	lastSync *time.Time
}

func New(client Client, store Store, checkpoint Checkpoint, deviceID string, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		client:     client,
		store:      store,
		checkpoint: checkpoint,
		deviceID:   deviceID,
		interval:   interval,
	}
}

// Run loops until ctx is cancelled: one immediate cycle, then one per tick.
func (e *Engine) Run(ctx context.Context) {
	e.SyncNow(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SyncNow(ctx)
		}
	}
}

// SyncNow runs one cycle unless one is already in flight. It reports
// whether a cycle actually ran.
func (e *Engine) SyncNow(ctx context.Context) bool {
	if !e.busy.CompareAndSwap(false, true) {
		return false
	}
	defer e.busy.Store(false)

	err := e.cycle(ctx)
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	if err != nil && !errors.Is(err, syncclient.ErrUnreachable) {
		log.Printf("[sync] cycle failed: %v", err)
	}
	return true
}

// Status is a point-in-time snapshot for the UI and the status command.
func (e *Engine) Status(ctx context.Context) Status {
	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		log.Printf("[sync] pending count: %v", err)
	}

	e.mu.Lock()
	lastErr := e.lastErr
	lastSync := e.lastSync
	e.mu.Unlock()

	st := Status{
		Online:       e.online.Load(),
		PendingCount: pending,
		LastSyncAt:   lastSync,
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}

func (e *Engine) cycle(ctx context.Context) error {
	if err := e.client.Probe(ctx); err != nil {
		e.online.Store(false)
		return err
	}
	e.online.Store(true)

	// Each phase fails on its own: a push failure must not block the pull
	// phase, and the next tick retries both.
	return errors.Join(e.push(ctx), e.pull(ctx))
}

// push sends the outstanding queue and acknowledges what the center
// accepted. Operations the center reports as errors stay queued for the
// next cycle.
func (e *Engine) push(ctx context.Context) error {
	ops, err := e.store.PendingOperations(ctx)
	if err != nil {
		return fmt.Errorf("load pending operations: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	resp, err := e.client.Push(ctx, domain.PushRequest{DeviceID: e.deviceID, Operations: ops})
	if err != nil {
		// Ambiguous outcome: the center may have applied the batch before
		// the response was lost. Nothing is acknowledged; the retry relies
		// on the center's idempotency.
		return fmt.Errorf("push: %w", err)
	}

	acked := make([]string, 0, len(ops))
	for _, status := range resp.All() {
		if status.Acknowledgeable() {
			acked = append(acked, status.ID)
		} else {
			log.Printf("[sync] operation %s rejected: %s", status.ID, status.Error)
		}
	}

	if len(acked) > 0 {
		if err := e.store.MarkAcknowledged(ctx, acked); err != nil {
			return fmt.Errorf("acknowledge operations: %w", err)
		}
		if err := e.store.PurgeAcknowledged(ctx); err != nil {
			return fmt.Errorf("purge acknowledged: %w", err)
		}
		log.Printf("[sync] pushed %d operations, %d acknowledged", len(ops), len(acked))
	}
	return nil
}

// pull applies reference-data changes since the checkpoint, then advances
// the checkpoint to the server's sync timestamp. Apply order matters:
// categories before the products that reference them, users and store info
// after.
func (e *Engine) pull(ctx context.Context) error {
	since, err := e.checkpoint.LastSyncAt()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	resp, err := e.client.Pull(ctx, domain.PullRequest{DeviceID: e.deviceID, LastSyncAt: since})
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	for _, c := range resp.Categories {
		if err := e.store.UpsertCategory(ctx, c); err != nil {
			return fmt.Errorf("apply category %s: %w", c.ID, err)
		}
	}
	for _, p := range resp.Products {
		if err := e.store.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("apply product %s: %w", p.ID, err)
		}
	}
	for _, u := range resp.Users {
		if err := e.store.UpsertUser(ctx, u); err != nil {
			return fmt.Errorf("apply user %s: %w", u.ID, err)
		}
	}
	if resp.Store != nil {
		if err := e.store.UpsertStoreInfo(ctx, *resp.Store); err != nil {
			return fmt.Errorf("apply store info: %w", err)
		}
	}

	if err := e.checkpoint.SetLastSyncAt(resp.SyncTimestamp); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	at := resp.SyncTimestamp.UTC()
	e.mu.Lock()
	e.lastSync = &at
	e.mu.Unlock()

	if n := len(resp.Categories) + len(resp.Products) + len(resp.Users); n > 0 {
		log.Printf("[sync] pulled %d reference rows, checkpoint %s", n, at.Format(time.RFC3339))
	}
	return nil
}
