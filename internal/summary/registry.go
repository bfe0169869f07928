package summary

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/llm"
	"github.com/foxseedlab/kaigiroku/internal/telemetry"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Registry maps conversation IDs to their accumulators.
type Registry struct {
	client  llm.Client
	cfg     Config
	metrics *telemetry.Metrics
	now     func() time.Time

	mu            sync.Mutex
	conversations map[string]*conversation
}

type conversation struct {
	acc        *Accumulator
	lastActive time.Time
}

func NewRegistry(client llm.Client, cfg Config, metrics *telemetry.Metrics) *Registry {
	return &Registry{
		client:        client,
		cfg:           cfg,
		metrics:       metrics,
		now:           time.Now,
		conversations: make(map[string]*conversation),
	}
}

// Get returns the accumulator for conversationID, creating it on first use.
func (r *Registry) Get(conversationID string) *Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(conversationID).acc
}

func (r *Registry) getLocked(conversationID string) *conversation {
	c, ok := r.conversations[conversationID]
	if !ok {
		c = &conversation{
			acc:        NewAccumulator(r.client, r.cfg, nil),
			lastActive: r.now(),
		}
		r.conversations[conversationID] = c
	}
	return c
}

func (r *Registry) lookup(conversationID string) (*Accumulator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return c.acc, true
}

// Append feeds text to the conversation, creating it on first use, and
// reports how many lines were added.
func (r *Registry) Append(conversationID, text string) int {
	r.mu.Lock()
	c := r.getLocked(conversationID)
	r.mu.Unlock()

	added := c.acc.AppendTranscript(text)
	if added > 0 {
		r.mu.Lock()
		c.lastActive = r.now()
		r.mu.Unlock()
	}
	return added
}

// Reconcile reconciles a known conversation. Unknown IDs return
// ErrConversationNotFound and are not created.
func (r *Registry) Reconcile(ctx context.Context, conversationID string) (Outline, error) {
	acc, ok := r.lookup(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}
	dirty := acc.Dirty()
	start := time.Now()
	outline, err := acc.Reconcile(ctx)
	r.observe(dirty, err, time.Since(start))
	return outline, err
}

// Outline returns the latest outline of a known conversation.
func (r *Registry) Outline(conversationID string) (Outline, bool) {
	acc, ok := r.lookup(conversationID)
	if !ok {
		return nil, false
	}
	return acc.Outline(), true
}

func (r *Registry) ConversationIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conversations))
	for id := range r.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run reconciles every conversation with unseen lines once per interval until
// ctx is done, then drops conversations idle longer than IdleTTL.
// Conversations are processed one at a time.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("outline scheduler started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("outline scheduler stopped")
			return
		case <-ticker.C:
			r.reconcileDirty(ctx)
			r.evictIdle()
		}
	}
}

func (r *Registry) reconcileDirty(ctx context.Context) {
	for _, id := range r.ConversationIDs() {
		if ctx.Err() != nil {
			return
		}
		acc, ok := r.lookup(id)
		if !ok || !acc.Dirty() {
			continue
		}
		outline, err := r.Reconcile(ctx, id)
		switch {
		case err == nil:
			slog.Debug("outline reconciled", "conversation_id", id, "sections", len(outline))
		case errors.Is(err, ErrReconcileInProgress):
			slog.Debug("outline reconcile skipped; another reconcile is running", "conversation_id", id)
		default:
			slog.Warn("outline reconcile failed; keeping previous outline", "conversation_id", id, "error", err)
		}
	}
}

// evictIdle drops conversations that received no new lines within IdleTTL.
func (r *Registry) evictIdle() int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, c := range r.conversations {
		if c.lastActive.Before(cutoff) {
			delete(r.conversations, id)
			evicted++
			slog.Info("outline conversation evicted after idle period", "conversation_id", id, "idle_ttl", r.cfg.IdleTTL.String())
		}
	}
	return evicted
}

func (r *Registry) observe(dirty bool, err error, elapsed time.Duration) {
	var rerr *ReconcileError
	switch {
	case errors.Is(err, ErrReconcileInProgress):
		r.metrics.Reconcile("in_progress", 0)
	case errors.As(err, &rerr):
		r.metrics.Reconcile(string(rerr.Kind)+"_error", elapsed.Seconds())
	case err != nil:
		r.metrics.Reconcile("error", elapsed.Seconds())
	case !dirty:
		r.metrics.Reconcile("skipped", 0)
	default:
		r.metrics.Reconcile("ok", elapsed.Seconds())
	}
}
