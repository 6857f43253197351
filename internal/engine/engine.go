package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"signoff/internal/approvals"
	"signoff/internal/common"
	"signoff/internal/store"
	"signoff/internal/types"
)

type NewEngineOpts struct {
	Store       store.Store
	ServiceLogs chan<- common.ServiceLog
}

func NewEngine(opts NewEngineOpts) *Engine {
	serviceLogs := opts.ServiceLogs
	if serviceLogs == nil {
		serviceLogs = common.GetNoopServiceLog()
	}
	return &Engine{
		store:       opts.Store,
		serviceLogs: serviceLogs,
		cached:      map[string]approvals.Approval{},
	}
}

// Engine owns the approval state machine. It is the only writer of
// status/decidedBy/decidedAt/outcomeRef; the store performs every
// terminal transition atomically so two concurrent decisions on the
// same approval resolve to one winner. The in-process cache is a
// read accelerator, never the authority for whether a decision is
// still possible
type Engine struct {
	store       store.Store
	serviceLogs chan<- common.ServiceLog

	mutex  sync.RWMutex
	cached map[string]approvals.Approval
}

type CreateOpts struct {
	Type        approvals.Type
	TenantId    string
	Title       string
	Description string
	Payload     json.RawMessage
	Priority    int
	ExpiresAt   *time.Time
}

func (e *Engine) Create(ctx context.Context, opts CreateOpts) (*approvals.Approval, error) {
	if !approvals.IsValidType(opts.Type) {
		return nil, fmt.Errorf("failed to recognise approval type[%s]: %w", opts.Type, types.ErrorInvalidInput)
	}
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("failed to accept an expiry in the past: %w", types.ErrorInvalidInput)
	}
	approvalId := uuid.New().String()
	approval, err := e.store.CreateApproval(ctx, store.CreateApprovalOpts{
		Id:          approvalId,
		Type:        opts.Type,
		TenantId:    opts.TenantId,
		Title:       opts.Title,
		Description: opts.Description,
		Payload:     opts.Payload,
		Priority:    opts.Priority,
		ExpiresAt:   opts.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create approval[%s]: %w", approvalId, err)
	}
	e.cache(*approval)
	e.serviceLogs <- common.ServiceLogf(common.LogLevelInfo, "created approval[%s] of type[%s] for tenant[%s]", approval.Id, approval.Type, approval.TenantId)
	return approval, nil
}

// Get serves from the in-process cache when possible and falls back
// to the store. The cached copy reflects the engine's own last write
// but may be stale relative to external writers, callers needing
// decision-time freshness rely on Decide's atomic check instead
func (e *Engine) Get(ctx context.Context, approvalId string) (*approvals.Approval, error) {
	e.mutex.RLock()
	cached, ok := e.cached[approvalId]
	e.mutex.RUnlock()
	if ok {
		return &cached, nil
	}
	approval, err := e.store.GetApproval(ctx, approvalId)
	if err != nil {
		return nil, err
	}
	e.cache(*approval)
	return approval, nil
}

// Refresh reloads an approval from the store and replaces any cached
// copy. Use it when another writer may have moved the approval past
// what the cache remembers, such as after a lost decision race
func (e *Engine) Refresh(ctx context.Context, approvalId string) (*approvals.Approval, error) {
	approval, err := e.store.GetApproval(ctx, approvalId)
	if err != nil {
		return nil, err
	}
	e.cache(*approval)
	return approval, nil
}

// List returns approvals in the given status straight from the
// store, ordered by creation time
func (e *Engine) List(ctx context.Context, status approvals.Status) ([]approvals.Approval, error) {
	listed, err := e.store.ListApprovals(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals in status[%s]: %w", status, err)
	}
	return listed, nil
}

type DecideOpts struct {
	ApprovalId string
	Action     approvals.Action
	Actor      string
	Reason     *string
	OutcomeRef *string
}

// Decide applies the single allowed terminal transition for a human
// decision. The store revalidates status atomically, a cached
// pending copy is never proof the approval is still decidable
func (e *Engine) Decide(ctx context.Context, opts DecideOpts) (*approvals.Approval, error) {
	approval, err := e.store.DecideApproval(ctx, store.DecideApprovalOpts{
		Id:         opts.ApprovalId,
		Action:     opts.Action,
		Actor:      opts.Actor,
		Reason:     opts.Reason,
		OutcomeRef: opts.OutcomeRef,
	})
	if err != nil {
		return nil, err
	}
	e.cache(*approval)
	e.serviceLogs <- common.ServiceLogf(common.LogLevelInfo, "approval[%s] %s by %s", approval.Id, approval.Status, opts.Actor)
	return approval, nil
}

// ExpireDue transitions every pending approval whose expiry has
// passed and returns the newly expired records in ascending expiry
// order. Already-terminal records are untouched so repeated sweeps
// over the same instant are idempotent
func (e *Engine) ExpireDue(ctx context.Context, now time.Time) ([]approvals.Approval, error) {
	expired, err := e.store.ExpireDueApprovals(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire due approvals: %w", err)
	}
	sort.Slice(expired, func(i, j int) bool {
		// a remote store can hand back an expired record without an
		// expiry timestamp, those sort first
		left, right := expired[i].ExpiresAt, expired[j].ExpiresAt
		if left == nil || right == nil {
			return right != nil
		}
		return left.Before(*right)
	})
	for _, approval := range expired {
		e.cache(approval)
	}
	if len(expired) > 0 {
		e.serviceLogs <- common.ServiceLogf(common.LogLevelInfo, "expired %v due approvals", len(expired))
	}
	return expired, nil
}

// SetNotification records where the approval's notification message
// was posted so terminal transitions can edit it later
func (e *Engine) SetNotification(ctx context.Context, approvalId, channelRef, messageRef string) error {
	if err := e.store.SetApprovalNotification(ctx, approvalId, channelRef, messageRef); err != nil {
		return fmt.Errorf("failed to set notification refs on approval[%s]: %w", approvalId, err)
	}
	e.mutex.Lock()
	if cached, ok := e.cached[approvalId]; ok {
		cached.ChannelRef = channelRef
		cached.MessageRef = messageRef
		e.cached[approvalId] = cached
	}
	e.mutex.Unlock()
	return nil
}

func (e *Engine) cache(approval approvals.Approval) {
	e.mutex.Lock()
	e.cached[approval.Id] = approval
	e.mutex.Unlock()
}

// CachedCount is used by tests to assert on cache contents
func (e *Engine) CachedCount() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return len(e.cached)
}
