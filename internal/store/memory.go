package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"signoff/internal/approvals"
	"signoff/internal/types"
)

// Memory is a Store kept entirely in-process, it exists for tests
// and single-node deployments that have no approval store service.
// The pending-to-terminal transition happens under the write lock so
// concurrent decisions on one approval resolve to exactly one winner
type Memory struct {
	mutex         sync.RWMutex
	approvalsById map[string]approvals.Approval
	installations map[string]Installation
}

func NewMemory() *Memory {
	return &Memory{
		approvalsById: map[string]approvals.Approval{},
		installations: map[string]Installation{},
	}
}

// AddInstallation seeds an installation record, this is the memory
// equivalent of the installation flow the store service owns
func (m *Memory) AddInstallation(installation Installation) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.installations[installation.TenantId] = installation
}

func (m *Memory) CreateApproval(ctx context.Context, opts CreateApprovalOpts) (*approvals.Approval, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	approval := approvals.Approval{
		Id:          opts.Id,
		Type:        opts.Type,
		TenantId:    opts.TenantId,
		Title:       opts.Title,
		Description: opts.Description,
		Payload:     opts.Payload,
		Priority:    opts.Priority,
		Status:      approvals.StatusPending,
		CreatedAt:   time.Now(),
		ExpiresAt:   opts.ExpiresAt,
	}
	m.approvalsById[approval.Id] = approval
	return &approval, nil
}

func (m *Memory) GetApproval(ctx context.Context, approvalId string) (*approvals.Approval, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	approval, ok := m.approvalsById[approvalId]
	if !ok {
		return nil, types.ErrorNotFound
	}
	return &approval, nil
}

func (m *Memory) ListApprovals(ctx context.Context, status approvals.Status) ([]approvals.Approval, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	listed := []approvals.Approval{}
	for _, approval := range m.approvalsById {
		if status == "" || approval.Status == status {
			listed = append(listed, approval)
		}
	}
	sort.Slice(listed, func(i, j int) bool {
		return listed[i].CreatedAt.Before(listed[j].CreatedAt)
	})
	return listed, nil
}

func (m *Memory) DecideApproval(ctx context.Context, opts DecideApprovalOpts) (*approvals.Approval, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	approval, ok := m.approvalsById[opts.Id]
	if !ok {
		return nil, types.ErrorNotFound
	}
	if approval.Status != approvals.StatusPending {
		return nil, types.ErrorAlreadyDecided
	}
	switch opts.Action {
	case approvals.ActionApprove:
		approval.Status = approvals.StatusApproved
	case approvals.ActionReject:
		approval.Status = approvals.StatusRejected
	default:
		return nil, types.ErrorInvalidInput
	}
	decidedAt := time.Now()
	actor := opts.Actor
	approval.DecidedBy = &actor
	approval.DecidedAt = &decidedAt
	approval.OutcomeRef = opts.OutcomeRef
	m.approvalsById[opts.Id] = approval
	return &approval, nil
}

func (m *Memory) ExpireDueApprovals(ctx context.Context, now time.Time) ([]approvals.Approval, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	expired := []approvals.Approval{}
	for id, approval := range m.approvalsById {
		if !approval.IsDue(now) {
			continue
		}
		approval.Status = approvals.StatusExpired
		m.approvalsById[id] = approval
		expired = append(expired, approval)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(*expired[j].ExpiresAt)
	})
	return expired, nil
}

func (m *Memory) SetApprovalNotification(ctx context.Context, approvalId, channelRef, messageRef string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	approval, ok := m.approvalsById[approvalId]
	if !ok {
		return types.ErrorNotFound
	}
	approval.ChannelRef = channelRef
	approval.MessageRef = messageRef
	m.approvalsById[approvalId] = approval
	return nil
}

func (m *Memory) GetInstallation(ctx context.Context, tenantId string) (*Installation, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	installation, ok := m.installations[tenantId]
	if !ok {
		return nil, types.ErrorNotFound
	}
	return &installation, nil
}
