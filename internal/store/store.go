package store

import (
	"context"
	"encoding/json"
	"time"

	"signoff/internal/approvals"
)

// Installation is the stored record linking a tenant to the bot
// credentials issued for it
type Installation struct {
	TenantId   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	BotToken   string `json:"botToken"`
	BotId      string `json:"botId"`
	BotUserId  string `json:"botUserId"`
}

type CreateApprovalOpts struct {
	Id          string          `json:"id"`
	Type        approvals.Type  `json:"type"`
	TenantId    string          `json:"tenantId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

type DecideApprovalOpts struct {
	Id         string           `json:"id"`
	Action     approvals.Action `json:"action"`
	Actor      string           `json:"actor"`
	Reason     *string          `json:"reason,omitempty"`
	OutcomeRef *string          `json:"outcomeRef,omitempty"`
}

// Store is the contract of the remote persistence collaborator that
// is the system of record for approvals and installations. DecideApproval
// performs the pending-to-terminal transition atomically and reports
// a conflict when the record is already terminal; implementations
// must distinguish absence from transport failure
type Store interface {
	CreateApproval(ctx context.Context, opts CreateApprovalOpts) (*approvals.Approval, error)
	GetApproval(ctx context.Context, approvalId string) (*approvals.Approval, error)
	ListApprovals(ctx context.Context, status approvals.Status) ([]approvals.Approval, error)
	DecideApproval(ctx context.Context, opts DecideApprovalOpts) (*approvals.Approval, error)
	ExpireDueApprovals(ctx context.Context, now time.Time) ([]approvals.Approval, error)
	SetApprovalNotification(ctx context.Context, approvalId, channelRef, messageRef string) error
	GetInstallation(ctx context.Context, tenantId string) (*Installation, error)
}
