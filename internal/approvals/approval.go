package approvals

import (
	"encoding/json"
	"time"
)

// Approval is the central record tracking one human-in-the-loop
// decision gating an external action. The remote store is the system
// of record for it, in-process copies are read accelerators only
type Approval struct {
	Id          string          `json:"id"`
	Type        Type            `json:"type"`
	TenantId    string          `json:"tenantId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Status      Status          `json:"status"`
	ChannelRef  string          `json:"channelRef"`
	MessageRef  string          `json:"messageRef"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	DecidedBy   *string         `json:"decidedBy,omitempty"`
	DecidedAt   *time.Time      `json:"decidedAt,omitempty"`
	OutcomeRef  *string         `json:"outcomeRef,omitempty"`
}

// IsPending indicates whether the approval can still receive a
// terminal transition
func (a *Approval) IsPending() bool {
	return a.Status == StatusPending
}

// IsDue indicates whether the approval should be expired as at the
// provided point in time
func (a *Approval) IsDue(now time.Time) bool {
	return a.Status == StatusPending && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
