package chatops

import (
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"signoff/internal/approvals"
)

func TestGetApprovalBlocksPending(t *testing.T) {
	expiresAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	approval := &approvals.Approval{
		Id:          "approval-1",
		Type:        approvals.TypePr,
		Title:       "merge release branch",
		Description: "release v1.4.0",
		Status:      approvals.StatusPending,
		ExpiresAt:   &expiresAt,
	}
	blocks := getApprovalBlocks(approval)
	if len(blocks) != 2 {
		t.Fatalf("expected a section and an action block, got %d blocks", len(blocks))
	}
	actionBlock, ok := blocks[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("expected an action block, got %T", blocks[1])
	}
	if actionBlock.BlockID != "approval_actions_approval-1" {
		t.Errorf("unexpected block id: %s", actionBlock.BlockID)
	}
	if len(actionBlock.Elements.ElementSet) != 2 {
		t.Fatalf("expected approve and reject buttons, got %d elements", len(actionBlock.Elements.ElementSet))
	}
	approveButton, ok := actionBlock.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	if !ok {
		t.Fatalf("expected a button element, got %T", actionBlock.Elements.ElementSet[0])
	}
	if approveButton.ActionID != string(approvals.ActionApprove) || approveButton.Value != "approval-1" {
		t.Errorf("unexpected approve button wiring: action[%s] value[%s]", approveButton.ActionID, approveButton.Value)
	}
}

func TestGetApprovalBlocksDecided(t *testing.T) {
	decidedBy := "U456"
	approval := &approvals.Approval{
		Id:        "approval-2",
		Type:      approvals.TypeRun,
		Title:     "run database migration",
		Status:    approvals.StatusApproved,
		DecidedBy: &decidedBy,
	}
	blocks := getApprovalBlocks(approval)
	if len(blocks) != 1 {
		t.Fatalf("expected the buttons removed once decided, got %d blocks", len(blocks))
	}
}

func TestGetApprovalText(t *testing.T) {
	decidedBy := "U456"
	rejected := &approvals.Approval{
		Title:     "publish changelog",
		Status:    approvals.StatusRejected,
		DecidedBy: &decidedBy,
	}
	if text := getApprovalText(rejected); !strings.Contains(text, "rejected by `U456`") {
		t.Errorf("expected the decider named, got %q", text)
	}

	expired := &approvals.Approval{
		Title:  "weekly digest",
		Status: approvals.StatusExpired,
	}
	if text := getApprovalText(expired); !strings.Contains(text, "expired without a decision") {
		t.Errorf("expected an expiry notice, got %q", text)
	}

	undecided := &approvals.Approval{
		Title:  "close stale issues",
		Status: approvals.StatusApproved,
	}
	if text := getApprovalText(undecided); !strings.Contains(text, "unknown") {
		t.Errorf("expected an unknown decider fallback, got %q", text)
	}
}
