package executors

import (
	"context"
	"fmt"

	"signoff/internal/approvals"
	"signoff/internal/types"
)

// Outcome is what an executor reports back after attempting the
// approved action, OutcomeRef points at whatever the action produced
// (a merged PR, a created issue, a run id)
type Outcome struct {
	Success    bool    `json:"success"`
	OutcomeRef *string `json:"outcomeRef,omitempty"`
}

// Executor performs the external action an approval gates. The
// router treats it as an opaque collaborator, a failed execution
// becomes the approval's negative outcome rather than an error the
// webhook ever sees
type Executor interface {
	Execute(ctx context.Context, approval approvals.Approval, actorLabel string) (Outcome, error)
}

// Registry maps each approval type to its executor. The type set is
// closed, so the dispatch switch below is exhaustive and a new
// approval type surfaces here at compile review rather than as a
// silent fallthrough at runtime
type Registry struct {
	executors map[approvals.Type]Executor
}

func NewRegistry() *Registry {
	return &Registry{
		executors: map[approvals.Type]Executor{},
	}
}

func (r *Registry) Register(approvalType approvals.Type, executor Executor) {
	r.executors[approvalType] = executor
}

func (r *Registry) Get(approvalType approvals.Type) (Executor, error) {
	switch approvalType {
	case approvals.TypeIssue,
		approvals.TypePr,
		approvals.TypeContent,
		approvals.TypeRun,
		approvals.TypeBrief:
		executor, ok := r.executors[approvalType]
		if !ok {
			return nil, fmt.Errorf("failed to find an executor for type[%s]: %w", approvalType, types.ErrorExecutorIssue)
		}
		return executor, nil
	}
	return nil, fmt.Errorf("failed to recognise approval type[%s]: %w", approvalType, types.ErrorInvalidInput)
}
