package approvals

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Type enumerates the kinds of external actions an approval can
// gate. The set is closed, components dispatching on it switch
// exhaustively so a new type is a compile-visible change
type Type string

const (
	TypeIssue   Type = "issue"
	TypePr      Type = "pr"
	TypeContent Type = "content"
	TypeRun     Type = "run"
	TypeBrief   Type = "brief"
)

var Types = []Type{
	TypeIssue,
	TypePr,
	TypeContent,
	TypeRun,
	TypeBrief,
}

// IsValidType reports whether the provided value names a known
// approval type
func IsValidType(t Type) bool {
	switch t {
	case TypeIssue, TypePr, TypeContent, TypeRun, TypeBrief:
		return true
	}
	return false
}
