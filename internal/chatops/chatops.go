package chatops

import (
	"context"

	"signoff/internal/approvals"
	"signoff/internal/credentials"
)

// Message is what gets posted to a channel. When Approval is set the
// platform implementation renders it as an actionable approval
// notification with approve/reject controls
type Message struct {
	Text     string
	Approval *approvals.Approval
}

type Channel struct {
	Id   string
	Name string
}

// Client is the capability surface this system needs from the chat
// platform, everything else about the platform is out of scope
type Client interface {
	PostMessage(ctx context.Context, channelRef string, message Message) (messageRef string, err error)
	UpdateMessage(ctx context.Context, channelRef, messageRef string, message Message) error
	PostEphemeral(ctx context.Context, channelRef, userRef, text string) error
	ListChannels(ctx context.Context) ([]Channel, error)
}

// ClientFactory builds a Client bound to one tenant's credentials,
// the router calls it per verified request
type ClientFactory func(credential credentials.Credential) Client
