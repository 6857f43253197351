package chatops

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"signoff/internal/approvals"
	"signoff/internal/credentials"
)

// SlackClient fulfils Client against the Slack Web API using a
// single tenant's bot token
type SlackClient struct {
	Client *slack.Client
}

func NewSlackClient(credential credentials.Credential) Client {
	return &SlackClient{
		Client: slack.New(credential.BotToken),
	}
}

func (s *SlackClient) PostMessage(ctx context.Context, channelRef string, message Message) (string, error) {
	options := getMessageOptions(message)
	_, messageTimestamp, err := s.Client.PostMessageContext(ctx, channelRef, options...)
	if err != nil {
		return "", fmt.Errorf("failed to send message to channel[%s]: %w", channelRef, err)
	}
	return messageTimestamp, nil
}

func (s *SlackClient) UpdateMessage(ctx context.Context, channelRef, messageRef string, message Message) error {
	options := getMessageOptions(message)
	if _, _, _, err := s.Client.UpdateMessageContext(ctx, channelRef, messageRef, options...); err != nil {
		return fmt.Errorf("failed to update message[%s] in channel[%s]: %w", messageRef, channelRef, err)
	}
	return nil
}

func (s *SlackClient) PostEphemeral(ctx context.Context, channelRef, userRef, text string) error {
	if _, err := s.Client.PostEphemeralContext(
		ctx,
		channelRef,
		userRef,
		slack.MsgOptionText(text, false),
	); err != nil {
		return fmt.Errorf("failed to send ephemeral message to user[%s] in channel[%s]: %w", userRef, channelRef, err)
	}
	return nil
}

func (s *SlackClient) ListChannels(ctx context.Context) ([]Channel, error) {
	channels := []Channel{}
	conversationCursor := ""
	for {
		conversations, nextCursor, err := s.Client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          conversationCursor,
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list channels: %w", err)
		}
		for _, conversation := range conversations {
			channels = append(channels, Channel{
				Id:   conversation.ID,
				Name: conversation.Name,
			})
		}
		if nextCursor == "" {
			break
		}
		conversationCursor = nextCursor
	}
	return channels, nil
}

func getMessageOptions(message Message) []slack.MsgOption {
	if message.Approval == nil {
		return []slack.MsgOption{slack.MsgOptionText(message.Text, false)}
	}
	return []slack.MsgOption{slack.MsgOptionBlocks(getApprovalBlocks(message.Approval)...)}
}

func getApprovalBlocks(approval *approvals.Approval) []slack.Block {
	text := getApprovalText(approval)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
	}
	if approval.IsPending() {
		blocks = append(blocks, slack.NewActionBlock(
			"approval_actions_"+approval.Id,
			slack.NewButtonBlockElement(string(approvals.ActionApprove), approval.Id, slack.NewTextBlockObject("plain_text", "Approve", false, false)),
			slack.NewButtonBlockElement(string(approvals.ActionReject), approval.Id, slack.NewTextBlockObject("plain_text", "Reject", false, false)),
		))
	}
	return blocks
}

func getApprovalText(approval *approvals.Approval) string {
	switch approval.Status {
	case approvals.StatusPending:
		text := fmt.Sprintf("*%s*\n%s\n_type: `%s`, priority: `%v`_", approval.Title, approval.Description, approval.Type, approval.Priority)
		if approval.ExpiresAt != nil {
			text += fmt.Sprintf("\n_expires at %s_", approval.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		}
		return text
	case approvals.StatusApproved:
		return fmt.Sprintf(":white_check_mark: *%s* was approved by `%s`", approval.Title, derefOrUnknown(approval.DecidedBy))
	case approvals.StatusRejected:
		return fmt.Sprintf(":x: *%s* was rejected by `%s`", approval.Title, derefOrUnknown(approval.DecidedBy))
	case approvals.StatusExpired:
		return fmt.Sprintf(":hourglass: *%s* expired without a decision", approval.Title)
	}
	return approval.Title
}

func derefOrUnknown(value *string) string {
	if value == nil {
		return "unknown"
	}
	return *value
}
