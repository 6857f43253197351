package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"signoff/internal/approvals"
	"signoff/internal/chatops"
	"signoff/internal/common"
	"signoff/internal/engine"
)

// slashCommandResponse is rendered straight into the command
// response body, the platform shows it to the invoking user
type slashCommandResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

const (
	responseTypeEphemeral = "ephemeral"
	responseTypeInChannel = "in_channel"
)

func sendSlashCommandResponse(w http.ResponseWriter, responseType, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(slashCommandResponse{
		ResponseType: responseType,
		Text:         text,
	})
}

const slashCommandUsage = "Usage: `list`, `status <approval-id>`, or `create <type> <title>`"

func (ro *Router) getCommandsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := common.GetRequestLogger(r)
		rawBody, ok := ro.readVerifiedBody(w, r)
		if !ok {
			return
		}

		formValues, err := url.ParseQuery(string(rawBody))
		if err != nil {
			common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to parse request body", err)
			return
		}
		tenantId := formValues.Get("team_id")
		enterpriseId := formValues.Get("enterprise_id")
		userId := formValues.Get("user_id")
		channelId := formValues.Get("channel_id")
		commandText := formValues.Get("text")
		if !ro.checkRateLimit(w, r, tenantId) {
			return
		}
		eventsReceivedCounter.WithLabelValues(string(EventKindSlashCommand)).Inc()
		log(common.LogLevelInfo, fmt.Sprintf("received command[%s] from user[%s] in tenant[%s]", commandText, userId, tenantId))

		arguments := strings.Fields(commandText)
		if len(arguments) == 0 {
			sendSlashCommandResponse(w, responseTypeEphemeral, slashCommandUsage)
			return
		}
		switch arguments[0] {
		case "list":
			ro.handleListCommand(w, r)
		case "status":
			if len(arguments) < 2 {
				sendSlashCommandResponse(w, responseTypeEphemeral, "Usage: `status <approval-id>`")
				return
			}
			ro.handleStatusCommand(w, r, arguments[1])
		case "create":
			if len(arguments) < 3 {
				sendSlashCommandResponse(w, responseTypeEphemeral, "Usage: `create <type> <title>`")
				return
			}
			ro.handleCreateCommand(w, r, createCommandOpts{
				ChannelRef:   channelId,
				EnterpriseId: enterpriseId,
				TenantId:     tenantId,
				Title:        strings.Join(arguments[2:], " "),
				Type:         approvals.Type(arguments[1]),
				UserRef:      userId,
			})
		default:
			sendSlashCommandResponse(w, responseTypeEphemeral, slashCommandUsage)
		}
	}
}

func (ro *Router) handleListCommand(w http.ResponseWriter, r *http.Request) {
	pending, err := ro.engine.List(r.Context(), approvals.StatusPending)
	if err != nil {
		common.SendHttpFailResponse(w, r, http.StatusInternalServerError, "failed to list approvals", err)
		return
	}
	if len(pending) == 0 {
		sendSlashCommandResponse(w, responseTypeEphemeral, "There are no pending approval requests.")
		return
	}
	var listing strings.Builder
	fmt.Fprintf(&listing, "*%v pending approval request(s):*\n", len(pending))
	for _, approval := range pending {
		fmt.Fprintf(&listing, "• `%s` [%s] %s\n", approval.Id, approval.Type, approval.Title)
	}
	sendSlashCommandResponse(w, responseTypeEphemeral, listing.String())
}

func (ro *Router) handleStatusCommand(w http.ResponseWriter, r *http.Request, approvalId string) {
	approval, err := ro.engine.Get(r.Context(), approvalId)
	if err != nil {
		sendSlashCommandResponse(w, responseTypeEphemeral, fmt.Sprintf("Could not find an approval request with id `%s`.", approvalId))
		return
	}
	statusText := fmt.Sprintf("`%s` [%s] %s is *%s*", approval.Id, approval.Type, approval.Title, approval.Status)
	if approval.DecidedBy != nil {
		statusText = fmt.Sprintf("%s by <@%s>", statusText, *approval.DecidedBy)
	}
	sendSlashCommandResponse(w, responseTypeEphemeral, statusText)
}

type createCommandOpts struct {
	ChannelRef   string
	EnterpriseId string
	TenantId     string
	Title        string
	Type         approvals.Type
	UserRef      string
}

func (ro *Router) handleCreateCommand(w http.ResponseWriter, r *http.Request, opts createCommandOpts) {
	approval, err := ro.engine.Create(r.Context(), engine.CreateOpts{
		Type:     opts.Type,
		TenantId: opts.TenantId,
		Title:    opts.Title,
	})
	if err != nil {
		sendSlashCommandResponse(w, responseTypeEphemeral, fmt.Sprintf("Could not create the approval request: %s", err))
		return
	}
	sendSlashCommandResponse(w, responseTypeInChannel, fmt.Sprintf("Created approval request `%s`.", approval.Id))

	// the notification post happens after the command response so the
	// platform deadline is never at the mercy of the chat api
	go func() {
		ctx, cancel := ro.dispatchContext()
		defer cancel()
		if err := ro.notifyApproval(ctx, *approval, opts.EnterpriseId, opts.ChannelRef); err != nil {
			ro.serviceLogs <- common.ServiceLogf(common.LogLevelError, "failed to notify approval[%s]: %s", approval.Id, err)
		}
	}()
}

// notifyApproval posts the actionable notification for an approval
// and records where it landed so later transitions can edit it
func (ro *Router) notifyApproval(ctx context.Context, approval approvals.Approval, enterpriseId, channelRef string) error {
	credential, err := ro.credentials.Resolve(ctx, approval.TenantId, enterpriseId)
	if err != nil {
		return fmt.Errorf("failed to resolve credentials for tenant[%s]: %w", approval.TenantId, err)
	}
	chatClient := ro.chatClientFactory(credential)
	messageRef, err := chatClient.PostMessage(ctx, channelRef, chatops.Message{Approval: &approval})
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	if err := ro.engine.SetNotification(ctx, approval.Id, channelRef, messageRef); err != nil {
		return fmt.Errorf("failed to record notification refs: %w", err)
	}
	return nil
}
