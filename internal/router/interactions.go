package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"signoff/internal/approvals"
	"signoff/internal/chatops"
	"signoff/internal/common"
	"signoff/internal/engine"
	"signoff/internal/executors"
	"signoff/internal/types"
)

const interactionTypeBlockActions = "block_actions"

// interactionPayload is the decoded form of the json carried in the
// `payload` form field of an interaction delivery
type interactionPayload struct {
	Type string `json:"type"`
	Team struct {
		Id string `json:"id"`
	} `json:"team"`
	Enterprise *struct {
		Id string `json:"id"`
	} `json:"enterprise"`
	User struct {
		Id       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Channel struct {
		Id string `json:"id"`
	} `json:"channel"`
	Message struct {
		Ts string `json:"ts"`
	} `json:"message"`
	Actions []struct {
		ActionId string `json:"action_id"`
		BlockId  string `json:"block_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func (ro *Router) getInteractionsHandler() http.HandlerFunc {
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
		var payload interactionPayload
		if err := json.Unmarshal([]byte(formValues.Get("payload")), &payload); err != nil {
			common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to parse interaction payload", err)
			return
		}
		if payload.Type != interactionTypeBlockActions || len(payload.Actions) == 0 {
			common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to classify interaction", fmt.Errorf("unsupported interaction type[%s]: %w", payload.Type, types.ErrorInvalidInput))
			return
		}
		if !ro.checkRateLimit(w, r, payload.Team.Id) {
			return
		}

		triggeredAction := payload.Actions[0]
		action := approvals.Action(triggeredAction.ActionId)
		if action != approvals.ActionApprove && action != approvals.ActionReject {
			common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to classify interaction", fmt.Errorf("unknown action[%s]: %w", triggeredAction.ActionId, types.ErrorInvalidInput))
			return
		}
		eventsReceivedCounter.WithLabelValues(string(EventKindBlockAction)).Inc()

		// the platform only waits a few seconds for this response, the
		// decision itself continues in the background and surfaces
		// through message updates
		log(common.LogLevelInfo, fmt.Sprintf("dispatching %s on approval[%s] by user[%s]", action, triggeredAction.Value, payload.User.Id))
		common.SendHttpSuccessResponse(w, r, http.StatusOK, "acknowledged")

		go func() {
			ctx, cancel := ro.dispatchContext()
			defer cancel()
			if err := ro.handleBlockAction(ctx, payload, action, triggeredAction.Value); err != nil {
				ro.serviceLogs <- common.ServiceLogf(common.LogLevelError, "failed to handle %s on approval[%s]: %s", action, triggeredAction.Value, err)
			}
		}()
	}
}

func (ro *Router) handleBlockAction(ctx context.Context, payload interactionPayload, action approvals.Action, approvalId string) error {
	enterpriseId := ""
	if payload.Enterprise != nil {
		enterpriseId = payload.Enterprise.Id
	}
	credential, err := ro.credentials.Resolve(ctx, payload.Team.Id, enterpriseId)
	if err != nil {
		return fmt.Errorf("failed to resolve credentials for tenant[%s]: %w", payload.Team.Id, err)
	}
	chatClient := ro.chatClientFactory(credential)

	approval, err := ro.engine.Get(ctx, approvalId)
	if err != nil {
		if errors.Is(err, types.ErrorNotFound) {
			return chatClient.PostEphemeral(ctx, payload.Channel.Id, payload.User.Id, fmt.Sprintf("This approval request no longer exists (`%s`).", approvalId))
		}
		return fmt.Errorf("failed to get approval[%s]: %w", approvalId, err)
	}

	if !approval.IsPending() {
		decisionsCounter.WithLabelValues(string(action), "already_decided").Inc()
		return chatClient.PostEphemeral(ctx, payload.Channel.Id, payload.User.Id, getAlreadyDecidedText(*approval))
	}

	var outcomeRef *string
	var reason *string
	if action == approvals.ActionApprove {
		executor, err := ro.executors.Get(approval.Type)
		if err != nil {
			decisionsCounter.WithLabelValues(string(action), "executor_missing").Inc()
			return chatClient.PostEphemeral(ctx, payload.Channel.Id, payload.User.Id, fmt.Sprintf("No executor is configured for `%s` requests, the approval stays pending.", approval.Type))
		}
		outcome, err := executors.ExecuteWithRetry(ctx, executor, *approval, payload.User.Id, 3)
		if err != nil {
			// the endpoint was unreachable, nothing definitive was
			// reported, so the approval stays pending and retryable
			decisionsCounter.WithLabelValues(string(action), "executor_unreachable").Inc()
			ro.serviceLogs <- common.ServiceLogf(common.LogLevelError, "failed to reach executor for approval[%s]: %s", approval.Id, err)
			return chatClient.PostEphemeral(ctx, payload.Channel.Id, payload.User.Id, "Execution failed, the approval is still pending. Try again in a moment.")
		}
		outcomeRef = outcome.OutcomeRef
		if !outcome.Success {
			// a definitive failure from the endpoint is the outcome of
			// this approval, it lands as a rejection
			decisionsCounter.WithLabelValues(string(action), "executor_rejected").Inc()
			action = approvals.ActionReject
			failureReason := "execution reported failure"
			reason = &failureReason
		}
	}

	decided, err := ro.engine.Decide(ctx, engine.DecideOpts{
		ApprovalId: approval.Id,
		Action:     action,
		Actor:      payload.User.Id,
		Reason:     reason,
		OutcomeRef: outcomeRef,
	})
	if err != nil {
		if errors.Is(err, types.ErrorAlreadyDecided) {
			decisionsCounter.WithLabelValues(string(action), "lost_race").Inc()
			// the cached copy is what just lost the race, only the
			// store knows who won
			current, getErr := ro.engine.Refresh(ctx, approval.Id)
			if getErr != nil {
				return fmt.Errorf("failed to refresh approval[%s] after losing the decision race: %w", approval.Id, getErr)
			}
			return chatClient.PostEphemeral(ctx, payload.Channel.Id, payload.User.Id, getAlreadyDecidedText(*current))
		}
		decisionsCounter.WithLabelValues(string(action), "error").Inc()
		return fmt.Errorf("failed to decide approval[%s]: %w", approval.Id, err)
	}
	decisionsCounter.WithLabelValues(string(action), "ok").Inc()

	channelRef, messageRef := decided.ChannelRef, decided.MessageRef
	if channelRef == "" || messageRef == "" {
		channelRef, messageRef = payload.Channel.Id, payload.Message.Ts
	}
	if err := chatClient.UpdateMessage(ctx, channelRef, messageRef, chatops.Message{Approval: decided}); err != nil {
		return fmt.Errorf("failed to update notification for approval[%s]: %w", decided.Id, err)
	}
	return nil
}

func getAlreadyDecidedText(approval approvals.Approval) string {
	switch approval.Status {
	case approvals.StatusApproved, approvals.StatusRejected:
		decidedBy := "someone else"
		if approval.DecidedBy != nil {
			decidedBy = fmt.Sprintf("<@%s>", *approval.DecidedBy)
		}
		return fmt.Sprintf("This request was already %s by %s.", approval.Status, decidedBy)
	case approvals.StatusExpired:
		return "This request has expired and can no longer be decided."
	}
	return fmt.Sprintf("This request is already %s.", approval.Status)
}
