package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"signoff/internal/common"
	"signoff/internal/queue"
	"signoff/internal/types"
)

// eventEnvelope is the outer shape of an events-api delivery, only
// the fields the router classifies on are mapped
type eventEnvelope struct {
	Type         string `json:"type"`
	Challenge    string `json:"challenge"`
	TeamId       string `json:"team_id"`
	EnterpriseId string `json:"enterprise_id"`
	EventId      string `json:"event_id"`
	Event        struct {
		Type        string `json:"type"`
		Team        string `json:"team"`
		ChannelType string `json:"channel_type"`
		Channel     string `json:"channel"`
		User        string `json:"user"`
		BotId       string `json:"bot_id"`
		Text        string `json:"text"`
		EventTs     string `json:"event_ts"`
	} `json:"event"`
}

const (
	eventTypeUrlVerification = "url_verification"
	eventTypeCallback        = "event_callback"
	eventTypeAppMention      = "app_mention"
	eventTypeMessage         = "message"
	channelTypeIm            = "im"
)

// readVerifiedBody reads the raw request body and checks its
// signature before anything parses it. A false return means the
// response has already been written
func (ro *Router) readVerifiedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to read request body", err)
		return nil, false
	}
	if err := ro.verifier.Verify(rawBody, r.Header, time.Now()); err != nil {
		statusCode := http.StatusUnauthorized
		if errors.Is(err, types.ErrorMissingSignature) ||
			errors.Is(err, types.ErrorMalformedSignature) ||
			errors.Is(err, types.ErrorMissingTimestamp) ||
			errors.Is(err, types.ErrorInvalidTimestamp) {
			statusCode = http.StatusBadRequest
		}
		common.SendHttpFailResponse(w, r, statusCode, "failed to verify request", err)
		return nil, false
	}
	return rawBody, true
}

// isDuplicateEvent records the event id in the dedupe cache and
// reports whether it was already there. Entries live for one replay
// window since older deliveries fail verification anyway
func (ro *Router) isDuplicateEvent(eventId string) bool {
	if ro.cache == nil || eventId == "" {
		return false
	}
	dedupeKey := fmt.Sprintf("signoff:events:%s", eventId)
	if _, err := ro.cache.Get(dedupeKey); err == nil {
		return true
	}
	if err := ro.cache.Set(dedupeKey, time.Now().Format(time.RFC3339), ro.verifier.ReplayWindow); err != nil {
		ro.serviceLogs <- common.ServiceLogf(common.LogLevelWarn, "failed to record event[%s] for deduplication: %s", eventId, err)
	}
	return false
}

func (ro *Router) getEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := common.GetRequestLogger(r)
		rawBody, ok := ro.readVerifiedBody(w, r)
		if !ok {
			return
		}

		var envelope eventEnvelope
		if err := json.Unmarshal(rawBody, &envelope); err != nil {
			common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to parse request body", err)
			return
		}

		// the challenge handshake happens before any tenant exists,
		// the platform expects the challenge echoed back verbatim
		if envelope.Type == eventTypeUrlVerification {
			eventsReceivedCounter.WithLabelValues(string(EventKindUrlVerificationChallenge)).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
			return
		}

		if envelope.Type != eventTypeCallback {
			common.SendHttpFailResponse(w, r, http.StatusBadRequest, "failed to classify request", fmt.Errorf("unknown envelope type[%s]: %w", envelope.Type, types.ErrorInvalidInput))
			return
		}

		// some event shapes only carry the workspace on the inner
		// event as team
		tenantId := envelope.TeamId
		if tenantId == "" {
			tenantId = envelope.Event.Team
		}
		if !ro.checkRateLimit(w, r, tenantId) {
			return
		}

		if ro.isDuplicateEvent(envelope.EventId) {
			log(common.LogLevelDebug, fmt.Sprintf("ignoring duplicate delivery of event[%s]", envelope.EventId))
			duplicateEventsCounter.Inc()
			common.SendHttpSuccessResponse(w, r, http.StatusOK, "duplicate")
			return
		}

		// messages the bot itself produced come back through the
		// events api, queueing them would loop forever
		if envelope.Event.BotId != "" {
			common.SendHttpSuccessResponse(w, r, http.StatusOK, "ignored")
			return
		}

		var kind EventKind
		switch {
		case envelope.Event.Type == eventTypeAppMention:
			kind = EventKindMention
		case envelope.Event.Type == eventTypeMessage && envelope.Event.ChannelType == channelTypeIm:
			kind = EventKindDirectMessage
		default:
			log(common.LogLevelDebug, fmt.Sprintf("ignoring event of type[%s/%s]", envelope.Event.Type, envelope.Event.ChannelType))
			common.SendHttpSuccessResponse(w, r, http.StatusOK, "ignored")
			return
		}
		eventsReceivedCounter.WithLabelValues(string(kind)).Inc()

		queuedEvent, err := json.Marshal(QueuedEvent{
			Kind:         kind,
			TenantId:     tenantId,
			EnterpriseId: envelope.EnterpriseId,
			ChannelRef:   envelope.Event.Channel,
			UserRef:      envelope.Event.User,
			Text:         envelope.Event.Text,
			EventTs:      envelope.Event.EventTs,
		})
		if err != nil {
			common.SendHttpFailResponse(w, r, http.StatusInternalServerError, "failed to prepare event", err)
			return
		}
		if _, err := ro.queue.Push(queue.PushOpts{
			Data:  queuedEvent,
			Queue: ro.queueOpts,
		}); err != nil {
			common.SendHttpFailResponse(w, r, http.StatusInternalServerError, "failed to queue event", fmt.Errorf("%s: %w", err, types.ErrorQueueIssue))
			return
		}
		log(common.LogLevelInfo, fmt.Sprintf("queued %s from tenant[%s] in channel[%s]", kind, tenantId, envelope.Event.Channel))
		common.SendHttpSuccessResponse(w, r, http.StatusOK, "queued")
	}
}

// dispatchContext backgrounds work that continues after the webhook
// response has been written
func (ro *Router) dispatchContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ro.dispatchTimeout)
}
