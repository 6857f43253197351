package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"signoff/internal/chatops"
	"signoff/internal/common"
	"signoff/internal/credentials"
	"signoff/internal/engine"
	"signoff/internal/executors"
	"signoff/internal/queue"
	"signoff/internal/signature"
	"signoff/internal/types"
)

// EventKind classifies an inbound webhook payload into the handling
// path it takes through the router
type EventKind string

const (
	EventKindSlashCommand             EventKind = "slashCommand"
	EventKindBlockAction              EventKind = "blockAction"
	EventKindUrlVerificationChallenge EventKind = "urlVerificationChallenge"
	EventKindMention                  EventKind = "mention"
	EventKindDirectMessage            EventKind = "directMessage"
)

// QueuedEvent is the unit of work handed to the queue for event
// kinds that are answered out-of-band, the responder worker consumes
// these
type QueuedEvent struct {
	Kind         EventKind `json:"kind"`
	TenantId     string    `json:"tenantId"`
	EnterpriseId string    `json:"enterpriseId,omitempty"`
	ChannelRef   string    `json:"channelRef"`
	UserRef      string    `json:"userRef"`
	Text         string    `json:"text"`
	EventTs      string    `json:"eventTs"`
}

type NewRouterOpts struct {
	// Cache backs event deduplication, entries live for one replay
	// window so a replayed delivery is recognised for as long as its
	// signature stays valid
	Cache common.Cache

	ChatClientFactory chatops.ClientFactory
	Credentials       *credentials.Resolver
	Engine            *engine.Engine
	Executors         *executors.Registry
	Queue             queue.Queue
	QueueOpts         queue.QueueOpts
	RateLimiter       *RateLimiter
	ServiceLogs       chan<- common.ServiceLog
	Verifier          signature.Verifier

	// DispatchTimeout bounds the background work kicked off after a
	// webhook has been acknowledged, defaults to
	// DefaultDispatchTimeout
	DispatchTimeout time.Duration
}

const DefaultDispatchTimeout = 10 * time.Second

func NewRouter(opts NewRouterOpts) *Router {
	serviceLogs := opts.ServiceLogs
	if serviceLogs == nil {
		serviceLogs = common.GetNoopServiceLog()
	}
	rateLimiter := opts.RateLimiter
	if rateLimiter == nil {
		rateLimiter = NewRateLimiter(NewRateLimiterOpts{})
	}
	dispatchTimeout := opts.DispatchTimeout
	if dispatchTimeout == 0 {
		dispatchTimeout = DefaultDispatchTimeout
	}
	return &Router{
		cache:             opts.Cache,
		chatClientFactory: opts.ChatClientFactory,
		credentials:       opts.Credentials,
		dispatchTimeout:   dispatchTimeout,
		engine:            opts.Engine,
		executors:         opts.Executors,
		queue:             opts.Queue,
		queueOpts:         opts.QueueOpts,
		rateLimiter:       rateLimiter,
		serviceLogs:       serviceLogs,
		verifier:          opts.Verifier,
	}
}

// Router owns the webhook ingress. Every request is verified against
// the raw body before any parsing, acknowledged within the platform
// deadline, and dispatched to the engine, an executor, or the queue
// depending on its classification
type Router struct {
	cache             common.Cache
	chatClientFactory chatops.ClientFactory
	credentials       *credentials.Resolver
	dispatchTimeout   time.Duration
	engine            *engine.Engine
	executors         *executors.Registry
	queue             queue.Queue
	queueOpts         queue.QueueOpts
	rateLimiter       *RateLimiter
	serviceLogs       chan<- common.ServiceLog
	verifier          signature.Verifier
}

func (ro *Router) RegisterRoutes(muxRouter *mux.Router) {
	v1 := muxRouter.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", ro.getEventsHandler()).Methods(http.MethodPost)
	v1.HandleFunc("/interactions", ro.getInteractionsHandler()).Methods(http.MethodPost)
	v1.HandleFunc("/commands", ro.getCommandsHandler()).Methods(http.MethodPost)
}

// GetHandler builds a standalone handler for tests and single-server
// deployments
func (ro *Router) GetHandler() http.Handler {
	muxRouter := mux.NewRouter()
	muxRouter.NotFoundHandler = common.GetNotFoundHandler()
	ro.RegisterRoutes(muxRouter)
	return muxRouter
}

// checkRateLimit enforces the per-tenant window, returning an error
// response when the tenant is over budget
func (ro *Router) checkRateLimit(w http.ResponseWriter, r *http.Request, tenantId string) bool {
	if ro.rateLimiter.Allow(tenantId, time.Now()) {
		return true
	}
	rateLimitedCounter.WithLabelValues(tenantId).Inc()
	common.SendHttpFailResponse(w, r, http.StatusTooManyRequests, "too many requests", fmt.Errorf("tenant[%s] exceeded its rate limit: %w", tenantId, types.ErrorRateLimited))
	return false
}
