package types

import "errors"

var (
	// verification errors, all fatal to the inbound request and
	// raised before the request body is parsed
	ErrorMissingSignature   = errors.New("missing_signature")
	ErrorMalformedSignature = errors.New("malformed_signature")
	ErrorMissingTimestamp   = errors.New("missing_timestamp")
	ErrorInvalidTimestamp   = errors.New("invalid_timestamp")
	ErrorStaleRequest       = errors.New("stale_request")
	ErrorSignatureMismatch  = errors.New("signature_mismatch")

	// resolution errors, absence and infrastructure failure are
	// deliberately distinct and must never be collapsed
	ErrorNoInstallationFound = errors.New("no_installation_found")
	ErrorUpstreamUnavailable = errors.New("upstream_unavailable")

	// decision errors, reported to the actor as a notice
	ErrorNotFound       = errors.New("not_found")
	ErrorAlreadyDecided = errors.New("already_decided")

	ErrorRateLimited   = errors.New("rate_limited")
	ErrorInvalidInput  = errors.New("invalid_input")
	ErrorQueueIssue    = errors.New("queue_issue")
	ErrorExecutorIssue = errors.New("executor_issue")
)
