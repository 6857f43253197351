package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signoff/internal/types"
)

const (
	// HeaderSignature carries the versioned hex HMAC of the request
	HeaderSignature = "X-Signature"
	// HeaderTimestamp carries the request time as decimal unix seconds
	HeaderTimestamp = "X-Timestamp"

	VersionPrefix = "v0"

	// DefaultReplayWindow is the maximum tolerated skew between the
	// request timestamp and our clock, in either direction
	DefaultReplayWindow = 300 * time.Second
)

// Verifier checks that an inbound webhook request was produced by a
// holder of the signing secret recently enough to not be a replay.
// Verification is a pure function of the raw body, the headers and
// the current time, and runs before the body is parsed
type Verifier struct {
	SigningSecret string
	ReplayWindow  time.Duration
}

func NewVerifier(signingSecret string) Verifier {
	return Verifier{
		SigningSecret: signingSecret,
		ReplayWindow:  DefaultReplayWindow,
	}
}

func (v Verifier) Verify(rawBody []byte, headers http.Header, now time.Time) error {
	suppliedSignature := headers.Get(HeaderSignature)
	if suppliedSignature == "" {
		return types.ErrorMissingSignature
	}
	if !strings.HasPrefix(suppliedSignature, VersionPrefix+"=") {
		return types.ErrorMalformedSignature
	}
	suppliedSignature = strings.TrimPrefix(suppliedSignature, VersionPrefix+"=")

	suppliedTimestamp := headers.Get(HeaderTimestamp)
	if suppliedTimestamp == "" {
		return types.ErrorMissingTimestamp
	}
	timestamp, err := strconv.ParseInt(suppliedTimestamp, 10, 64)
	if err != nil {
		return types.ErrorInvalidTimestamp
	}

	replayWindow := v.ReplayWindow
	if replayWindow == 0 {
		replayWindow = DefaultReplayWindow
	}
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > replayWindow {
		return types.ErrorStaleRequest
	}

	expectedSignature := Sign(v.SigningSecret, timestamp, rawBody)
	if !hmac.Equal([]byte(expectedSignature), []byte(suppliedSignature)) {
		return types.ErrorSignatureMismatch
	}
	return nil
}

// Sign computes the lowercase hex HMAC-SHA256 over the canonical
// base string "v0:<timestamp>:<rawBody>" without the version prefix
func Sign(signingSecret string, timestamp int64, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(signingSecret))
	fmt.Fprintf(mac, "%s:%d:", VersionPrefix, timestamp)
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
