package signature

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"signoff/internal/types"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedHeaders(secret string, timestamp int64, body []byte) http.Header {
	headers := http.Header{}
	headers.Set(HeaderTimestamp, fmt.Sprintf("%d", timestamp))
	headers.Set(HeaderSignature, VersionPrefix+"="+Sign(secret, timestamp, body))
	return headers
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	verifier := NewVerifier(testSecret)

	headers := signedHeaders(testSecret, now.Unix(), body)
	if err := verifier.Verify(body, headers, now); err != nil {
		t.Fatalf("expected a correctly signed request to verify, got %v", err)
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := NewVerifier(testSecret)
	headers := http.Header{}
	headers.Set(HeaderTimestamp, fmt.Sprintf("%d", now.Unix()))
	if err := verifier.Verify([]byte("{}"), headers, now); !errors.Is(err, types.ErrorMissingSignature) {
		t.Errorf("expected ErrorMissingSignature, got %v", err)
	}
}

func TestVerifyMalformedSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := NewVerifier(testSecret)
	headers := signedHeaders(testSecret, now.Unix(), []byte("{}"))
	headers.Set(HeaderSignature, "v1="+Sign(testSecret, now.Unix(), []byte("{}")))
	if err := verifier.Verify([]byte("{}"), headers, now); !errors.Is(err, types.ErrorMalformedSignature) {
		t.Errorf("expected ErrorMalformedSignature, got %v", err)
	}
}

func TestVerifyMissingTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := NewVerifier(testSecret)
	headers := signedHeaders(testSecret, now.Unix(), []byte("{}"))
	headers.Del(HeaderTimestamp)
	if err := verifier.Verify([]byte("{}"), headers, now); !errors.Is(err, types.ErrorMissingTimestamp) {
		t.Errorf("expected ErrorMissingTimestamp, got %v", err)
	}
}

func TestVerifyInvalidTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := NewVerifier(testSecret)
	headers := signedHeaders(testSecret, now.Unix(), []byte("{}"))
	headers.Set(HeaderTimestamp, "yesterday")
	if err := verifier.Verify([]byte("{}"), headers, now); !errors.Is(err, types.ErrorInvalidTimestamp) {
		t.Errorf("expected ErrorInvalidTimestamp, got %v", err)
	}
}

func TestVerifyStaleRequest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"type":"event_callback"}`)
	verifier := NewVerifier(testSecret)

	// a payload replayed 10 minutes later is rejected
	staleHeaders := signedHeaders(testSecret, now.Add(-10*time.Minute).Unix(), body)
	if err := verifier.Verify(body, staleHeaders, now); !errors.Is(err, types.ErrorStaleRequest) {
		t.Errorf("expected ErrorStaleRequest for an old timestamp, got %v", err)
	}

	// a timestamp from the future is equally rejected
	futureHeaders := signedHeaders(testSecret, now.Add(10*time.Minute).Unix(), body)
	if err := verifier.Verify(body, futureHeaders, now); !errors.Is(err, types.ErrorStaleRequest) {
		t.Errorf("expected ErrorStaleRequest for a future timestamp, got %v", err)
	}

	// a timestamp just inside the window on either side is accepted
	for _, offset := range []time.Duration{-299 * time.Second, 299 * time.Second} {
		headers := signedHeaders(testSecret, now.Add(offset).Unix(), body)
		if err := verifier.Verify(body, headers, now); err != nil {
			t.Errorf("expected offset[%v] to verify, got %v", offset, err)
		}
	}
}

func TestVerifySignatureMismatch(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := NewVerifier(testSecret)

	headers := signedHeaders("some-other-secret", now.Unix(), []byte("{}"))
	if err := verifier.Verify([]byte("{}"), headers, now); !errors.Is(err, types.ErrorSignatureMismatch) {
		t.Errorf("expected ErrorSignatureMismatch for a wrong secret, got %v", err)
	}
}

func TestVerifyFlippedBodyByte(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"type":"block_actions","user":{"id":"U123"}}`)
	verifier := NewVerifier(testSecret)
	headers := signedHeaders(testSecret, now.Unix(), body)

	for i := range body {
		tampered := make([]byte, len(body))
		copy(tampered, body)
		tampered[i] ^= 0x01
		if err := verifier.Verify(tampered, headers, now); !errors.Is(err, types.ErrorSignatureMismatch) {
			t.Fatalf("expected ErrorSignatureMismatch after flipping byte %d, got %v", i, err)
		}
	}
}
