package executors_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"signoff/internal/approvals"
	"signoff/internal/executors"
	"signoff/internal/types"
)

type stubExecutor struct {
	outcome executors.Outcome
	err     error
	calls   int
}

func (s *stubExecutor) Execute(ctx context.Context, approval approvals.Approval, actorLabel string) (executors.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func TestRegistryGet(t *testing.T) {
	registry := executors.NewRegistry()
	stub := &stubExecutor{}
	registry.Register(approvals.TypePr, stub)

	executor, err := registry.Get(approvals.TypePr)
	if err != nil {
		t.Fatalf("failed to get registered executor: %s", err)
	}
	if executor != stub {
		t.Errorf("expected the registered executor back")
	}

	if _, err := registry.Get(approvals.TypeRun); !errors.Is(err, types.ErrorExecutorIssue) {
		t.Errorf("expected executor issue for an unconfigured type, got %s", err)
	}
	if _, err := registry.Get(approvals.Type("coffee")); !errors.Is(err, types.ErrorInvalidInput) {
		t.Errorf("expected invalid input for an unknown type, got %s", err)
	}
}

func TestLoadEndpointConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "executors.yaml")
	configData := "endpoints:\n  pr: http://localhost:8080/hooks/pr\n  run: http://localhost:8080/hooks/run\n"
	if err := os.WriteFile(configPath, []byte(configData), 0o600); err != nil {
		t.Fatalf("failed to write config: %s", err)
	}
	registry, err := executors.LoadEndpointConfig(configPath, nil)
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}
	if _, err := registry.Get(approvals.TypePr); err != nil {
		t.Errorf("expected a pr executor: %s", err)
	}
	if _, err := registry.Get(approvals.TypeRun); err != nil {
		t.Errorf("expected a run executor: %s", err)
	}
	if _, err := registry.Get(approvals.TypeIssue); err == nil {
		t.Errorf("expected no issue executor")
	}
}

func TestLoadEndpointConfigRejectsUnknownType(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "executors.yaml")
	configData := "endpoints:\n  payroll: http://localhost:8080/hooks/payroll\n"
	if err := os.WriteFile(configPath, []byte(configData), 0o600); err != nil {
		t.Fatalf("failed to write config: %s", err)
	}
	if _, err := executors.LoadEndpointConfig(configPath, nil); !errors.Is(err, types.ErrorInvalidInput) {
		t.Errorf("expected invalid input, got %s", err)
	}
}

func TestWebhookExecutor(t *testing.T) {
	var received map[string]any
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %s", err)
		}
		outcomeRef := "https://git.example.com/pr/42"
		json.NewEncoder(w).Encode(executors.Outcome{Success: true, OutcomeRef: &outcomeRef})
	}))
	defer server.Close()

	endpointUrl, _ := url.Parse(server.URL)
	token := "hook-token"
	executor := &executors.WebhookExecutor{
		BearerAuth:  &token,
		EndpointUrl: endpointUrl,
	}
	outcome, err := executor.Execute(context.Background(), approvals.Approval{
		Id:       "approval-1",
		TenantId: "T001",
		Type:     approvals.TypePr,
		Payload:  json.RawMessage(`{"pr":42}`),
	}, "U123")
	if err != nil {
		t.Fatalf("failed to execute: %s", err)
	}
	if !outcome.Success {
		t.Errorf("expected a successful outcome")
	}
	if outcome.OutcomeRef == nil || *outcome.OutcomeRef != "https://git.example.com/pr/42" {
		t.Errorf("unexpected outcome ref: %v", outcome.OutcomeRef)
	}
	if gotAuth != "Bearer hook-token" {
		t.Errorf("unexpected authorization header: %s", gotAuth)
	}
	if received["approvalId"] != "approval-1" || received["actedBy"] != "U123" {
		t.Errorf("unexpected request body: %v", received)
	}
}

func TestWebhookExecutorNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	endpointUrl, _ := url.Parse(server.URL)
	executor := &executors.WebhookExecutor{EndpointUrl: endpointUrl}
	if _, err := executor.Execute(context.Background(), approvals.Approval{Id: "a"}, "U1"); !errors.Is(err, types.ErrorExecutorIssue) {
		t.Errorf("expected executor issue, got %s", err)
	}
}

func TestExecuteWithRetry(t *testing.T) {
	stub := &stubExecutor{err: types.ErrorExecutorIssue}
	if _, err := executors.ExecuteWithRetry(context.Background(), stub, approvals.Approval{}, "U1", 3); err == nil {
		t.Errorf("expected failure after exhausting attempts")
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", stub.calls)
	}

	ok := &stubExecutor{outcome: executors.Outcome{Success: true}}
	outcome, err := executors.ExecuteWithRetry(context.Background(), ok, approvals.Approval{}, "U1", 3)
	if err != nil {
		t.Fatalf("failed to execute: %s", err)
	}
	if !outcome.Success || ok.calls != 1 {
		t.Errorf("expected a single successful attempt, got calls=%d", ok.calls)
	}
}
