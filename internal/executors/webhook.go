package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"signoff/internal/approvals"
	"signoff/internal/common"
	"signoff/internal/types"
	"gopkg.in/yaml.v3"
)

// EndpointConfig is the on-disk shape of the executor endpoint map,
// one callback url per approval type
type EndpointConfig struct {
	Endpoints map[string]string `yaml:"endpoints"`
}

// LoadEndpointConfig reads a yaml file mapping approval types to
// callback urls and registers a webhook executor for each entry
func LoadEndpointConfig(configPath string, bearerAuth *string) (*Registry, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read executor config at path[%s]: %w", configPath, err)
	}
	var config EndpointConfig
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse executor config at path[%s]: %w", configPath, err)
	}
	registry := NewRegistry()
	for typeLabel, endpoint := range config.Endpoints {
		approvalType := approvals.Type(typeLabel)
		if !approvals.IsValidType(approvalType) {
			return nil, fmt.Errorf("failed to recognise approval type[%s] in executor config: %w", typeLabel, types.ErrorInvalidInput)
		}
		endpointUrl, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to parse executor endpoint[%s]: %w", endpoint, err)
		}
		registry.Register(approvalType, &WebhookExecutor{
			BearerAuth:  bearerAuth,
			EndpointUrl: endpointUrl,
		})
	}
	return registry, nil
}

// WebhookExecutor delivers the decided approval to a downstream
// callback endpoint and relays the outcome the endpoint reports
type WebhookExecutor struct {
	BearerAuth  *string
	EndpointUrl *url.URL

	client *http.Client
}

type webhookExecutionRequest struct {
	ApprovalId string          `json:"approvalId"`
	TenantId   string          `json:"tenantId"`
	Type       approvals.Type  `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ActedBy    string          `json:"actedBy"`
}

func (e *WebhookExecutor) Execute(ctx context.Context, approval approvals.Approval, actorLabel string) (Outcome, error) {
	if e.client == nil {
		e.client = common.NewHttpClient()
	}
	requestBody, err := json.Marshal(webhookExecutionRequest{
		ApprovalId: approval.Id,
		TenantId:   approval.TenantId,
		Type:       approval.Type,
		Payload:    approval.Payload,
		ActedBy:    actorLabel,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to marshal execution request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.EndpointUrl.String(), bytes.NewReader(requestBody))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create execution request: %w", err)
	}
	common.AddHttpHeaders(request)
	if e.BearerAuth != nil {
		request.Header.Set("Authorization", "Bearer "+*e.BearerAuth)
	}
	response, err := e.client.Do(request)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to reach executor endpoint: %w: %w", types.ErrorExecutorIssue, err)
	}
	defer response.Body.Close()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return Outcome{}, fmt.Errorf("failed to execute, endpoint returned status[%d]: %w", response.StatusCode, types.ErrorExecutorIssue)
	}
	var outcome Outcome
	if err := json.NewDecoder(response.Body).Decode(&outcome); err != nil {
		return Outcome{}, fmt.Errorf("failed to parse executor response: %w", err)
	}
	return outcome, nil
}

// delay between execution retries inside a single interaction, kept
// short because the chat platform is waiting on a visible update
const executionRetryInterval = 500 * time.Millisecond

// ExecuteWithRetry retries transient executor failures a bounded
// number of times before giving up, a definitive outcome from the
// endpoint is never retried
func ExecuteWithRetry(ctx context.Context, executor Executor, approval approvals.Approval, actorLabel string, attempts int) (Outcome, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			case <-time.After(executionRetryInterval):
			}
		}
		outcome, err := executor.Execute(ctx, approval, actorLabel)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
	}
	return Outcome{}, fmt.Errorf("failed to execute after %d attempts: %w", attempts, lastErr)
}
