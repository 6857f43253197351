package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"signoff/internal/approvals"
	"signoff/internal/common"
	"signoff/internal/types"
)

type NewClientOpts struct {
	StoreUrl   string
	BearerAuth *NewClientBearerAuthOpts

	// Id will be included in the user-agent for identification
	Id string
}

type NewClientBearerAuthOpts struct {
	Token string
}

func NewClient(opts NewClientOpts) (*Client, error) {
	client := &Client{
		BearerAuth: opts.BearerAuth,
		HttpClient: common.NewHttpClient(),
		Id:         opts.Id,
	}

	storeUrl, err := url.Parse(opts.StoreUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provided storeUrl[%s]: %s", opts.StoreUrl, err)
	}
	if storeUrl.Scheme == "" {
		return nil, fmt.Errorf("failed to determine url scheme of storeUrl[%s]", opts.StoreUrl)
	}
	client.StoreUrl = storeUrl

	return client, nil
}

// Client talks to the approval store service over its JSON API. A
// request that cannot reach the store or times out maps to
// ErrorUpstreamUnavailable, never to ErrorNotFound
type Client struct {
	StoreUrl   *url.URL
	BearerAuth *NewClientBearerAuthOpts
	HttpClient *http.Client
	Id         string
}

func (c *Client) do(ctx context.Context, method, urlPath string, input any, output any) error {
	var requestBody io.Reader
	if input != nil {
		requestBodyData, err := json.Marshal(input)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %s", err)
		}
		requestBody = bytes.NewBuffer(requestBodyData)
	}
	pathRef, err := url.Parse(urlPath)
	if err != nil {
		return fmt.Errorf("failed to parse path[%s]: %s", urlPath, err)
	}
	storeUrl := c.StoreUrl.ResolveReference(pathRef)
	httpRequest, err := http.NewRequestWithContext(ctx, method, storeUrl.String(), requestBody)
	if err != nil {
		return fmt.Errorf("failed to create http request to %s: %s", urlPath, err)
	}
	common.AddHttpHeaders(httpRequest)
	httpRequest.Header.Set("User-Agent", fmt.Sprintf("signoff/store-client-%s", c.Id))
	if c.BearerAuth != nil {
		httpRequest.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.BearerAuth.Token))
	}
	httpResponse, err := c.HttpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("failed to execute http request to %s (%s): %w", urlPath, err, types.ErrorUpstreamUnavailable)
	}
	defer httpResponse.Body.Close()
	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", types.ErrorUpstreamUnavailable)
	}
	switch httpResponse.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusNotFound:
		return types.ErrorNotFound
	case http.StatusConflict:
		return types.ErrorAlreadyDecided
	default:
		return fmt.Errorf("failed to receive a successful response (status code: %v): %s", httpResponse.StatusCode, string(responseBody))
	}
	if output == nil {
		return nil
	}
	var response common.HttpResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return fmt.Errorf("failed to parse response from store service: %s", err)
	}
	responseData, err := json.Marshal(response.Data)
	if err != nil {
		return fmt.Errorf("failed to parse response data from store service: %s", err)
	}
	if err := json.Unmarshal(responseData, output); err != nil {
		return fmt.Errorf("failed to parse response data from store service: %s", err)
	}
	return nil
}

func (c *Client) CreateApproval(ctx context.Context, opts CreateApprovalOpts) (*approvals.Approval, error) {
	var approval approvals.Approval
	if err := c.do(ctx, http.MethodPost, "/api/v1/approvals", opts, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

func (c *Client) GetApproval(ctx context.Context, approvalId string) (*approvals.Approval, error) {
	var approval approvals.Approval
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/approvals/%s", approvalId), nil, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

func (c *Client) ListApprovals(ctx context.Context, status approvals.Status) ([]approvals.Approval, error) {
	var listed []approvals.Approval
	urlPath := "/api/v1/approvals"
	if status != "" {
		urlPath = fmt.Sprintf("%s?status=%s", urlPath, status)
	}
	if err := c.do(ctx, http.MethodGet, urlPath, nil, &listed); err != nil {
		return nil, err
	}
	return listed, nil
}

func (c *Client) DecideApproval(ctx context.Context, opts DecideApprovalOpts) (*approvals.Approval, error) {
	var approval approvals.Approval
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/approvals/%s/decision", opts.Id), opts, &approval); err != nil {
		return nil, err
	}
	return &approval, nil
}

type expireDueApprovalsInput struct {
	Now time.Time `json:"now"`
}

func (c *Client) ExpireDueApprovals(ctx context.Context, now time.Time) ([]approvals.Approval, error) {
	var expired []approvals.Approval
	if err := c.do(ctx, http.MethodPost, "/api/v1/approvals/expire", expireDueApprovalsInput{Now: now}, &expired); err != nil {
		return nil, err
	}
	return expired, nil
}

type setApprovalNotificationInput struct {
	ChannelRef string `json:"channelRef"`
	MessageRef string `json:"messageRef"`
}

func (c *Client) SetApprovalNotification(ctx context.Context, approvalId, channelRef, messageRef string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/approvals/%s/notification", approvalId), setApprovalNotificationInput{
		ChannelRef: channelRef,
		MessageRef: messageRef,
	}, nil)
}

func (c *Client) GetInstallation(ctx context.Context, tenantId string) (*Installation, error) {
	var installation Installation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/installations/%s", tenantId), nil, &installation); err != nil {
		return nil, err
	}
	return &installation, nil
}

// Ping is used by readiness checks to confirm the store responds
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
