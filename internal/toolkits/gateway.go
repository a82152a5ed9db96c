package toolkits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meai/backend/internal/config"
	"github.com/meai/backend/internal/httpkit"
)

// Gateway abstracts the tool-execution backend so the agent loop can
// be tested with a fake.
type Gateway interface {
	// Tools fetches tool definitions for the given toolkits, scoped
	// to the user's connected accounts.
	Tools(ctx context.Context, userID string, toolkitSlugs []string) ([]Tool, error)
	// Execute runs one tool call on the user's behalf and returns the
	// raw result text.
	Execute(ctx context.Context, userID, toolName string, arguments map[string]any) (string, error)
}

// Client is the HTTP gateway client.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a gateway client from config.
func NewClient(cfg config.GatewayConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client: httpkit.NewClient(
			httpkit.WithTimeout(time.Duration(cfg.TimeoutSec) * time.Second),
		),
		logger: logger.With("component", "toolkits"),
	}
}

type toolsResponse struct {
	Tools []Tool `json:"tools"`
}

// Tools implements Gateway. An empty toolkit list yields no tools
// without a gateway round trip.
func (c *Client) Tools(ctx context.Context, userID string, toolkitSlugs []string) ([]Tool, error) {
	if len(toolkitSlugs) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("toolkits", strings.Join(toolkitSlugs, ","))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/tools?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, errBody)
	}

	var out toolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}

	c.logger.Debug("fetched tools", "toolkits", toolkitSlugs, "count", len(out.Tools))
	return out.Tools, nil
}

type executeRequest struct {
	UserID    string         `json:"user_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type executeResponse struct {
	Successful bool            `json:"successful"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

// Execute implements Gateway. A gateway-reported tool failure comes
// back as an error so the loop can surface it to the model.
func (c *Client) Execute(ctx context.Context, userID, toolName string, arguments map[string]any) (string, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	body, err := json.Marshal(executeRequest{
		UserID:    userID,
		Tool:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/tools/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute tool: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return "", fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, errBody)
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode result: %w", err)
	}
	if !out.Successful {
		if out.Error == "" {
			out.Error = "tool execution failed"
		}
		return "", fmt.Errorf("%s", out.Error)
	}
	return string(out.Data), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
