package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/maturity-gateway/services"
)

// MCPClient calls a named tool on an MCP server.
type MCPClient interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPResult, error)
}

// MCPResult is a successful tool call.
type MCPResult struct {
	CallID string
	Output map[string]interface{}
}

// MCPConfig configures HTTPMCPClient.
type MCPConfig struct {
	ServerURL string
	Timeout   time.Duration
}

// HTTPMCPClient speaks JSON-RPC 2.0 tools/call over HTTP POST.
type HTTPMCPClient struct {
	url        string
	httpClient *http.Client
}

// NewHTTPMCPClient creates an HTTPMCPClient.
func NewHTTPMCPClient(cfg MCPConfig) *HTTPMCPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &HTTPMCPClient{
		url:        cfg.ServerURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  toolCallParams `json:"params"`
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  *toolCallResult `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallResult struct {
	Content           []contentBlock  `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallTool issues one tools/call request. The request id doubles as the
// call id recorded in stage provenance.
func (c *HTTPMCPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*MCPResult, error) {
	callID := uuid.NewString()
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      callID,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, services.WrapInternal("failed to marshal mcp request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, services.WrapInternal("failed to create mcp request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, services.WrapExternal("mcp request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxStageResponseBytes))
	if err != nil {
		return nil, services.WrapExternal("failed to read mcp response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, services.WrapExternal(fmt.Sprintf("mcp server returned status %d", resp.StatusCode), nil)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, services.WrapExternal("invalid mcp response", err)
	}
	if rpcResp.Error != nil {
		return nil, services.WrapExternal(fmt.Sprintf("mcp error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message), nil)
	}
	if rpcResp.Result == nil {
		return nil, services.WrapExternal("mcp response has no result", nil)
	}

	output, err := decodeToolOutput(rpcResp.Result)
	if err != nil {
		return nil, err
	}
	return &MCPResult{CallID: callID, Output: output}, nil
}

// decodeToolOutput prefers structuredContent and falls back to the first
// text block parsed as a JSON object.
func decodeToolOutput(res *toolCallResult) (map[string]interface{}, error) {
	if res.IsError {
		msg := "tool reported an error"
		if len(res.Content) > 0 && res.Content[0].Text != "" {
			msg = res.Content[0].Text
		}
		return nil, services.WrapExternal("mcp tool failed: "+msg, nil)
	}

	var out map[string]interface{}
	if len(res.StructuredContent) > 0 && string(res.StructuredContent) != "null" {
		if err := json.Unmarshal(res.StructuredContent, &out); err != nil {
			return nil, services.WrapExternal("mcp structured content is not an object", err)
		}
		return out, nil
	}
	for _, block := range res.Content {
		if block.Type != "text" {
			continue
		}
		if err := json.Unmarshal([]byte(block.Text), &out); err != nil {
			return nil, services.WrapExternal("mcp text content is not a JSON object", err)
		}
		return out, nil
	}
	return nil, services.WrapExternal("mcp response has no content", nil)
}
