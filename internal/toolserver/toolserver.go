// Package toolserver implements the Tool-Server RPC Client (C12):
// dialing a named local-socket tool server and exchanging single-
// request/single-response JSON-RPC calls, per spec §4.10/§6.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	core "github.com/go-lcgw/lcgw/internal"
	"github.com/go-lcgw/lcgw/internal/toolloop"
)

const dialTimeout = 5 * time.Second

// Targets maps a named tool-server target (as referenced by Options.ServerNames
// in the Tool Loop) to the filesystem path of its local socket.
type Targets map[string]string

// Client dials Targets on demand; it holds no persistent connections,
// matching spec §4.10's single-request/single-response transport model.
type Client struct {
	targets Targets
}

// New returns a Client for the given named socket targets.
func New(targets Targets) *Client {
	return &Client{targets: targets}
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpcError   `json:"error"`
}

// call dials server's socket, validates its permissions are owner-only
// (0600, per spec §4.10), writes one JSON-RPC request, and decodes the
// single JSON-RPC response.
func (c *Client) call(ctx context.Context, server, method string, params, result any) error {
	path, ok := c.targets[server]
	if !ok {
		return &core.ToolError{Kind: core.ToolErrorNotFound, Tool: server, Err: fmt.Errorf("no socket configured for tool server %q", server)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server, Err: err}
	}
	if info.Mode().Perm() != 0o600 {
		return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server,
			Err: fmt.Errorf("refusing to dial %s: socket mode %04o is not owner-only (0600)", path, info.Mode().Perm())}
	}

	callCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(callCtx, "unix", path)
	if err != nil {
		return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}); err != nil {
		return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server, Err: err}
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	var resp jsonrpcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return &core.ToolError{Kind: core.ToolErrorTimeout, Tool: server}
		}
		return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server, Err: err}
	}
	if resp.Error != nil {
		return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server, Err: fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return &core.ToolError{Kind: core.ToolErrorRPCFailure, Tool: server, Err: err}
		}
	}
	return nil
}

// ListTools implements toolloop.ToolServer.
func (c *Client) ListTools(ctx context.Context, server string) ([]toolloop.ToolInfo, error) {
	var out struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := c.call(ctx, server, "tools/list", struct{}{}, &out); err != nil {
		return nil, err
	}
	infos := make([]toolloop.ToolInfo, 0, len(out.Tools))
	for _, t := range out.Tools {
		infos = append(infos, toolloop.ToolInfo{Name: t.Name, Description: t.Description})
	}
	return infos, nil
}

// CallTool implements toolloop.ToolServer.
func (c *Client) CallTool(ctx context.Context, server, tool string, arguments json.RawMessage) (string, error) {
	var args map[string]any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return "", &core.ToolError{Kind: core.ToolErrorArgumentsInvalid, Tool: tool, Err: err}
		}
	}

	var result mcp.CallToolResult
	if err := c.call(ctx, server, "tools/call", mcp.CallToolParams{Name: tool, Arguments: args}, &result); err != nil {
		return "", err
	}
	return formatToolResult(&result), nil
}

// formatToolResult joins text content, falling back to a pretty-printed
// JSON dump of the whole result for non-text or multi-part content.
func formatToolResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ""
	}
	return string(raw)
}
