package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	gwerr "github.com/decocms/mesh/pkg/errors"
)

const (
	clientName    = "mesh-gateway"
	clientVersion = "0.1.0"

	defaultRequestTimeout = 30 * time.Second
)

// Client is the downstream MCP surface the proxy consumes. A fresh client
// is opened per call and closed when the call completes.
type Client interface {
	ListTools(ctx context.Context) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Target describes one downstream dial. Headers are applied to every
// outgoing request on the dialed client.
type Target struct {
	URL            string
	Headers        map[string]string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Dialer opens a connected, initialized Client for a target. Swappable for
// tests.
type Dialer func(ctx context.Context, target Target) (Client, error)

// headerRoundTripper injects fixed headers into every outgoing request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for key, value := range h.headers {
		clone.Header.Set(key, value)
	}
	return h.base.RoundTrip(clone)
}

// DialStreamableHTTP opens a streamable-HTTP MCP client, starts its
// transport, and performs the initialize handshake. Failures map to
// unavailable: the endpoint exists but cannot serve.
func DialStreamableHTTP(ctx context.Context, target Target) (Client, error) {
	requestTimeout := target.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	httpClient := &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: target.Headers,
		},
		Timeout: requestTimeout,
	}

	c, err := client.NewStreamableHttpClient(
		target.URL,
		transport.WithHTTPTimeout(requestTimeout),
		transport.WithHTTPBasicClient(httpClient),
	)
	if err != nil {
		return nil, gwerr.NewUnavailableError("creating downstream client", err)
	}

	connectCtx := ctx
	if target.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, target.ConnectTimeout)
		defer cancel()
	}

	if err := c.Start(connectCtx); err != nil {
		_ = c.Close()
		return nil, gwerr.NewUnavailableError("connecting to "+target.URL, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(connectCtx, initRequest); err != nil {
		_ = c.Close()
		return nil, gwerr.NewUnavailableError("initializing "+target.URL, err)
	}

	return &mcpClient{c: c}, nil
}

// mcpClient adapts a mark3labs client to the Client interface.
type mcpClient struct {
	c *client.Client
}

func (m *mcpClient) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	return m.c.ListTools(ctx, mcp.ListToolsRequest{})
}

func (m *mcpClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	return m.c.CallTool(ctx, request)
}

func (m *mcpClient) Close() error {
	return m.c.Close()
}
