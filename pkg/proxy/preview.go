package proxy

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/decocms/mesh/pkg/connections"
)

// Exploratory calls against arbitrary or unproven endpoints fail fast
// instead of hanging.
const (
	previewConnectTimeout = 15 * time.Second
	previewListTimeout    = 20 * time.Second

	maxProbeConcurrency = 8
)

// PreviewTools connects to an arbitrary MCP URL and lists its tools. Used
// before a connection is registered, so no stored credentials apply; the
// caller supplies any headers the endpoint needs.
func (p *ConnectionProxy) PreviewTools(ctx context.Context, url string, headers map[string]string) (*mcp.ListToolsResult, error) {
	client, err := p.dial(ctx, Target{
		URL:            url,
		Headers:        headers,
		ConnectTimeout: previewConnectTimeout,
		RequestTimeout: previewListTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	listCtx, cancel := context.WithTimeout(ctx, previewListTimeout)
	defer cancel()
	return client.ListTools(listCtx)
}

// ProbeResult is the health outcome for one connection.
type ProbeResult struct {
	ConnectionID string `json:"connection_id"`
	Healthy      bool   `json:"healthy"`
	ToolCount    int    `json:"tool_count"`
	Error        string `json:"error,omitempty"`
}

// ProbeConnections lists a tenant's connections and probes each one's tool
// surface with bounded concurrency. Individual probe failures are reported
// in the result, not returned: one dead endpoint must not hide the rest.
func (p *ConnectionProxy) ProbeConnections(ctx context.Context, tenantID string) ([]ProbeResult, error) {
	conns, err := p.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	results := make([]ProbeResult, len(conns))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProbeConcurrency)

	for i, conn := range conns {
		g.Go(func() error {
			results[i] = p.probe(ctx, conn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *ConnectionProxy) probe(ctx context.Context, conn *connections.Connection) ProbeResult {
	result := ProbeResult{ConnectionID: conn.ID}

	if conn.Status != connections.StatusActive {
		result.Error = "connection is not active"
		return result
	}

	headers, err := p.downstreamHeaders(conn, "")
	if err != nil {
		result.Error = err.Error()
		return result
	}

	client, err := p.dial(ctx, Target{
		URL:            conn.URL,
		Headers:        headers,
		ConnectTimeout: previewConnectTimeout,
		RequestTimeout: previewListTimeout,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer client.Close()

	listCtx, cancel := context.WithTimeout(ctx, previewListTimeout)
	defer cancel()
	tools, err := client.ListTools(listCtx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Healthy = true
	result.ToolCount = len(tools.Tools)
	return result
}
