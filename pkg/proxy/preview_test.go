package proxy

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decocms/mesh/pkg/connections"
	gwerr "github.com/decocms/mesh/pkg/errors"
)

func TestPreviewToolsUsesExplicitTimeouts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	result, err := f.proxy.PreviewTools(t.Context(), "https://candidate.example/mcp", map[string]string{"x-probe": "1"})
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)

	require.Len(t, f.dialer.targets, 1)
	target := f.dialer.targets[0]
	assert.Equal(t, "https://candidate.example/mcp", target.URL)
	assert.Equal(t, "1", target.Headers["x-probe"])
	assert.Equal(t, 15*time.Second, target.ConnectTimeout)
	assert.Equal(t, 20*time.Second, target.RequestTimeout)
}

func TestPreviewToolsDialFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dialer.err = gwerr.NewUnavailableError("connect timed out", nil)

	_, err := f.proxy.PreviewTools(t.Context(), "https://candidate.example/mcp", nil)
	assert.True(t, gwerr.IsUnavailable(err))
}

func TestProbeConnections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dialer.client.listResult = &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "A"}, {Name: "B"}}}

	f.store.Put(&connections.Connection{ID: "a", TenantID: "org_1", URL: "https://a", Status: connections.StatusActive})
	f.store.Put(&connections.Connection{ID: "b", TenantID: "org_1", URL: "https://b", Status: connections.StatusInactive})
	f.store.Put(&connections.Connection{ID: "c", TenantID: "org_2", URL: "https://c", Status: connections.StatusActive})

	results, err := f.proxy.ProbeConnections(t.Context(), "org_1")
	require.NoError(t, err)
	require.Len(t, results, 2, "probing is tenant-scoped")

	byID := map[string]ProbeResult{}
	for _, r := range results {
		byID[r.ConnectionID] = r
	}

	assert.True(t, byID["a"].Healthy)
	assert.Equal(t, 2, byID["a"].ToolCount)
	assert.False(t, byID["b"].Healthy)
	assert.Contains(t, byID["b"].Error, "not active")
}

func TestProbeConnectionsFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.Put(&connections.Connection{ID: "bad_token", TenantID: "org_1", URL: "https://a", Status: connections.StatusActive, Token: "garbage"})

	results, err := f.proxy.ProbeConnections(t.Context(), "org_1")
	require.NoError(t, err, "one broken connection does not fail the sweep")
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.NotEmpty(t, results[0].Error)
}

func TestProbeConnectionsEmptyTenant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	results, err := f.proxy.ProbeConnections(t.Context(), "org_1")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHeaderRoundTripperInjectsHeaders(t *testing.T) {
	t.Parallel()

	var seen map[string][]string
	base := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := &headerRoundTripper{base: base, headers: map[string]string{
		"Authorization": "Bearer secret",
		"x-mesh-token":  "Bearer delegated",
	}}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://down.example", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer secret", http.Header(seen).Get("Authorization"))
	assert.Equal(t, "Bearer delegated", http.Header(seen).Get("x-mesh-token"))
	assert.Empty(t, req.Header.Get("Authorization"), "original request is not mutated")
}

// roundTripperFunc adapts a function to http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
