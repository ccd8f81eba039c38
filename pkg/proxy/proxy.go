// Package proxy exposes downstream connections' MCP tool surfaces through
// the gateway, enforcing tenant isolation and per-call authorization on the
// way through.
package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/decocms/mesh/pkg/auth"
	"github.com/decocms/mesh/pkg/chain"
	"github.com/decocms/mesh/pkg/connections"
	gwerr "github.com/decocms/mesh/pkg/errors"
	"github.com/decocms/mesh/pkg/telemetry"
	"github.com/decocms/mesh/pkg/vault"
)

// HeaderMeshToken carries the delegated credential on downstream requests.
const HeaderMeshToken = "x-mesh-token"

// Config wires a ConnectionProxy's collaborators.
type Config struct {
	Store    connections.Store
	Vault    *vault.Vault
	Provider auth.IdentityProvider

	// Instrumentor observes tool calls; required.
	Instrumentor *telemetry.Instrumentor

	// BaseURL is the gateway's external address, stamped into delegated
	// credential metadata.
	BaseURL string

	// ConnectTimeout and RequestTimeout bound downstream dials and calls.
	// Zero means the dialer's defaults.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// Dial opens downstream clients. Defaults to DialStreamableHTTP.
	Dial Dialer
}

// ConnectionProxy proxies list/call operations to downstream connections.
// A fresh downstream client is opened per operation; nothing is pooled
// across calls.
type ConnectionProxy struct {
	store          connections.Store
	vault          *vault.Vault
	provider       auth.IdentityProvider
	instr          *telemetry.Instrumentor
	baseURL        string
	connectTimeout time.Duration
	requestTimeout time.Duration
	dial           Dialer
}

// New creates a ConnectionProxy from cfg.
func New(cfg Config) *ConnectionProxy {
	dial := cfg.Dial
	if dial == nil {
		dial = DialStreamableHTTP
	}
	return &ConnectionProxy{
		store:          cfg.Store,
		vault:          cfg.Vault,
		provider:       cfg.Provider,
		instr:          cfg.Instrumentor,
		baseURL:        cfg.BaseURL,
		connectTimeout: cfg.ConnectTimeout,
		requestTimeout: cfg.RequestTimeout,
		dial:           dial,
	}
}

// loadConnection fetches a connection and enforces existence, tenant
// isolation, and active status, in that order.
func (p *ConnectionProxy) loadConnection(ctx context.Context, id string, tenant *auth.TenantScope) (*connections.Connection, error) {
	conn, err := p.store.FindByID(ctx, id)
	if err != nil {
		return nil, gwerr.NewInternalError("looking up connection "+id, err)
	}
	if conn == nil {
		return nil, gwerr.NewNotFoundError("connection "+id+" not found", nil)
	}
	if tenant != nil && conn.TenantID != tenant.ID {
		return nil, gwerr.NewForbiddenError("connection "+id+" belongs to another tenant", nil)
	}
	if conn.Status != connections.StatusActive {
		return nil, gwerr.NewUnavailableError("connection "+id+" is not active", nil)
	}
	return conn, nil
}

// downstreamHeaders assembles the header set for a downstream client: the
// connection's decrypted token as a bearer Authorization, the delegated
// credential if one was issued, then the connection's custom headers last
// so they may override either.
func (p *ConnectionProxy) downstreamHeaders(conn *connections.Connection, delegated string) (map[string]string, error) {
	headers := make(map[string]string)

	if conn.Token != "" {
		plaintext, err := p.vault.DecryptString(conn.Token)
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "Bearer " + plaintext
	}
	if delegated != "" {
		headers[HeaderMeshToken] = "Bearer " + delegated
	}
	for key, value := range conn.Headers {
		headers[key] = value
	}
	return headers, nil
}

// openClient issues the delegated credential and dials the connection.
func (p *ConnectionProxy) openClient(ctx context.Context, conn *connections.Connection, principalID string) (Client, error) {
	delegated := p.issueDelegatedCredential(ctx, conn, principalID)
	headers, err := p.downstreamHeaders(conn, delegated)
	if err != nil {
		return nil, err
	}
	return p.dial(ctx, Target{
		URL:            conn.URL,
		Headers:        headers,
		ConnectTimeout: p.connectTimeout,
		RequestTimeout: p.requestTimeout,
	})
}

// ListTools returns the downstream connection's tool list verbatim. Listing
// is not subject to per-tool authorization; only load-time checks apply.
func (p *ConnectionProxy) ListTools(ctx context.Context, connectionID string) (*mcp.ListToolsResult, error) {
	authResult, _ := auth.ResultFromContext(ctx)

	conn, err := p.loadConnection(ctx, connectionID, tenantOf(authResult))
	if err != nil {
		return nil, err
	}

	client, err := p.openClient(ctx, conn, principalOf(authResult))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	return client.ListTools(ctx)
}

// callRequest flows through the call pipeline.
type callRequest struct {
	tool string
	args map[string]any
}

// CallTool authorizes, forwards, and observes one tool invocation against
// a downstream connection. Authorization denials surface as protocol-level
// tool errors so the channel stays open; load and transport failures
// surface as typed errors for the route boundary to map.
func (p *ConnectionProxy) CallTool(ctx context.Context, connectionID, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	authResult, _ := auth.ResultFromContext(ctx)

	conn, err := p.loadConnection(ctx, connectionID, tenantOf(authResult))
	if err != nil {
		return nil, err
	}

	if authResult != nil && authResult.Checker != nil {
		authResult.Checker.BindTool(toolName)
	}

	pipeline := chain.Build(
		p.forwardCall(conn, principalOf(authResult)),
		p.authorizeCall(conn, authResult),
	)

	info := telemetry.CallInfo{
		Tool:         toolName,
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		PrincipalID:  principalOf(authResult),
	}
	if authResult != nil {
		info.RequestID = authResult.Metadata.RequestID
		info.ClientIP = authResult.Metadata.ClientIP
	}

	var result *mcp.CallToolResult
	err = p.instr.ObserveToolCall(ctx, info, func(ctx context.Context) error {
		var callErr error
		result, callErr = pipeline(ctx, callRequest{tool: toolName, args: args})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// authorizeCall gates tool calls made with scoped API keys. Full session
// principals inherit tenant-level trust and skip the per-call check; a
// denied API key gets a protocol-level error result, not a closed channel.
func (p *ConnectionProxy) authorizeCall(conn *connections.Connection, authResult *auth.Result) chain.Middleware[callRequest, *mcp.CallToolResult] {
	return func(next chain.Handler[callRequest, *mcp.CallToolResult]) chain.Handler[callRequest, *mcp.CallToolResult] {
		return func(ctx context.Context, req callRequest) (*mcp.CallToolResult, error) {
			if authResult == nil || !authResult.Principal.IsAPIKey() {
				return next(ctx, req)
			}

			checker := authResult.Checker.ForConnection(conn.ID)
			if err := checker.Check(ctx, req.tool); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return next(ctx, req)
		}
	}
}

// forwardCall is the terminal handler: open a client, forward the call
// inside a proxy span, and propagate the outcome unchanged.
func (p *ConnectionProxy) forwardCall(conn *connections.Connection, principalID string) chain.Handler[callRequest, *mcp.CallToolResult] {
	return func(ctx context.Context, req callRequest) (*mcp.CallToolResult, error) {
		client, err := p.openClient(ctx, conn, principalID)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		ctx, span := p.instr.StartProxySpan(ctx, conn.ID, "callTool")
		defer span.End()
		span.SetAttributes(attribute.String(telemetry.AttrTool, req.tool))

		result, err := client.CallTool(ctx, req.tool, req.args)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("calling tool %s on connection %s: %w", req.tool, conn.ID, err)
		}
		return result, nil
	}
}

func tenantOf(result *auth.Result) *auth.TenantScope {
	if result == nil {
		return nil
	}
	return result.Tenant
}

func principalOf(result *auth.Result) string {
	if result == nil {
		return ""
	}
	return result.Principal.ID()
}
