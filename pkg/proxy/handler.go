package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/jsonrpc2"

	gwerr "github.com/decocms/mesh/pkg/errors"
	"github.com/decocms/mesh/pkg/logger"
)

// MCP methods served on the per-connection endpoint.
const (
	methodToolsList = "tools/list"
	methodToolsCall = "tools/call"
)

// Routes returns the proxy's HTTP surface: one MCP endpoint per connection
// id accepting JSON-RPC tools/list and tools/call.
func (p *ConnectionProxy) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{connectionID}/mcp", p.handleMCP)
	return r
}

// callParams is the tools/call parameter shape.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (p *ConnectionProxy) handleMCP(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	msg, err := jsonrpc2.DecodeMessage(body)
	if err != nil {
		http.Error(w, "invalid JSON-RPC 2.0 message", http.StatusBadRequest)
		return
	}
	req, ok := msg.(*jsonrpc2.Request)
	if !ok || !req.ID.IsValid() {
		http.Error(w, "expected a JSON-RPC call", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch req.Method {
	case methodToolsList:
		result, err := p.ListTools(ctx, connectionID)
		writeResponse(w, req.ID, result, err)

	case methodToolsCall:
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			writeError(w, req.ID, http.StatusBadRequest, jsonrpc2.ErrInvalidParams)
			return
		}
		result, err := p.CallTool(ctx, connectionID, params.Name, params.Arguments)
		writeResponse(w, req.ID, result, err)

	default:
		writeError(w, req.ID, http.StatusNotFound, jsonrpc2.ErrMethodNotFound)
	}
}

// writeResponse maps an operation outcome onto the wire: typed errors pick
// the HTTP status (404 absent, 403 cross-tenant, 503 inactive, 401/500
// otherwise) and ride inside a JSON-RPC error envelope.
func writeResponse(w http.ResponseWriter, id jsonrpc2.ID, result any, err error) {
	if err != nil {
		logger.Debugf("proxy request failed: %v", err)
		writeError(w, id, gwerr.HTTPStatus(err), jsonrpc2.NewError(int64(gwerr.HTTPStatus(err)), err.Error()))
		return
	}

	response, encodeErr := jsonrpc2.NewResponse(id, result, nil)
	if encodeErr != nil {
		writeError(w, id, http.StatusInternalServerError, jsonrpc2.ErrInternal)
		return
	}
	writeMessage(w, http.StatusOK, response)
}

func writeError(w http.ResponseWriter, id jsonrpc2.ID, status int, rpcErr error) {
	response, err := jsonrpc2.NewResponse(id, nil, rpcErr)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeMessage(w, status, response)
}

func writeMessage(w http.ResponseWriter, status int, msg jsonrpc2.Message) {
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logger.Debugf("writing response: %v", err)
	}
}
