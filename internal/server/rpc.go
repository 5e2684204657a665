package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/EVOLVR/internal/errors"
	"github.com/copyleftdev/EVOLVR/internal/logging"
	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

// JSON-RPC method names.
const (
	MethodStart  = "optimization.start"
	MethodStatus = "optimization.status"
	MethodCancel = "optimization.cancel"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type idParams struct {
	ID string `json:"optimization_id"`
}

// decodeParams accepts params as an object or as an array whose first
// element is the object.
func decodeParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return optimization.NewError(optimization.KindArgument, "missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return optimization.WrapError(err, optimization.KindArgument, "invalid parameter format")
		}
		if len(list) == 0 {
			return optimization.NewError(optimization.KindArgument, "missing required parameters")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return optimization.WrapError(err, optimization.KindArgument, "invalid parameter format, expected object")
	}
	return nil
}

func (p idParams) validate() error {
	if p.ID == "" {
		return optimization.NewError(optimization.KindArgument, "optimization_id is required")
	}
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests on /rpc.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, r, nil, apperrors.CodeParseError, "Parse error")
		return
	}
	if req.JSONRPC != "2.0" {
		s.respondWithError(w, r, req.ID, apperrors.CodeInvalidRequest, "Invalid Request")
		return
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodStart:
		var p StartRequest
		if err = decodeParams(req.Params, &p); err == nil {
			result, err = s.Start(p)
		}
	case MethodStatus:
		var p idParams
		if err = decodeParams(req.Params, &p); err == nil {
			if err = p.validate(); err == nil {
				result, err = s.Status(p.ID)
			}
		}
	case MethodCancel:
		var p idParams
		if err = decodeParams(req.Params, &p); err == nil {
			if err = p.validate(); err == nil {
				result, err = s.Cancel(p.ID)
			}
		}
	default:
		s.respondWithError(w, r, req.ID, apperrors.CodeMethodNotFound, "Method not found")
		return
	}

	if err != nil {
		s.respondWithError(w, r, req.ID, apperrors.RPCCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// respondWithError sends a JSON-RPC 2.0 error response. Errors travel in the
// body, so the HTTP status is always 200.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, id any, code int, message string) {
	logging.FromContextOr(r.Context(), s.logger).Warn("JSON-RPC error",
		zap.Int("code", code),
		zap.String("message", message),
	)
	writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
