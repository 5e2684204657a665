// Package errors maps optimisation errors onto HTTP and JSON-RPC responses
// and provides the HTTP recovery and error logging middleware.
package errors

import (
	"net/http"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeNotFound and CodeConflict are in the server error range.
	CodeNotFound = -32004
	CodeConflict = -32009
)

// HTTPStatus returns the status code for err based on its optimisation
// error kind.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch optimization.KindOf(err) {
	case optimization.KindArgument, optimization.KindOutOfRange:
		return http.StatusBadRequest
	case optimization.KindKeyNotFound:
		return http.StatusNotFound
	case optimization.KindInvalidState:
		return http.StatusConflict
	case optimization.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RPCCode returns the JSON-RPC error code for err.
func RPCCode(err error) int {
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return CodeInvalidParams
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	default:
		return CodeInternalError
	}
}
