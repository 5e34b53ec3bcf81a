package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/tokligence/tokligence-relay/internal/adapter"
	"github.com/tokligence/tokligence-relay/internal/relayapi"
)

// validationError is a malformed or unacceptable client request.
type validationError struct {
	status int
	err    error
}

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

func invalid(err error) error {
	return &validationError{status: http.StatusBadRequest, err: err}
}

// classify maps an error to the status and kind reported before the stream
// is committed. The kind doubles as the upstream error metric label.
func classify(err error) (int, string) {
	var (
		ve *validationError
		ce *adapter.ConnectionError
		pe *adapter.ProtocolError
		be *adapter.BackendError
	)
	switch {
	case errors.As(err, &ve):
		return ve.status, relayapi.KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, relayapi.KindDeadline
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable, relayapi.KindBackendDown
	case errors.As(err, &pe):
		return http.StatusBadGateway, relayapi.KindUpstreamProtocol
	case errors.As(err, &be):
		return http.StatusBadGateway, relayapi.KindUpstream
	default:
		return http.StatusInternalServerError, relayapi.KindInternal
	}
}
