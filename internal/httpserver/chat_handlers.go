package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tokligence/tokligence-relay/internal/relayapi"
)

// HandleChatStream is the public entry point registered on the router.
func (s *Server) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeChatRequest(w, r)
	if err != nil {
		status, kind := classify(err)
		s.metrics.Rejected()
		s.logger.Debugf("rejected chat request: %v", err)
		s.respondError(w, status, kind, err)
		return
	}
	s.relay(w, r, req)
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (relayapi.ChatRequest, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return relayapi.ChatRequest{}, &validationError{
				status: http.StatusRequestEntityTooLarge,
				err:    fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit),
			}
		}
		return relayapi.ChatRequest{}, invalid(fmt.Errorf("read body: %w", err))
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return relayapi.ChatRequest{}, invalid(errors.New("request body required"))
	}

	var req relayapi.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return relayapi.ChatRequest{}, invalid(fmt.Errorf("decode request: %w", err))
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return relayapi.ChatRequest{}, invalid(relayapi.ErrEmptyPrompt)
	}
	return req, nil
}
