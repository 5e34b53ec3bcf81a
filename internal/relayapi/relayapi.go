// Package relayapi holds the wire types shared by the relay server and its
// clients.
//
// A successful /chat/stream response is plain text: the generated chunks
// concatenated in order, optionally followed by a single trailer line
//
//	\n{"context":[1,2,3],"done":true}
//
// with no newline after it. The trailer is only present when the backend
// returned a non-empty context.
package relayapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// TrailerPrefix is what every trailer frame starts with, newline included.
const TrailerPrefix = "\n{\"context\":"

// ErrEmptyPrompt is returned when a request carries no prompt text.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

// ChatRequest is the body of POST /chat/stream. A bare JSON string is
// accepted as a prompt with no prior context.
type ChatRequest struct {
	Prompt  string `json:"prompt"`
	Context []int  `json:"context"`
}

// UnmarshalJSON accepts either {"prompt":...,"context":[...]} or "prompt".
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var prompt string
		if err := json.Unmarshal(data, &prompt); err != nil {
			return err
		}
		*r = ChatRequest{Prompt: prompt}
		return nil
	}
	type plain ChatRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ChatRequest(p)
	return nil
}

// Trailer is the final frame of a stream.
type Trailer struct {
	Context []int `json:"context"`
	Done    bool  `json:"done"`
}

// EncodeTrailer renders the trailer frame including its leading newline.
func EncodeTrailer(ctx []int) []byte {
	data, _ := json.Marshal(Trailer{Context: ctx, Done: true})
	out := make([]byte, 0, len(data)+1)
	out = append(out, '\n')
	return append(out, data...)
}

// ParseTrailer decodes a frame produced by EncodeTrailer. The leading newline
// is optional.
func ParseTrailer(frame []byte) (Trailer, error) {
	frame = bytes.TrimPrefix(frame, []byte("\n"))
	if !bytes.HasPrefix(frame, []byte(TrailerPrefix[1:])) {
		return Trailer{}, errors.New("relayapi: not a trailer frame")
	}
	var t Trailer
	if err := json.Unmarshal(frame, &t); err != nil {
		return Trailer{}, fmt.Errorf("relayapi: decode trailer: %w", err)
	}
	if !t.Done {
		return Trailer{}, errors.New("relayapi: trailer without done marker")
	}
	return t, nil
}

// ErrorBody is the JSON body of every non-2xx relay response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the failure class and carries a human readable message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error kinds.
const (
	KindValidation       = "validation_error"
	KindBackendDown      = "backend_unavailable"
	KindUpstreamProtocol = "upstream_protocol_error"
	KindUpstream         = "upstream_error"
	KindDeadline         = "deadline_exceeded"
	KindNotImplemented   = "not_implemented"
	KindInternal         = "internal_error"
)
