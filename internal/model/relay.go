// Package model defines shared types for the relay.
package model

import (
	"encoding/json"
	"io"
	"net/http"
)

// StreamRequest describes one inbound relay request. It is built per request
// and never mutated after construction.
type StreamRequest struct {
	Target string      // absolute upstream URL, already validated
	Range  string      // inbound Range header value; empty means the whole resource
	Header http.Header // extra headers to forward upstream
}

// UpstreamResponse represents an upstream response to be streamed back.
// The caller is responsible for closing Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ManifestDocument is a rewritten playlist ready to be served.
type ManifestDocument struct {
	Body        string
	ContentType string
}

// ResolvedMedia holds the direct media URLs produced by the external resolver.
// Audio equals Video when the resolver returned a single muxed stream.
type ResolvedMedia struct {
	Video  string `json:"video"`
	Audio  string `json:"audio"`
	Source string `json:"source"`
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ItemList wraps mirror list entries that are passed through unchanged.
type ItemList struct {
	Items []json.RawMessage `json:"items"`
}
