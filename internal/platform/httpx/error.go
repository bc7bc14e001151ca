// Package httpx writes the JSON error body for clients that asked for JSON
// (Accept: application/json) when the server cannot answer with a page.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/storefront/internal/platform/requestctx"
)

// Envelope is the error body. The recovery middleware is its only producer.
type Envelope struct {
	Code    string
	Message string
	Status  int
}

type envelopeBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// NewError builds an Envelope; a zero status means 500.
func NewError(code, message string, status int) Envelope {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Envelope{
		Code:    clip(code, 80),
		Message: clip(message, 512),
		Status:  status,
	}
}

// WriteError writes e with the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Envelope) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := envelopeBody{
		Error:     e.Code,
		Message:   e.Message,
		Status:    e.Status,
		RequestID: clip(middleware.GetReqID(ctx), 80),
		TraceID:   clip(requestctx.TraceID(ctx), 64),
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// clip flattens line breaks and bounds the length of values echoed to clients.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
