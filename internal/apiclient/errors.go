package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Error is a non-2xx backend response.
type Error struct {
	Status         int
	Detail         string
	Message        string
	NonFieldErrors []string
	// Fields holds field-keyed validation messages, e.g. {"qty": ["Ensure this value is greater than 0."]}.
	Fields map[string][]string
	Body   []byte
}

func (e *Error) Error() string {
	if msg := e.ServerMessage(); msg != "" {
		return fmt.Sprintf("apiclient: backend error (%d): %s", e.Status, msg)
	}
	return fmt.Sprintf("apiclient: backend error (%d): %s", e.Status, http.StatusText(e.Status))
}

// ServerMessage picks the most specific human message the backend supplied:
// detail, then message, then non_field_errors, then the first field error.
func (e *Error) ServerMessage() string {
	if e == nil {
		return ""
	}
	if s := strings.TrimSpace(e.Detail); s != "" {
		return s
	}
	if s := strings.TrimSpace(e.Message); s != "" {
		return s
	}
	for _, s := range e.NonFieldErrors {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, s := range e.Fields[k] {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// FieldError returns the first message for field.
func (e *Error) FieldError(field string) string {
	if e == nil {
		return ""
	}
	for _, s := range e.Fields[field] {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func errorFromResponse(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &Error{Status: resp.StatusCode, Body: body}
	if len(body) == 0 {
		return apiErr
	}

	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		apiErr.NonFieldErrors = list
		return apiErr
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return apiErr
	}
	for key, raw := range payload {
		switch key {
		case "detail":
			apiErr.Detail = stringValue(raw)
		case "message":
			apiErr.Message = stringValue(raw)
		case "non_field_errors":
			apiErr.NonFieldErrors = stringList(raw)
		default:
			if msgs := stringList(raw); len(msgs) > 0 {
				if apiErr.Fields == nil {
					apiErr.Fields = make(map[string][]string)
				}
				apiErr.Fields[key] = msgs
			}
		}
	}
	return apiErr
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if list := stringList(raw); len(list) > 0 {
		return list[0]
	}
	return ""
}

func stringList(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// AsError unwraps err into *Error.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusOf returns the backend status carried by err, or 0.
func StatusOf(err error) int {
	if apiErr, ok := AsError(err); ok {
		return apiErr.Status
	}
	return 0
}

// IsStatus reports whether err is a backend error with the given status.
func IsStatus(err error, status int) bool { return StatusOf(err) == status }

// IsUnauthorized reports a 401: the stored session is no longer valid.
func IsUnauthorized(err error) bool { return IsStatus(err, http.StatusUnauthorized) }

// IsForbidden reports a 403.
func IsForbidden(err error) bool { return IsStatus(err, http.StatusForbidden) }

// IsNotFound reports a 404.
func IsNotFound(err error) bool { return IsStatus(err, http.StatusNotFound) }

// IsConflict reports a 409, which the backend uses for stock conflicts.
func IsConflict(err error) bool { return IsStatus(err, http.StatusConflict) }

// IsRateLimited reports a 429.
func IsRateLimited(err error) bool { return IsStatus(err, http.StatusTooManyRequests) }

var availablePattern = regexp.MustCompile(`(?i)available:\s*(\d+)`)

// AvailableCount extracts N from a message containing "Available: N".
func AvailableCount(err error) (int, bool) {
	apiErr, ok := AsError(err)
	if !ok {
		return 0, false
	}
	candidates := []string{apiErr.ServerMessage(), string(apiErr.Body)}
	for _, text := range candidates {
		match := availablePattern.FindStringSubmatch(text)
		if len(match) != 2 {
			continue
		}
		n, convErr := strconv.Atoi(match[1])
		if convErr == nil {
			return n, true
		}
	}
	return 0, false
}
