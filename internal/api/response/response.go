// Package response writes JSON bodies and RFC 7807 problems for the API handlers.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/smartautomapper/sam/internal/api/middleware"
	"github.com/smartautomapper/sam/internal/api/models"
)

// JSON writes data as JSON with the given status. The body is encoded before the
// header is sent, so an unencodable value yields a 500 problem instead of a
// truncated 200.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)

	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			InternalError(w, r, "failed to encode response")
			return
		}
		body = append(body, '\n')
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter, r *http.Request) {
	setRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Degraded marks the response as produced without the named pipeline parts.
// It must be called before the body is written; repeated reasons are kept once.
func Degraded(w http.ResponseWriter, reasons ...string) {
	if len(reasons) == 0 {
		return
	}
	seen := map[string]bool{}
	var parts []string
	if prev := w.Header().Get(middleware.DegradedHeader); prev != "" {
		parts = strings.Split(prev, ",")
		for _, p := range parts {
			seen[p] = true
		}
	}
	for _, reason := range reasons {
		if reason != "" && !seen[reason] {
			seen[reason] = true
			parts = append(parts, reason)
		}
	}
	w.Header().Set(middleware.DegradedHeader, strings.Join(parts, ","))
}

// Error writes problem with the request path as its instance.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	setRequestID(w, r)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// BadRequest writes a 400 problem listing the invalid fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// Unauthorized writes a 401 problem.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUnauthorized(traceID(r), detail))
}

// NotFound writes a 404 problem.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// TooManyRequests writes a 429 problem. A positive retryAfter is sent as the
// Retry-After header in seconds.
func TooManyRequests(w http.ResponseWriter, r *http.Request, detail string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	Error(w, r, models.NewTooManyRequests(traceID(r), detail))
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// BadGateway writes a 502 problem, used when the upstream answered with garbage.
func BadGateway(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewBadGateway(traceID(r), detail))
}

// ServiceUnavailable writes a 503 problem.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := traceID(r); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}
