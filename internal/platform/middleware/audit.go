package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// AuditEntry records who touched which bill and what they attempted.
type AuditEntry struct {
	RequestID  string
	ActorID    string
	Roles      []string
	BillID     string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
	Timestamp  time.Time
}

type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

const (
	apiPrefix   = "/api/v1/"
	billsPrefix = "/api/v1/bills"
)

// Audit logs every request under /api/v1 after the handler ran, so the
// entry carries the final status. Recorders receive the same entry; their
// failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			entry := AuditEntry{
				ActorID:    auth.UserIDFromContext(req.Context()),
				Roles:      auth.RolesFromContext(req.Context()),
				BillID:     billIDFromPath(req.URL.Path),
				Action:     auditAction(req.Method, req.URL.Path),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if status == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "billing_audit").
				Str("request_id", entry.RequestID).
				Str("actor_id", entry.ActorID).
				Strs("roles", entry.Roles).
				Str("bill_id", entry.BillID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("bill_access")

			return err
		}
	}
}

func billIDFromPath(path string) string {
	if !strings.HasPrefix(path, billsPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(path, billsPrefix), "/")
	id, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// auditAction names the operation from the method and the sub-resource, e.g.
// POST /bills/{id}/payments -> "payments.create". Non-bill paths use their
// first segment.
func auditAction(method, path string) string {
	if !strings.HasPrefix(path, billsPrefix) {
		first, _, _ := strings.Cut(strings.TrimPrefix(path, apiPrefix), "/")
		return first + "." + strings.ToLower(method)
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, billsPrefix), "/"), "/")
	var resource string
	if len(segments) >= 2 {
		resource = segments[1]
	}

	var verb string
	switch method {
	case http.MethodPost:
		verb = "create"
	case http.MethodPut, http.MethodPatch:
		verb = "update"
	case http.MethodDelete:
		verb = "delete"
	default:
		verb = "read"
	}

	switch resource {
	case "":
		if segments[0] == "" && verb == "read" {
			return "bills.search"
		}
		return "bills." + verb
	case "finalize", "cancel":
		return "bills." + resource
	case "payments":
		if len(segments) >= 4 && segments[3] == "reversal" {
			return "payments.reverse"
		}
		return "payments." + verb
	default:
		return resource + "." + verb
	}
}
