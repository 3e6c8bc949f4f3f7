package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

const auditBillID = "3f2b8a1e-8c44-4d0b-9a55-0c1f6f0f7a11"

func runAudit(t *testing.T, method, path string, status int, recorders ...AuditRecorder) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "doc-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"doctor"})
	req = req.WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-9")

	err := Audit(zerolog.New(&buf), recorders...)(func(c echo.Context) error {
		if status >= 400 {
			return echo.NewHTTPError(status, "nope")
		}
		return c.NoContent(status)
	})(c)
	return buf.String(), err
}

func TestAudit_RecordsBillAccess(t *testing.T) {
	var got AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})

	out, err := runAudit(t, http.MethodPost, "/api/v1/bills/"+auditBillID+"/payments", http.StatusCreated, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ActorID != "doc-1" || got.BillID != auditBillID || got.Action != "payments.create" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.StatusCode != http.StatusCreated || got.RequestID != "req-9" {
		t.Errorf("unexpected status/request id: %+v", got)
	}
	if !strings.Contains(out, `"type":"billing_audit"`) {
		t.Errorf("expected billing_audit log, got %s", out)
	}
}

func TestAudit_ForbiddenLogsWarn(t *testing.T) {
	var got AuditEntry
	out, _ := runAudit(t, http.MethodPut, "/api/v1/bills/"+auditBillID+"/adjustments", http.StatusForbidden,
		AuditRecorderFunc(func(e AuditEntry) error { got = e; return nil }))
	if got.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 captured, got %d", got.StatusCode)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got %s", out)
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	called := false
	out, _ := runAudit(t, http.MethodGet, "/health", http.StatusOK,
		AuditRecorderFunc(func(AuditEntry) error { called = true; return nil }))
	if called || out != "" {
		t.Error("expected /health not to be audited")
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	out, err := runAudit(t, http.MethodGet, "/api/v1/bills", http.StatusOK,
		AuditRecorderFunc(func(AuditEntry) error { return errors.New("disk full") }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", out)
	}
}

func TestAuditAction(t *testing.T) {
	base := "/api/v1/bills/" + auditBillID
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/bills", "bills.search"},
		{http.MethodPost, "/api/v1/bills", "bills.create"},
		{http.MethodGet, base, "bills.read"},
		{http.MethodPost, base + "/finalize", "bills.finalize"},
		{http.MethodPost, base + "/cancel", "bills.cancel"},
		{http.MethodPatch, base + "/items/2", "items.update"},
		{http.MethodDelete, base + "/items/2", "items.delete"},
		{http.MethodPut, base + "/consultation-fee", "consultation-fee.update"},
		{http.MethodPost, base + "/payments/abc/reversal", "payments.reverse"},
		{http.MethodGet, "/api/v1/patients/1", "patients.get"},
	}
	for _, tt := range tests {
		if got := auditAction(tt.method, tt.path); got != tt.want {
			t.Errorf("auditAction(%s %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestBillIDFromPath(t *testing.T) {
	if got := billIDFromPath("/api/v1/bills/" + auditBillID + "/items"); got != auditBillID {
		t.Errorf("expected %s, got %q", auditBillID, got)
	}
	if got := billIDFromPath("/api/v1/bills/not-a-uuid"); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
	if got := billIDFromPath("/api/v1/bills"); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}
