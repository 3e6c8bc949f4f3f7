package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/directory"
	"github.com/hms/hms/internal/platform/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                "test",
		AuthMode:           "development",
		BillStore:          config.StoreMemory,
		DefaultTenant:      "default",
		CORSOrigins:        []string{"http://localhost:3000"},
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
		RequestTimeout:     5 * time.Second,
		BodyLimit:          "1M",
		BillingExchange:    "hms.billing",
		PaymentTermsDays:   30,
		MaxConflictRetries: 3,
	}
}

func newTestServer(t *testing.T) (*server, *echo.Echo) {
	t.Helper()
	cfg := testConfig()
	dir := directory.NewService(directory.NewMemoryRepository())
	s := &server{
		cfg:       cfg,
		logger:    zerolog.Nop(),
		directory: dir,
		billing:   newBillingService(cfg, billing.NewMemoryRepository(), directoryAdapter{svc: dir}, nil, zerolog.Nop()),
	}
	return s, s.router()
}

func call(e *echo.Echo, method, path, actorID, role, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actorID != "" {
		req.Header.Set(auth.DevActorIDHeader, actorID)
		req.Header.Set(auth.DevActorRoleHeader, role)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestDirectoryAdapter(t *testing.T) {
	repo := directory.NewMemoryRepository()
	svc := directory.NewService(repo)
	ctx := context.Background()

	if err := svc.Register(ctx, &directory.Person{ID: "pat-1", Kind: directory.KindPatient, FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"}); err != nil {
		t.Fatalf("register patient: %v", err)
	}
	if err := repo.Upsert(ctx, &directory.Person{ID: "doc-9", Kind: directory.KindDoctor, LastName: "Gone", Active: false}); err != nil {
		t.Fatalf("upsert doctor: %v", err)
	}

	a := directoryAdapter{svc: svc}
	snap, err := a.GetPatient(ctx, "pat-1")
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	if snap.Name != "Asha Rao" || snap.Email != "asha@example.com" {
		t.Errorf("snapshot = %+v", snap)
	}

	if _, err := a.GetPatient(ctx, "pat-404"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("unknown patient: got %v, want billing.ErrNotFound", err)
	}
	if _, err := a.GetDoctor(ctx, "pat-1"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("patient looked up as doctor: got %v, want billing.ErrNotFound", err)
	}
	if _, err := a.GetDoctor(ctx, "doc-9"); !errors.Is(err, billing.ErrNotFound) {
		t.Errorf("inactive doctor: got %v, want billing.ErrNotFound", err)
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	e := echo.New()
	handler := httpErrorHandler(zerolog.Nop())

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
		wantMsg  string
	}{
		{"http error", echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded"), 429, "TooManyRequests", "rate limit exceeded"},
		{"unmapped code", echo.NewHTTPError(http.StatusTeapot, "short and stout"), 418, "InternalError", "short and stout"},
		{"plain error hides detail", errors.New("pq: connection refused"), 500, "InternalError", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)
			handler(tt.err, c)

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v (%s)", err, rec.Body.String())
			}
			if body["error"] != tt.wantKind || body["message"] != tt.wantMsg {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestHTTPErrorHandler_HeadHasNoBody(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodHead, "/x", nil), rec)
	httpErrorHandler(zerolog.Nop())(echo.ErrNotFound, c)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD response has body %q", rec.Body.String())
	}
}

func TestRouter_Health(t *testing.T) {
	_, e := newTestServer(t)

	rec := call(e, http.MethodGet, "/health", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/health = %d", rec.Code)
	}
	rec = call(e, http.MethodGet, "/health/db", "", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"memory"`) {
		t.Errorf("/health/db = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestRouter_CreateBillThroughDirectory(t *testing.T) {
	_, e := newTestServer(t)

	rec := call(e, http.MethodPost, "/api/v1/patients", "admin-1", "admin", `{"id":"pat-1","first_name":"Asha","last_name":"Rao"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register patient = %d %s", rec.Code, rec.Body.String())
	}
	rec = call(e, http.MethodPost, "/api/v1/doctors", "admin-1", "admin", `{"id":"doc-1","first_name":"Meera","last_name":"Iyer"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register doctor = %d %s", rec.Code, rec.Body.String())
	}

	rec = call(e, http.MethodPost, "/api/v1/bills", "doc-1", "doctor", `{"patient_ref":"pat-1","consultation_fee":"75.50"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bill = %d %s", rec.Code, rec.Body.String())
	}
	var b billing.Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode bill: %v", err)
	}
	if b.Patient.Name != "Asha Rao" {
		t.Errorf("patient snapshot = %+v", b.Patient)
	}
	if got := b.TotalAmount.StringFixed(2); got != "75.50" {
		t.Errorf("total = %s, want 75.50", got)
	}

	rec = call(e, http.MethodPost, "/api/v1/bills", "doc-1", "doctor", `{"patient_ref":"pat-404"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown patient = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_RejectsUnknownRole(t *testing.T) {
	_, e := newTestServer(t)
	rec := call(e, http.MethodGet, "/api/v1/bills", "nurse-1", "nurse", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("nurse list = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] != "Forbidden" {
		t.Errorf("error body = %s", rec.Body.String())
	}
}

func TestRouter_InvalidTenant(t *testing.T) {
	_, e := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil)
	req.Header.Set(auth.DevActorIDHeader, "admin-1")
	req.Header.Set(auth.DevActorRoleHeader, "admin")
	req.Header.Set("X-Tenant-ID", "bad-tenant;drop")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid tenant = %d", rec.Code)
	}
}

func TestSweepBatch(t *testing.T) {
	sweep, _, err := billingCmd().Find([]string{"sweep-overdue"})
	if err != nil {
		t.Fatalf("find sweep-overdue: %v", err)
	}

	got, err := sweepBatch(sweep)
	if err != nil || got != billing.DefaultSweepBatch {
		t.Errorf("default batch = %d, %v", got, err)
	}
	if err := sweep.Flags().Set("batch", "0"); err != nil {
		t.Fatal(err)
	}
	if got, err := sweepBatch(sweep); err != nil || got != 0 {
		t.Errorf("batch 0 = %d, %v; want 0 (no limit)", got, err)
	}
	if err := sweep.Flags().Set("batch", "-5"); err != nil {
		t.Fatal(err)
	}
	if _, err := sweepBatch(sweep); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Errorf("negative batch: got %v", err)
	}
}

func TestBillingCmd_RejectsNegativeBatchBeforeConnecting(t *testing.T) {
	cmd := billingCmd()
	cmd.SetArgs([]string{"sweep-overdue", "--batch", "-1"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--batch") {
		t.Errorf("execute: got %v, want --batch error", err)
	}
}
