package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voicecmd/internal/resilience"
	"github.com/MrWong99/voicecmd/pkg/storage/mock"
)

func okCheck(name string, critical bool) Checker {
	return Checker{Name: name, Critical: critical, Check: func(context.Context) error { return nil }}
}

func failCheck(name string, critical bool, msg string) Checker {
	return Checker{Name: name, Critical: critical, Check: func(context.Context) error { return errors.New(msg) }}
}

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, Report) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body Report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(failCheck("storage", true, "down"))

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{okCheck("storage", true), okCheck("network", false)},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"storage": "ok", "network": "ok"},
		},
		{
			name:       "non-critical failure degrades",
			checkers:   []Checker{okCheck("storage", true), failCheck("network", false, "offline")},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"storage": "ok", "network": "degraded: offline"},
		},
		{
			name:       "critical failure fails",
			checkers:   []Checker{failCheck("storage", true, "disk full"), failCheck("network", false, "offline")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"storage": "fail: disk full", "network": "degraded: offline"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := readyz(t, New(tt.checkers...), context.Background())
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	slow := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
	)

	done := make(chan Report)
	go func() { done <- h.Evaluate(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not run concurrently")
		}
	}
	close(release)
	if r := <-done; r.Status != StatusOK {
		t.Errorf("status = %q", r.Status)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Critical: true, Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	mux := http.NewServeMux()
	New(okCheck("test", true)).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestStoreCheck(t *testing.T) {
	tests := []struct {
		name    string
		store   *mock.Store
		wantErr bool
	}{
		{"missing key is healthy", &mock.Store{}, false},
		{"load error", &mock.Store{LoadErr: errors.New("database is locked")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := StoreCheck(tt.store)
			if !c.Critical {
				t.Error("storage check must be critical")
			}
			if err := c.Check(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Check() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNetworkCheck(t *testing.T) {
	online := true
	c := NetworkCheck(func() bool { return online })
	if c.Critical {
		t.Error("network check must not be critical")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("online: %v", err)
	}
	online = false
	if err := c.Check(context.Background()); err == nil {
		t.Error("offline: want error")
	}
}

func TestBreakerCheck(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "executor", MaxFailures: 1})
	c := BreakerCheck(cb)
	if c.Name != "breaker:executor" {
		t.Errorf("name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("closed breaker: %v", err)
	}

	_ = cb.Execute(func() error { return errors.New("boom") })
	if err := c.Check(context.Background()); err == nil {
		t.Error("open breaker: want error")
	}
}
