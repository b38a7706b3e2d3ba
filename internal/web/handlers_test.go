package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"provisiond/internal/config"
	"provisiond/internal/importer"
	"provisiond/internal/store"
)

const testAPIKey = "test-key"

// memStore backs both the pipeline (importer.AccountStore) and the web
// layer (AccountDirectory) in tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*store.Record
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*store.Record{}}
}

func (m *memStore) Exists(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[email]
	return ok, nil
}

func (m *memStore) Create(ctx context.Context, acct importer.Account) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[acct.Email]; ok {
		return "", importer.ErrAlreadyExists
	}
	rec := &store.Record{
		ID:          "id-" + acct.Email,
		Email:       acct.Email,
		Name:        acct.Name,
		Role:        string(acct.Role),
		Status:      store.StatusPending,
		Token:       acct.Token,
		TokenExpiry: acct.TokenExpiry,
	}
	m.records[acct.Email] = rec
	return rec.ID, nil
}

func (m *memStore) Activate(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = store.StatusActive
	rec.Notified = true
	return nil
}

func (m *memStore) GetByEmail(ctx context.Context, email string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) ReplaceToken(ctx context.Context, email, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email]
	if !ok || rec.Status != store.StatusPending {
		return store.ErrNotFound
	}
	rec.Token = token
	rec.TokenExpiry = expiry
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *memStore) seedPending(email, token string, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[email] = &store.Record{
		ID: "id-" + email, Email: email, Name: "Seeded", Role: "student",
		Status: store.StatusPending, Token: token, TokenExpiry: expiry,
	}
}

// recordSender records invites; nil failFor entries succeed.
type recordSender struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]error
}

func (r *recordSender) SendInvite(ctx context.Context, to, name, setupURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[to]; err != nil {
		return err
	}
	r.sent = append(r.sent, to)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{MaxUploadSize: 1 << 20},
		Import: config.ImportConfig{
			BaseURL:      "https://portal.example.edu",
			MaxBatchSize: 100,
			TokenTTL:     168 * time.Hour,
		},
		Security: config.SecurityConfig{
			RequireAPIKey: true,
			APIKeys:       []string{testAPIKey},
		},
	}
}

func testServer(t *testing.T, st *memStore, sender importer.MailSender) *Server {
	t.Helper()
	cfg := testConfig()
	orch := importer.NewOrchestrator(st, sender, importer.SystemClock(), importer.Config{
		BaseURL:         cfg.Import.BaseURL,
		MaxBatchSize:    cfg.Import.MaxBatchSize,
		InterEmailDelay: time.Millisecond,
		TokenTTL:        cfg.Import.TokenTTL,
	}, slog.Default())
	return NewServer(cfg, orch, st, sender)
}

// uploadRequest builds an authenticated multipart upload of one CSV file.
func uploadRequest(t *testing.T, csv string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "roster.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(csv)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

// decodeStream parses the blank-line framed "data: <json>" blocks of an
// event stream body into loosely-typed maps.
func decodeStream(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("malformed event block: %q", block)
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev); err != nil {
			t.Fatalf("bad event JSON %q: %v", block, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestHandleImport(t *testing.T) {
	t.Run("streams events through to complete", func(t *testing.T) {
		st := newMemStore()
		sender := &recordSender{failFor: map[string]error{}}
		srv := testServer(t, st, sender)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, uploadRequest(t,
			"name,email,role\nAda,ada@example.edu,student\nGrace,grace@example.edu,staff\n"))

		if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("Content-Type = %q", ct)
		}

		events := decodeStream(t, rec.Body.String())
		if len(events) == 0 {
			t.Fatal("no events in stream")
		}
		first := events[0]
		if first["type"] != "phase" || first["phase"] != "validating" {
			t.Errorf("first event = %v", first)
		}
		last := events[len(events)-1]
		if last["type"] != "complete" {
			t.Fatalf("last event = %v, want complete", last)
		}
		if last["success"] != float64(2) || last["failed"] != float64(0) {
			t.Errorf("complete tallies = %v", last)
		}
		if len(sender.sent) != 2 {
			t.Errorf("sent = %v", sender.sent)
		}
	})

	t.Run("rejections surface in the complete event", func(t *testing.T) {
		st := newMemStore()
		srv := testServer(t, st, &recordSender{failFor: map[string]error{}})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, uploadRequest(t,
			"name,email,role\nAda,ada@example.edu,student\nBad,nope,student\n"))

		events := decodeStream(t, rec.Body.String())
		last := events[len(events)-1]
		if last["type"] != "complete" {
			t.Fatalf("last event = %v", last)
		}
		errs, ok := last["errors"].([]any)
		if !ok || len(errs) != 1 {
			t.Fatalf("errors = %v", last["errors"])
		}
		rej := errs[0].(map[string]any)
		if rej["reason"] != "invalid-email" || rej["row"] != float64(3) {
			t.Errorf("rejection = %v", rej)
		}
	})

	t.Run("no file yields a single error event", func(t *testing.T) {
		srv := testServer(t, newMemStore(), &recordSender{failFor: map[string]error{}})

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-API-Key", testAPIKey)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		events := decodeStream(t, rec.Body.String())
		if len(events) != 1 || events[0]["type"] != "error" {
			t.Errorf("events = %v, want one error event", events)
		}
	})

	t.Run("unparseable roster yields a single error event", func(t *testing.T) {
		srv := testServer(t, newMemStore(), &recordSender{failFor: map[string]error{}})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, uploadRequest(t, "name,mail\nAda,ada@example.edu\n"))

		events := decodeStream(t, rec.Body.String())
		if len(events) != 1 || events[0]["type"] != "error" {
			t.Fatalf("events = %v, want one error event", events)
		}
		msg, _ := events[0]["message"].(string)
		if !strings.Contains(msg, "missing required columns") {
			t.Errorf("message = %q", msg)
		}
	})

	t.Run("empty roster aborts with an error event", func(t *testing.T) {
		srv := testServer(t, newMemStore(), &recordSender{failFor: map[string]error{}})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, uploadRequest(t, "name,email,role\n"))

		events := decodeStream(t, rec.Body.String())
		if len(events) != 1 || events[0]["type"] != "error" {
			t.Errorf("events = %v, want one error event", events)
		}
	})

	t.Run("requires API key", func(t *testing.T) {
		srv := testServer(t, newMemStore(), &recordSender{failFor: map[string]error{}})

		req := uploadRequest(t, "name,email,role\n")
		req.Header.Del("X-API-Key")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestHandleResend(t *testing.T) {
	authedPost := func(path string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-API-Key", testAPIKey)
		return req
	}

	t.Run("resends and activates a pending account", func(t *testing.T) {
		st := newMemStore()
		st.seedPending("ada@example.edu", "valid-token", time.Now().Add(time.Hour))
		sender := &recordSender{failFor: map[string]error{}}
		srv := testServer(t, st, sender)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, authedPost("/api/accounts/ada@example.edu/resend"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if len(sender.sent) != 1 {
			t.Errorf("sent = %v", sender.sent)
		}
		got, _ := st.GetByEmail(context.Background(), "ada@example.edu")
		if got.Status != store.StatusActive || !got.Notified {
			t.Errorf("record after resend = %+v", got)
		}
		if got.Token != "valid-token" {
			t.Error("an unexpired token must be reused, not replaced")
		}
	})

	t.Run("expired token is replaced", func(t *testing.T) {
		st := newMemStore()
		st.seedPending("ada@example.edu", "stale-token", time.Now().Add(-time.Hour))
		srv := testServer(t, st, &recordSender{failFor: map[string]error{}})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, authedPost("/api/accounts/ada@example.edu/resend"))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		got, _ := st.GetByEmail(context.Background(), "ada@example.edu")
		if got.Token == "stale-token" {
			t.Error("expired token was not replaced")
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		srv := testServer(t, newMemStore(), &recordSender{failFor: map[string]error{}})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, authedPost("/api/accounts/ghost@example.edu/resend"))

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("already active account", func(t *testing.T) {
		st := newMemStore()
		st.seedPending("ada@example.edu", "t", time.Now().Add(time.Hour))
		if err := st.Activate(context.Background(), "ada@example.edu"); err != nil {
			t.Fatal(err)
		}
		srv := testServer(t, st, &recordSender{failFor: map[string]error{}})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, authedPost("/api/accounts/ada@example.edu/resend"))

		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("delivery failure leaves account pending", func(t *testing.T) {
		st := newMemStore()
		st.seedPending("ada@example.edu", "t", time.Now().Add(time.Hour))
		sender := &recordSender{failFor: map[string]error{
			"ada@example.edu": errors.New("smtp down"),
		}}
		srv := testServer(t, st, sender)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, authedPost("/api/accounts/ada@example.edu/resend"))

		if rec.Code != http.StatusBadGateway {
			t.Errorf("status = %d, want 502", rec.Code)
		}
		got, _ := st.GetByEmail(context.Background(), "ada@example.edu")
		if got.Status != store.StatusPending {
			t.Errorf("status after failed resend = %q, want pending", got.Status)
		}
	})

	t.Run("mail transport not configured", func(t *testing.T) {
		st := newMemStore()
		st.seedPending("ada@example.edu", "t", time.Now().Add(time.Hour))
		srv := testServer(t, st, nil)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, authedPost("/api/accounts/ada@example.edu/resend"))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := testServer(t, newMemStore(), nil)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("database unreachable", func(t *testing.T) {
		st := newMemStore()
		st.pingErr = errors.New("connection refused")
		srv := testServer(t, st, nil)

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t, newMemStore(), nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("request over the limit should be denied")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("another IP has its own bucket")
	}
}
