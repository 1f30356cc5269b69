package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reqline/internal/config"
	"reqline/internal/db"
	"reqline/internal/engine"
	"reqline/internal/migrate"
	"reqline/internal/notify"
)

const testJWTSecret = "test-jwt-secret"

type testServer struct {
	URL    string
	Memory *notify.Memory
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("reqline")
	cfg.Tokens.Secret = "test-handoff-secret"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	mem := notify.NewMemory()
	e := engine.New(conn, cfg, mem)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testJWTSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Memory: mem,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearerFor(t *testing.T, actorID, name string) map[string]string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  actorID,
		"name": name,
		"iat":  jwt.NewNumericDate(time.Now()),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign test jwt: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func submitBody() map[string]any {
	return map[string]any{
		"name":        "Aigerim",
		"phone":       "+7 701 555 0101",
		"city":        "Astana",
		"description": "Need help filing quarterly reports",
		"category":    "ACCOUNTING",
	}
}

func registerSpecialist(t *testing.T, srv *testServer, actor map[string]string, id, name string, categories ...string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/specialists", map[string]any{
		"id":           id,
		"display_name": name,
		"categories":   categories,
	}, actor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register specialist: %d %s", res.StatusCode, string(data))
	}
}

func TestRequiresAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestSubmitClaimDoneFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intake := bearerFor(t, "intake-bot", "Intake Bot")
	dana := bearerFor(t, "sp-1", "Dana")
	registerSpecialist(t, srv, intake, "sp-1", "Dana", "ACCOUNTING")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", submitBody(), intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != "PENDING" || created.PublicRef == "" {
		t.Fatalf("unexpected created request: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/claim", nil, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", res.StatusCode, string(data))
	}
	var claim ClaimResponse
	if err := json.Unmarshal(data, &claim); err != nil {
		t.Fatalf("unmarshal claim: %v", err)
	}
	if claim.Request.Status != "IN_PROGRESS" || claim.HandoffToken == "" {
		t.Fatalf("unexpected claim response: %+v", claim)
	}

	// The token round-trips through the verify endpoint.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/handoff/verify", map[string]any{
		"token": claim.HandoffToken,
	}, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify: %d %s", res.StatusCode, string(data))
	}
	var verified RequestResponse
	_ = json.Unmarshal(data, &verified)
	if verified.ID != created.ID {
		t.Fatalf("token resolves %s, want %s", verified.ID, created.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/my/requests", nil, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("my requests: %d %s", res.StatusCode, string(data))
	}
	var mine []RequestResponse
	_ = json.Unmarshal(data, &mine)
	if len(mine) != 1 {
		t.Fatalf("want 1 claimed request, got %d", len(mine))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/done", nil, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("done: %d %s", res.StatusCode, string(data))
	}
	var done RequestResponse
	_ = json.Unmarshal(data, &done)
	if done.Status != "DONE" {
		t.Fatalf("want DONE, got %s", done.Status)
	}

	// The reference is retired.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/claim", nil, dana)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("claim after done: expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestClaimConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intake := bearerFor(t, "intake-bot", "Intake Bot")
	dana := bearerFor(t, "sp-1", "Dana")
	erik := bearerFor(t, "sp-2", "Erik")
	registerSpecialist(t, srv, intake, "sp-1", "Dana", "ACCOUNTING")
	registerSpecialist(t, srv, intake, "sp-2", "Erik", "ACCOUNTING")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", submitBody(), intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/claim", nil, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first claim: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/claim", nil, erik)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "already_claimed" {
		t.Fatalf("want code already_claimed, got %q", envelope.Error.Code)
	}
}

func TestClaimWithoutGrantForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intake := bearerFor(t, "intake-bot", "Intake Bot")
	dana := bearerFor(t, "sp-1", "Dana")
	registerSpecialist(t, srv, intake, "sp-1", "Dana", "LAW")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", submitBody(), intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/claim", nil, dana)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
}

func TestCancelReopensOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	intake := bearerFor(t, "intake-bot", "Intake Bot")
	dana := bearerFor(t, "sp-1", "Dana")
	registerSpecialist(t, srv, intake, "sp-1", "Dana", "ACCOUNTING")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests", submitBody(), intake)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	_ = json.Unmarshal(data, &created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/claim", nil, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.PublicRef+"/cancel", map[string]any{
		"note": "client unreachable",
	}, dana)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", res.StatusCode, string(data))
	}
	var reopened RequestResponse
	_ = json.Unmarshal(data, &reopened)
	if reopened.Status != "PENDING" || reopened.PublicRef == created.PublicRef {
		t.Fatalf("unexpected reopened request: %+v", reopened)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+created.ID+"/cancellations", nil, intake)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancellations: %d %s", res.StatusCode, string(data))
	}
	var hist []CancellationResponse
	_ = json.Unmarshal(data, &hist)
	if len(hist) != 1 || hist[0].Note != "client unreachable" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestSubmitValidationEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	intake := bearerFor(t, "intake-bot", "Intake Bot")

	body := submitBody()
	body["phone"] = "12"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests", body, intake)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}

	body = submitBody()
	body["category"] = "PLUMBING"
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests", body, intake)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "unknown_category" {
		t.Fatalf("want code unknown_category, got %q", envelope.Error.Code)
	}
}
