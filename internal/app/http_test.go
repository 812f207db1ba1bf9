package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/config"
	"inkshelf/api/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		Backend:         config.BackendMemory,
		JWTSecret:       "test-secret",
		AccessTTL:       time.Hour,
		RefreshTTL:      24 * time.Hour,
		CommentAttempts: 3,
		ScanConcurrency: 4,
		DefaultRole:     "author",
		StoreTimeout:    time.Second,
	}
}

func newTestServer(t *testing.T, store blobstore.Store, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc := New(cfg, store, session.NewMemoryStore(), nil)
	return NewHTTPServer(svc, "*").Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var response map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("parse response of %s %s: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr.Code, response
}

func expectStatus(t *testing.T, got, want int, body map[string]any) {
	t.Helper()
	if got != want {
		t.Fatalf("expected status %d, got %d body=%v", want, got, body)
	}
}

// signUp registers username and returns an access token for it.
func signUp(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	status, body := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret-" + username,
	})
	expectStatus(t, status, http.StatusCreated, body)

	status, body = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{
		"identifier": username,
		"password":   "secret-" + username,
	})
	expectStatus(t, status, http.StatusOK, body)
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatalf("expected accessToken, got %v", body)
	}
	return token
}

type unreachableStore struct {
	*blobstore.Memory
}

func (unreachableStore) Ping(context.Context) error {
	return fmt.Errorf("%w: connection refused", blobstore.ErrTransport)
}

func (unreachableStore) Get(context.Context, string) (*blobstore.Object, error) {
	return nil, fmt.Errorf("%w: deadline exceeded", blobstore.ErrTransport)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)

	status, body := do(t, h, http.MethodGet, "/api/health", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}

	status, body = do(t, h, http.MethodGet, "/api/ready", "", nil)
	expectStatus(t, status, http.StatusOK, body)

	down := newTestServer(t, unreachableStore{blobstore.NewMemory()}, nil)
	status, body = do(t, down, http.MethodGet, "/api/ready", "", nil)
	expectStatus(t, status, http.StatusServiceUnavailable, body)
	if body["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", body)
	}
}

func TestAuthLifecycle(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)

	status, body := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": "ana", "email": "Ana@Example.com", "password": "hunter22",
	})
	expectStatus(t, status, http.StatusCreated, body)
	if _, leaked := body["passwordHash"]; leaked {
		t.Fatalf("profile must not carry the password hash: %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": "ana", "email": "other@example.com", "password": "hunter22",
	})
	expectStatus(t, status, http.StatusConflict, body)
	if body["code"] != "USERNAME_TAKEN" {
		t.Fatalf("expected USERNAME_TAKEN, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username": "ana2", "email": "ana@example.com", "password": "hunter22",
	})
	expectStatus(t, status, http.StatusConflict, body)
	if body["code"] != "EMAIL_TAKEN" {
		t.Fatalf("expected EMAIL_TAKEN, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{
		"identifier": "ana@example.com", "password": "wrong-password",
	})
	expectStatus(t, status, http.StatusUnauthorized, body)
	if body["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{
		"identifier": "ana@example.com", "password": "hunter22",
	})
	expectStatus(t, status, http.StatusOK, body)
	access, _ := body["accessToken"].(string)
	refresh, _ := body["refreshToken"].(string)
	if access == "" || refresh == "" || body["username"] != "ana" {
		t.Fatalf("unexpected login response: %v", body)
	}

	status, body = do(t, h, http.MethodGet, "/api/session", access, nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["authenticated"] != true || body["username"] != "ana" || body["role"] != "author" {
		t.Fatalf("unexpected session: %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	expectStatus(t, status, http.StatusOK, body)
	rotated, _ := body["refreshToken"].(string)
	if rotated == "" || rotated == refresh {
		t.Fatalf("expected a rotated refresh token, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": refresh})
	expectStatus(t, status, http.StatusUnauthorized, body)
	if body["code"] != "INVALID_REFRESH_TOKEN" {
		t.Fatalf("expected INVALID_REFRESH_TOKEN, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/auth/logout", "", map[string]any{"refreshToken": rotated})
	expectStatus(t, status, http.StatusOK, body)
	status, body = do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": rotated})
	expectStatus(t, status, http.StatusUnauthorized, body)
}

func TestSessionWithoutToken(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)

	status, body := do(t, h, http.MethodGet, "/api/session", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["authenticated"] != false {
		t.Fatalf("expected unauthenticated, got %v", body)
	}
	status, body = do(t, h, http.MethodGet, "/api/session", "garbage", nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["authenticated"] != false {
		t.Fatalf("expected unauthenticated for a bad token, got %v", body)
	}
}

func TestChangePassword(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)
	token := signUp(t, h, "bob")

	status, body := do(t, h, http.MethodPost, "/api/auth/password", token, map[string]any{
		"currentPassword": "nope", "newPassword": "brand-new",
	})
	expectStatus(t, status, http.StatusUnauthorized, body)

	status, body = do(t, h, http.MethodPost, "/api/auth/password", token, map[string]any{
		"currentPassword": "secret-bob", "newPassword": "brand-new",
	})
	expectStatus(t, status, http.StatusOK, body)

	status, body = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{
		"identifier": "bob", "password": "brand-new",
	})
	expectStatus(t, status, http.StatusOK, body)
}

func TestNovelLifecycle(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)
	owner := signUp(t, h, "mira")
	other := signUp(t, h, "tom")

	input := map[string]any{"title": "The Glass Orchard", "author": "Mira Vale", "tags": []string{"Novel", "magic"}}

	status, body := do(t, h, http.MethodPost, "/api/novels", "", input)
	expectStatus(t, status, http.StatusUnauthorized, body)

	status, body = do(t, h, http.MethodPost, "/api/novels", owner, input)
	expectStatus(t, status, http.StatusCreated, body)
	if body["id"] != "the-glass-orchard" || body["creatorId"] != "mira" {
		t.Fatalf("unexpected novel: %v", body)
	}
	version, _ := body["version"].(string)
	if version == "" {
		t.Fatalf("expected a version, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/novels", other, input)
	expectStatus(t, status, http.StatusConflict, body)
	if body["code"] != "NOVEL_EXISTS" {
		t.Fatalf("expected NOVEL_EXISTS, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, "/api/novels", owner, map[string]any{"title": "!!!", "author": "x"})
	expectStatus(t, status, http.StatusUnprocessableEntity, body)

	status, body = do(t, h, http.MethodGet, "/api/novels", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if novels, _ := body["novels"].([]any); len(novels) != 1 {
		t.Fatalf("expected one novel, got %v", body)
	}

	chapter := map[string]any{"title": "Seeds & Glass", "body": "<p>It began.</p>"}
	status, body = do(t, h, http.MethodPut, "/api/novels/the-glass-orchard/chapters/1", other, chapter)
	expectStatus(t, status, http.StatusForbidden, body)

	status, body = do(t, h, http.MethodPut, "/api/novels/the-glass-orchard/chapters/1", owner, chapter)
	expectStatus(t, status, http.StatusOK, body)
	saved, _ := body["body"].(string)
	if !strings.HasPrefix(saved, "<h1>Seeds &amp; Glass</h1>") {
		t.Fatalf("expected injected heading, got %q", saved)
	}

	status, body = do(t, h, http.MethodPut, "/api/novels/missing/chapters/1", owner, chapter)
	expectStatus(t, status, http.StatusNotFound, body)

	status, body = do(t, h, http.MethodGet, "/api/novels/the-glass-orchard/chapters", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if chapters, _ := body["chapters"].([]any); len(chapters) != 1 {
		t.Fatalf("expected one chapter, got %v", body)
	}

	status, body = do(t, h, http.MethodGet, "/api/novels/the-glass-orchard/chapters/1", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	status, body = do(t, h, http.MethodGet, "/api/novels/the-glass-orchard/chapters/2", "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
	status, body = do(t, h, http.MethodGet, "/api/novels/the-glass-orchard/chapters/one", "", nil)
	expectStatus(t, status, http.StatusUnprocessableEntity, body)

	status, body = do(t, h, http.MethodGet, "/api/novels/the-glass-orchard/history", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if revisions, _ := body["revisions"].([]any); len(revisions) != 1 {
		t.Fatalf("expected one revision, got %v", body)
	}

	status, body = do(t, h, http.MethodDelete, "/api/novels/the-glass-orchard", owner, nil)
	expectStatus(t, status, http.StatusUnprocessableEntity, body)

	status, body = do(t, h, http.MethodDelete, "/api/novels/the-glass-orchard?version=stale", owner, nil)
	expectStatus(t, status, http.StatusConflict, body)
	if body["code"] != "VERSION_CONFLICT" {
		t.Fatalf("expected VERSION_CONFLICT, got %v", body)
	}

	status, body = do(t, h, http.MethodDelete, "/api/novels/the-glass-orchard?version="+version, other, nil)
	expectStatus(t, status, http.StatusForbidden, body)

	status, body = do(t, h, http.MethodDelete, "/api/novels/the-glass-orchard?version="+version, owner, nil)
	expectStatus(t, status, http.StatusOK, body)

	status, body = do(t, h, http.MethodGet, "/api/novels/the-glass-orchard", "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
	if body["code"] != "NOVEL_NOT_FOUND" {
		t.Fatalf("expected NOVEL_NOT_FOUND, got %v", body)
	}
}

func TestReadersCannotPublish(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), func(cfg *config.Config) { cfg.DefaultRole = "reader" })
	token := signUp(t, h, "reader1")

	status, body := do(t, h, http.MethodPost, "/api/novels", token, map[string]any{"title": "Mine", "author": "Me"})
	expectStatus(t, status, http.StatusForbidden, body)
	if body["code"] != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", body)
	}
}

func TestCommentThreadOverHTTP(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)
	token := signUp(t, h, "ana")
	base := "/api/novels/tale/chapters/1/comments"

	status, body := do(t, h, http.MethodGet, base, "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if list, ok := body["comments"].([]any); !ok || len(list) != 0 {
		t.Fatalf("expected an empty list, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, base+"/c_missing/replies", token, map[string]any{"body": "hello?"})
	expectStatus(t, status, http.StatusNotFound, body)
	if body["code"] != "THREAD_NOT_FOUND" {
		t.Fatalf("expected THREAD_NOT_FOUND, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, base, "", map[string]any{"body": "anonymous"})
	expectStatus(t, status, http.StatusUnauthorized, body)

	status, body = do(t, h, http.MethodPost, base, token, map[string]any{"body": "Great chapter!"})
	expectStatus(t, status, http.StatusCreated, body)
	parentID, _ := body["id"].(string)
	if parentID == "" || body["author"] != "ana" {
		t.Fatalf("unexpected comment: %v", body)
	}

	status, body = do(t, h, http.MethodPost, base, token, map[string]any{"body": "   "})
	expectStatus(t, status, http.StatusUnprocessableEntity, body)

	status, body = do(t, h, http.MethodPost, base+"/"+parentID+"/replies", token, map[string]any{"body": "Agreed"})
	expectStatus(t, status, http.StatusCreated, body)

	status, body = do(t, h, http.MethodPost, base+"/c_nope/replies", token, map[string]any{"body": "Agreed"})
	expectStatus(t, status, http.StatusNotFound, body)
	if body["code"] != "PARENT_NOT_FOUND" {
		t.Fatalf("expected PARENT_NOT_FOUND, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, base+"/"+parentID+"/like", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["likes"] != float64(1) {
		t.Fatalf("expected likes=1, got %v", body)
	}

	status, body = do(t, h, http.MethodPost, base+"/c_nope/like", "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
	if body["code"] != "COMMENT_NOT_FOUND" {
		t.Fatalf("expected COMMENT_NOT_FOUND, got %v", body)
	}

	status, body = do(t, h, http.MethodGet, base, "", nil)
	expectStatus(t, status, http.StatusOK, body)
	list, _ := body["comments"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one root comment, got %v", body)
	}
	root, _ := list[0].(map[string]any)
	replies, _ := root["replies"].([]any)
	if root["likes"] != float64(1) || len(replies) != 1 {
		t.Fatalf("unexpected tree: %v", root)
	}
	if reply, _ := replies[0].(map[string]any); reply["likes"] != float64(0) {
		t.Fatalf("reply likes changed: %v", reply)
	}
}

func TestSearchFallsBackToScan(t *testing.T) {
	h := newTestServer(t, blobstore.NewMemory(), nil)
	token := signUp(t, h, "mira")
	for _, title := range []string{"Night Shift", "Glass Orchard"} {
		status, body := do(t, h, http.MethodPost, "/api/novels", token, map[string]any{"title": title, "author": "Mira"})
		expectStatus(t, status, http.StatusCreated, body)
	}

	status, body := do(t, h, http.MethodGet, "/api/search?q=orchard", "", nil)
	expectStatus(t, status, http.StatusOK, body)
	results, _ := body["results"].([]any)
	if len(results) != 1 || body["engine"] != "scan" {
		t.Fatalf("unexpected search response: %v", body)
	}
}

func TestStoreFailuresAreReported(t *testing.T) {
	h := newTestServer(t, unreachableStore{blobstore.NewMemory()}, nil)

	status, body := do(t, h, http.MethodGet, "/api/novels/tale", "", nil)
	expectStatus(t, status, http.StatusServiceUnavailable, body)
	details, _ := body["details"].(map[string]any)
	if body["code"] != "STORE_UNAVAILABLE" || details["retryable"] != true {
		t.Fatalf("unexpected transport error: %v", body)
	}

	memory := blobstore.NewMemory()
	if _, err := memory.Put(context.Background(), "broken/info.json", []byte("{not json"), "", "seed"); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}
	h = newTestServer(t, memory, nil)
	status, body = do(t, h, http.MethodGet, "/api/novels/broken", "", nil)
	expectStatus(t, status, http.StatusInternalServerError, body)
	if body["code"] != "CORRUPT_DOCUMENT" {
		t.Fatalf("expected CORRUPT_DOCUMENT, got %v", body)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	handler := NewHTTPServer(New(testConfig(), blobstore.NewMemory(), session.NewMemoryStore(), nil), "https://inkshelf.example").Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/novels", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://inkshelf.example" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("request id not echoed: %q", got)
	}

	status, body := do(t, handler, http.MethodGet, "/api/unknown", "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"conflict", fmt.Errorf("put: %w", blobstore.ErrVersionConflict), http.StatusConflict, "VERSION_CONFLICT"},
		{"transport", fmt.Errorf("get: %w", blobstore.ErrTransport), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"access denied", fmt.Errorf("get a.json: %w: content api answered 401", blobstore.ErrAccessDenied), http.StatusBadGateway, "STORE_ACCESS_DENIED"},
		{"history", blobstore.ErrHistoryUnsupported, http.StatusNotImplemented, "HISTORY_UNAVAILABLE"},
		{"domain", forbidden("x"), http.StatusForbidden, "FORBIDDEN"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, message, _ := mapError(tc.err)
			if status != tc.status || code != tc.code || message == "" {
				t.Fatalf("mapError() = %d %q %q, want %d %q", status, code, message, tc.status, tc.code)
			}
		})
	}
}
