package adminapi_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/verity-log/verity/internal/adminapi"
	"github.com/verity-log/verity/internal/sth"
)

type stubHealth struct {
	healthy bool
}

func (s *stubHealth) Healthy() bool { return s.healthy }
func (s *stubHealth) Status() map[string]string {
	if s.healthy {
		return map[string]string{"postgres": "healthy"}
	}
	return map[string]string{"postgres": "degraded"}
}

func get(t *testing.T, srv *adminapi.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz_withoutChecker(t *testing.T) {
	srv := adminapi.New(func() *sth.SignedTreeHead { return nil }, nil, zap.NewNop())
	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestHealthz_reportsDependencyState(t *testing.T) {
	checker := &stubHealth{healthy: true}
	srv := adminapi.New(func() *sth.SignedTreeHead { return nil }, checker, zap.NewNop())

	if rec := get(t, srv, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthy: got %d, want 200", rec.Code)
	}

	checker.healthy = false
	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: got %d, want 503", rec.Code)
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Dependencies["postgres"] != "degraded" {
		t.Errorf("body: %+v", body)
	}
}

func TestTreeHead_notPublishedYet(t *testing.T) {
	srv := adminapi.New(func() *sth.SignedTreeHead { return nil }, nil, zap.NewNop())
	if rec := get(t, srv, "/v1/tree-head"); rec.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rec.Code)
	}
}

func TestTreeHead_rendersLatest(t *testing.T) {
	head := &sth.SignedTreeHead{
		Version:   sth.V1,
		Timestamp: 12345,
		TreeSize:  7,
		RootHash:  make([]byte, sth.RootHashSize),
		Signature: []byte("sig"),
	}
	srv := adminapi.New(func() *sth.SignedTreeHead { return head }, nil, zap.NewNop())

	rec := get(t, srv, "/v1/tree-head")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body struct {
		Version   uint8  `json:"version"`
		Timestamp uint64 `json:"timestamp"`
		TreeSize  uint64 `json:"tree_size"`
		RootHash  string `json:"root_hash"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Timestamp != 12345 || body.TreeSize != 7 {
		t.Errorf("head fields: %+v", body)
	}
	root, err := base64.StdEncoding.DecodeString(body.RootHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(root) != sth.RootHashSize {
		t.Errorf("decoded root length: got %d, want %d", len(root), sth.RootHashSize)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := adminapi.New(func() *sth.SignedTreeHead { return nil }, nil, zap.NewNop())
	if rec := get(t, srv, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}
