package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/blob"
	ctxwin "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/context"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/engine"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/gateway"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/images"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/ratelimit"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/pkg/imagegen"
)

type okGenerator struct{}

func (okGenerator) Generate(ctx context.Context, req *imagegen.Request) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func newServer(t *testing.T, callerLimit int) (*Server, *gateway.Gateway) {
	t.Helper()
	blobs := blob.NewFileStore(t.TempDir())
	sessions := session.NewStore(blobs)
	contexts := ctxwin.NewManager(blobs)
	imageStore := images.NewStore(blobs)
	registry := imagegen.NewRegistry()
	for _, m := range types.AllModels() {
		registry.Register(string(m), okGenerator{})
	}
	eng := engine.New(sessions, contexts, imageStore, registry,
		engine.WithRetryDelay(time.Millisecond), engine.WithTaskTimeout(time.Second))
	limiter := ratelimit.New(blobs, 1000, callerLimit, nil)

	gw := gateway.New(sessions, contexts, imageStore, eng, limiter, types.AllModels())
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return NewServer(gw), gw
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, 100)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	srv, gw := newServer(t, 100)

	w := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a red fox"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body)
	}
	var created types.Session
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("missing session id")
	}

	gw.Wait()

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+string(created.ID), nil)
	get := httptest.NewRecorder()
	srv.ServeHTTP(get, req)
	if get.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", get.Code)
	}
	var sess types.Session
	if err := json.Unmarshal(get.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if sess.Status != types.SessionCompleted {
		t.Errorf("expected completed, got %s", sess.Status)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv, _ := newServer(t, 100)

	if w := postJSON(t, srv, "/api/sessions", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty prompt: expected 400, got %d", w.Code)
	}
	if w := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a nude figure"}); w.Code != http.StatusBadRequest {
		t.Errorf("blocked prompt: expected 400, got %d", w.Code)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	srv, _ := newServer(t, 100)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+string(types.NewSessionID()), nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestIterateEndpoint(t *testing.T) {
	srv, gw := newServer(t, 100)

	w := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a fox"})
	var created types.Session
	json.Unmarshal(w.Body.Bytes(), &created)
	gw.Wait()

	it := postJSON(t, srv, fmt.Sprintf("/api/sessions/%s/iterations", created.ID),
		map[string]string{"model": "flux", "prompt": "make it snowy"})
	if it.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", it.Code, it.Body)
	}
	var resp struct {
		Iteration int `json:"iteration"`
	}
	if err := json.Unmarshal(it.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Iteration != 1 {
		t.Errorf("expected iteration 1, got %d", resp.Iteration)
	}
}

func TestIterationCapConflict(t *testing.T) {
	srv, gw := newServer(t, 100)

	w := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a fox"})
	var created types.Session
	json.Unmarshal(w.Body.Bytes(), &created)
	gw.Wait()

	path := fmt.Sprintf("/api/sessions/%s/iterations", created.ID)
	for i := 1; i < types.MaxIterations; i++ {
		if it := postJSON(t, srv, path, map[string]string{"model": "flux", "prompt": "again"}); it.Code != http.StatusAccepted {
			t.Fatalf("iteration %d: expected 202, got %d", i, it.Code)
		}
		gw.Wait()
	}
	if it := postJSON(t, srv, path, map[string]string{"model": "flux", "prompt": "again"}); it.Code != http.StatusConflict {
		t.Errorf("expected 409 past the cap, got %d", it.Code)
	}
}

func TestRateLimitResponse(t *testing.T) {
	srv, _ := newServer(t, 1)

	first := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a fox"})
	if first.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", first.Code)
	}
	second := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a fox"})
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", second.Code)
	}
}

func TestImageEndpoint(t *testing.T) {
	srv, gw := newServer(t, 100)

	w := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a fox"})
	var created types.Session
	json.Unmarshal(w.Body.Bytes(), &created)
	gw.Wait()

	get := httptest.NewRecorder()
	srv.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/sessions/"+string(created.ID), nil))
	var sess types.Session
	json.Unmarshal(get.Body.Bytes(), &sess)

	key := sess.Column(types.ModelFlux).Iterations[0].ImageKey
	if key == "" {
		t.Fatal("missing image key")
	}

	img := httptest.NewRecorder()
	srv.ServeHTTP(img, httptest.NewRequest(http.MethodGet, "/api/images/"+key, nil))
	if img.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", img.Code)
	}
	if img.Body.String() != "png-bytes" {
		t.Errorf("unexpected image body %q", img.Body)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	srv, gw := newServer(t, 100)

	w := postJSON(t, srv, "/api/sessions", map[string]string{"prompt": "a fox"})
	var created types.Session
	json.Unmarshal(w.Body.Bytes(), &created)
	gw.Wait()

	del := httptest.NewRecorder()
	srv.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+string(created.ID), nil))
	if del.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", del.Code)
	}

	get := httptest.NewRecorder()
	srv.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/sessions/"+string(created.ID), nil))
	if get.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", get.Code)
	}
}

func TestEnhanceEndpointWithoutBackend(t *testing.T) {
	srv, _ := newServer(t, 100)
	w := postJSON(t, srv, "/api/enhance", map[string]string{"prompt": "a fox"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["prompt"] != "a fox" {
		t.Errorf("expected prompt echoed back, got %q", resp["prompt"])
	}
}
