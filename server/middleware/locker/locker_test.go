package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/labalyzer/labctl/generichttp"
)

type node struct{ rt generichttp.RouteTable }

func (n node) RT() generichttp.RouteTable { return n.rt }

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func mux(l *Locker) http.Handler {
	n := node{rt: generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/start"}:   ok,
		{Method: http.MethodGet, Path: "/progress"}: ok,
	}}
	Inject(n, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	n.RT().Bind(r)
	root := chi.NewRouter()
	root.Mount("/digital", r)
	return root
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestLockBlocksProtectedRoutes(t *testing.T) {
	l := New("/progress")
	h := mux(l)
	if w := do(h, http.MethodPost, "/digital/start", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 while unlocked, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/digital/lock", `{"bool":true}`); w.Code != http.StatusOK {
		t.Fatalf("expected lock to succeed, got %d", w.Code)
	}
	if !l.Locked() {
		t.Fatal("expected locker to be locked")
	}
	if w := do(h, http.MethodPost, "/digital/start", ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423 on protected route, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/digital/progress", ""); w.Code != http.StatusOK {
		t.Errorf("expected unprotected route to pass, got %d", w.Code)
	}
	w := do(h, http.MethodGet, "/digital/lock", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"bool":true`) {
		t.Errorf("expected lock state true, got %d %q", w.Code, w.Body.String())
	}
	do(h, http.MethodPost, "/digital/lock", `{"bool":false}`)
	if w := do(h, http.MethodPost, "/digital/start", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 after unlock, got %d", w.Code)
	}
}

func TestHTTPSetBadBody(t *testing.T) {
	h := mux(New())
	if w := do(h, http.MethodPost, "/digital/lock", "nope"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGuard(t *testing.T) {
	l := New()
	h := l.Guard(ok)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/rig/play", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 while unlocked, got %d", w.Code)
	}
	l.Lock()
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/rig/play", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", w.Code)
	}
}
