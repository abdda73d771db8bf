package webdav_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikea/webdavd/webdav"
	"github.com/mikea/webdavd/webdav/memfs"
	"github.com/mikea/webdavd/webdav/memls"
)

func newTestHandler() *webdav.Handler {
	return &webdav.Handler{
		FileSystem: memfs.New(),
		LockSystem: memls.New(),
	}
}

func do(t *testing.T, h http.Handler, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestPutGetRoundTrip(t *testing.T) {
	h := newTestHandler()
	if w := do(t, h, "PUT", "/a.txt", "hello world", nil); w.Code != http.StatusCreated {
		t.Fatalf("PUT: status = %d, body = %s", w.Code, w.Body.String())
	}
	w := do(t, h, "GET", "/a.txt", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET: status = %d", w.Code)
	}
	if w.Body.String() != "hello world" {
		t.Errorf("GET body = %q, want %q", w.Body.String(), "hello world")
	}
	if w.Header().Get("ETag") == "" {
		t.Error("GET response missing ETag")
	}
}

func TestPutOverwriteIsNoContent(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "v1", nil)
	w := do(t, h, "PUT", "/a.txt", "v2", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestGetMissingIs404(t *testing.T) {
	h := newTestHandler()
	w := do(t, h, "GET", "/missing.txt", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMkcolDeleteDir(t *testing.T) {
	h := newTestHandler()
	if w := do(t, h, "MKCOL", "/dir", "", nil); w.Code != http.StatusCreated {
		t.Fatalf("MKCOL: status = %d", w.Code)
	}
	if w := do(t, h, "MKCOL", "/dir", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("duplicate MKCOL: status = %d, want 405", w.Code)
	}
	do(t, h, "PUT", "/dir/f.txt", "x", nil)
	if w := do(t, h, "DELETE", "/dir", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE: status = %d", w.Code)
	}
	if w := do(t, h, "GET", "/dir/f.txt", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete: status = %d, want 404", w.Code)
	}
}

func TestCopyMove(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/src.txt", "data", nil)

	w := do(t, h, "COPY", "/src.txt", "", map[string]string{"Destination": "/dst.txt"})
	if w.Code != http.StatusCreated {
		t.Fatalf("COPY: status = %d", w.Code)
	}
	if w := do(t, h, "GET", "/src.txt", "", nil); w.Code != http.StatusOK {
		t.Errorf("GET src after copy: status = %d", w.Code)
	}
	if w := do(t, h, "GET", "/dst.txt", "", nil); w.Code != http.StatusOK {
		t.Errorf("GET dst after copy: status = %d", w.Code)
	}

	w = do(t, h, "MOVE", "/src.txt", "", map[string]string{"Destination": "/moved.txt"})
	if w.Code != http.StatusCreated {
		t.Fatalf("MOVE: status = %d", w.Code)
	}
	if w := do(t, h, "GET", "/src.txt", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET src after move: status = %d, want 404", w.Code)
	}
}

func TestConditionalGetIfNoneMatch(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "hello", nil)
	w := do(t, h, "GET", "/a.txt", "", nil)
	etag := w.Header().Get("ETag")

	w = do(t, h, "GET", "/a.txt", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", w.Code)
	}
}

func TestRangeGet(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "0123456789", nil)
	w := do(t, h, "GET", "/a.txt", "", map[string]string{"Range": "bytes=2-5"})
	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if w.Body.String() != "2345" {
		t.Errorf("body = %q, want %q", w.Body.String(), "2345")
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestLockUnlock(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/locked.txt", "x", nil)

	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype><D:owner><D:href>me</D:href></D:owner></D:lockinfo>`
	w := do(t, h, "LOCK", "/locked.txt", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("LOCK: status = %d, body = %s", w.Code, w.Body.String())
	}
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")
	if token == "" {
		t.Fatal("missing Lock-Token")
	}

	// A second LOCK attempt without the token must fail.
	w = do(t, h, "LOCK", "/locked.txt", body, nil)
	if w.Code != webdav.StatusLocked {
		t.Errorf("conflicting LOCK: status = %d, want %d", w.Code, webdav.StatusLocked)
	}

	// PUT without the token must fail; with it, must succeed.
	w = do(t, h, "PUT", "/locked.txt", "y", nil)
	if w.Code != webdav.StatusLocked {
		t.Errorf("PUT without token: status = %d, want %d", w.Code, webdav.StatusLocked)
	}
	w = do(t, h, "PUT", "/locked.txt", "y", map[string]string{"If": "(<" + token + ">)"})
	if w.Code != http.StatusNoContent {
		t.Errorf("PUT with token: status = %d", w.Code)
	}

	w = do(t, h, "UNLOCK", "/locked.txt", "", map[string]string{"Lock-Token": "<" + token + ">"})
	if w.Code != http.StatusNoContent {
		t.Errorf("UNLOCK: status = %d", w.Code)
	}
}

func TestUnlockWrongPathIsConflict(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "x", nil)
	do(t, h, "PUT", "/b.txt", "y", nil)

	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	w := do(t, h, "LOCK", "/a.txt", body, nil)
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")

	w = do(t, h, "UNLOCK", "/b.txt", "", map[string]string{"Lock-Token": "<" + token + ">"})
	if w.Code != http.StatusConflict {
		t.Errorf("UNLOCK via unrelated path: status = %d, want 409", w.Code)
	}

	// The lock must still be held.
	w = do(t, h, "PUT", "/a.txt", "z", nil)
	if w.Code != webdav.StatusLocked {
		t.Errorf("PUT after failed cross-path UNLOCK: status = %d, want %d", w.Code, webdav.StatusLocked)
	}
}

func TestDeleteDepthOtherThanInfinityOnCollectionIs400(t *testing.T) {
	h := newTestHandler()
	do(t, h, "MKCOL", "/dir", "", nil)
	do(t, h, "PUT", "/dir/f.txt", "x", nil)

	if w := do(t, h, "DELETE", "/dir", "", map[string]string{"Depth": "0"}); w.Code != http.StatusBadRequest {
		t.Errorf("DELETE Depth:0 on collection: status = %d, want 400", w.Code)
	}
	if w := do(t, h, "DELETE", "/dir", "", map[string]string{"Depth": "1"}); w.Code != http.StatusBadRequest {
		t.Errorf("DELETE Depth:1 on collection: status = %d, want 400", w.Code)
	}
	if w := do(t, h, "GET", "/dir/f.txt", "", nil); w.Code != http.StatusOK {
		t.Errorf("collection should survive a rejected DELETE: status = %d", w.Code)
	}
}

func TestDeleteReleasesLock(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "x", nil)
	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	w := do(t, h, "LOCK", "/a.txt", body, nil)
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")

	w = do(t, h, "DELETE", "/a.txt", "", map[string]string{"If": "(<" + token + ">)"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE: status = %d", w.Code)
	}

	do(t, h, "PUT", "/a.txt", "y", nil)
	// The lock must be gone: a fresh PUT with no token must now succeed
	// (it already did above), and a new LOCK on the recreated resource
	// must not conflict with the deleted one.
	if w := do(t, h, "LOCK", "/a.txt", body, nil); w.Code != http.StatusOK {
		t.Errorf("LOCK after DELETE released the old one: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestMoveRelocatesLockToDestination(t *testing.T) {
	h := newTestHandler()
	do(t, h, "MKCOL", "/a", "", nil)
	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	w := do(t, h, "LOCK", "/a", body, map[string]string{"Depth": "infinity"})
	if w.Code != http.StatusOK {
		t.Fatalf("LOCK: status = %d, body = %s", w.Code, w.Body.String())
	}
	token := strings.Trim(w.Header().Get("Lock-Token"), "<>")

	w = do(t, h, "MOVE", "/a", "", map[string]string{"Destination": "/b", "If": "(<" + token + ">)"})
	if w.Code != http.StatusCreated {
		t.Fatalf("MOVE: status = %d, body = %s", w.Code, w.Body.String())
	}

	// A fresh LOCK on the old path must now succeed (nothing is locked
	// there any more), and the relocated lock's token must still be
	// honored at the new path.
	if w := do(t, h, "LOCK", "/a", body, nil); w.Code != http.StatusCreated && w.Code != http.StatusOK {
		t.Errorf("LOCK at old path after MOVE: status = %d, want success", w.Code)
	}
	w = do(t, h, "UNLOCK", "/b", "", map[string]string{"Lock-Token": "<" + token + ">"})
	if w.Code != http.StatusNoContent {
		t.Errorf("UNLOCK at relocated path: status = %d, want 204", w.Code)
	}
}

func TestPropfindAllprop(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "hello", nil)
	w := do(t, h, "PROPFIND", "/a.txt", "", map[string]string{"Depth": "0"})
	if w.Code != webdav.StatusMulti {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, webdav.StatusMulti, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "getcontentlength") {
		t.Errorf("body missing getcontentlength: %s", w.Body.String())
	}
}

func TestProppatchProtectedProperty(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "hello", nil)
	body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"><D:set><D:prop><D:getetag>bogus</D:getetag></D:prop></D:set></D:propertyupdate>`
	w := do(t, h, "PROPPATCH", "/a.txt", body, nil)
	if w.Code != webdav.StatusMulti {
		t.Fatalf("status = %d, want %d", w.Code, webdav.StatusMulti)
	}
	if !strings.Contains(w.Body.String(), "cannot-modify-protected-property") {
		t.Errorf("body missing protected-property error: %s", w.Body.String())
	}
}

func TestProppatchCustomProperty(t *testing.T) {
	h := newTestHandler()
	do(t, h, "PUT", "/a.txt", "hello", nil)
	body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"><D:set><D:prop><Z:custom xmlns:Z="http://example.com/">val</Z:custom></D:prop></D:set></D:propertyupdate>`
	w := do(t, h, "PROPPATCH", "/a.txt", body, nil)
	if w.Code != webdav.StatusMulti {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, webdav.StatusMulti, w.Body.String())
	}

	w = do(t, h, "PROPFIND", "/a.txt", `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><Z:custom xmlns:Z="http://example.com/"/></D:prop></D:propfind>`, map[string]string{"Depth": "0"})
	if !strings.Contains(w.Body.String(), "val") {
		t.Errorf("round-tripped property missing: %s", w.Body.String())
	}
}
