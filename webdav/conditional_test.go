package webdav

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

type fakeFileInfo struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func (fi fakeFileInfo) Name() string       { return "f" }
func (fi fakeFileInfo) Size() int64        { return fi.size }
func (fi fakeFileInfo) Mode() os.FileMode  { return 0644 }
func (fi fakeFileInfo) ModTime() time.Time { return fi.modTime }
func (fi fakeFileInfo) IsDir() bool        { return fi.isDir }
func (fi fakeFileInfo) Sys() interface{}   { return nil }

func TestEvaluateEtagAndTimeIfMatch(t *testing.T) {
	fi := fakeFileInfo{modTime: time.Now()}
	c := conditionalHeaders{ifMatch: []string{"abc"}}
	if status := evaluateEtagAndTime(c, true, fi, "abc", false); status != 0 {
		t.Errorf("matching If-Match: status = %d, want 0", status)
	}
	if status := evaluateEtagAndTime(c, true, fi, "xyz", false); status != http.StatusPreconditionFailed {
		t.Errorf("mismatched If-Match: status = %d, want 412", status)
	}
	if status := evaluateEtagAndTime(c, false, fi, "", false); status != http.StatusPreconditionFailed {
		t.Errorf("If-Match on missing resource: status = %d, want 412", status)
	}
}

func TestEvaluateEtagAndTimeIfNoneMatchRead(t *testing.T) {
	fi := fakeFileInfo{modTime: time.Now()}
	c := conditionalHeaders{ifNoneMatch: []string{"abc"}}
	if status := evaluateEtagAndTime(c, true, fi, "abc", true); status != http.StatusNotModified {
		t.Errorf("GET with matching If-None-Match: status = %d, want 304", status)
	}
	if status := evaluateEtagAndTime(c, true, fi, "abc", false); status != http.StatusPreconditionFailed {
		t.Errorf("PUT with matching If-None-Match: status = %d, want 412", status)
	}
}

func TestEvaluateEtagAndTimeModifiedSince(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	fi := fakeFileInfo{modTime: old.Add(-time.Minute)}
	c := conditionalHeaders{ifModifiedSince: &old}
	if status := evaluateEtagAndTime(c, true, fi, "etag", true); status != http.StatusNotModified {
		t.Errorf("unmodified since: status = %d, want 304", status)
	}
}

func TestParseConditionalHeadersIfRange(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("If-Range", `"abc"`)
	c, err := parseConditionalHeaders(r)
	if err != nil {
		t.Fatal(err)
	}
	if c.ifRange == nil || c.ifRange.etag != "abc" {
		t.Errorf("ifRange = %+v", c.ifRange)
	}
}

func TestParseConditionalHeadersBadIf(t *testing.T) {
	r := httptest.NewRequest("PUT", "/x", nil)
	r.Header.Set("If", "garbage")
	if _, err := parseConditionalHeaders(r); err == nil {
		t.Error("expected error for malformed If header")
	}
}
