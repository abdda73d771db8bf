package webdav

import (
	"bytes"
	"encoding/xml"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadPropfindEmptyBodyIsAllprop(t *testing.T) {
	req, status, err := readPropfind(strings.NewReader(""), 1<<20)
	if err != nil || status != 0 {
		t.Fatalf("err=%v status=%d", err, status)
	}
	if req.mode != propfindAllprop {
		t.Errorf("mode = %v, want propfindAllprop", req.mode)
	}
}

func TestReadPropfindPropname(t *testing.T) {
	body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
	req, status, err := readPropfind(strings.NewReader(body), 1<<20)
	if err != nil || status != 0 {
		t.Fatalf("err=%v status=%d", err, status)
	}
	if req.mode != propfindPropname {
		t.Errorf("mode = %v, want propfindPropname", req.mode)
	}
}

func TestReadPropfindProp(t *testing.T) {
	body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><D:displayname/><D:getetag/></D:prop></D:propfind>`
	req, status, err := readPropfind(strings.NewReader(body), 1<<20)
	if err != nil || status != 0 {
		t.Fatalf("err=%v status=%d", err, status)
	}
	if req.mode != propfindProp {
		t.Errorf("mode = %v, want propfindProp", req.mode)
	}
	if len(req.props) != 2 {
		t.Fatalf("len(props) = %d, want 2", len(req.props))
	}
	if req.props[0].Local != "displayname" || req.props[1].Local != "getetag" {
		t.Errorf("props = %+v", req.props)
	}
}

func TestReadPropfindTooLarge(t *testing.T) {
	body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><D:displayname/></D:prop></D:propfind>`
	_, status, err := readPropfind(strings.NewReader(body), 10)
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
	if status != 413 {
		t.Errorf("status = %d, want 413", status)
	}
}

func TestReadPropfindMalformed(t *testing.T) {
	_, status, err := readPropfind(strings.NewReader("not xml"), 1<<20)
	if err == nil {
		t.Fatal("expected error")
	}
	if status != 400 {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestReadProppatch(t *testing.T) {
	body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:">
		<D:set><D:prop><D:displayname>foo</D:displayname></D:prop></D:set>
		<D:remove><D:prop><D:getcontentlanguage/></D:prop></D:remove>
	</D:propertyupdate>`
	ops, status, err := readProppatch(strings.NewReader(body), 1<<20)
	if err != nil || status != 0 {
		t.Fatalf("err=%v status=%d", err, status)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}
	if ops[0].Remove {
		t.Error("ops[0].Remove = true, want false (set)")
	}
	if !ops[1].Remove {
		t.Error("ops[1].Remove = false, want true (remove)")
	}
}

func TestReadProppatchNoOps(t *testing.T) {
	body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"></D:propertyupdate>`
	_, status, err := readProppatch(strings.NewReader(body), 1<<20)
	if err == nil {
		t.Fatal("expected error for empty propertyupdate")
	}
	if status != 400 {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestReadLockInfoEmptyBody(t *testing.T) {
	li, empty, status, err := readLockInfo(strings.NewReader(""), 1<<20)
	if err != nil || status != 0 {
		t.Fatalf("err=%v status=%d", err, status)
	}
	if !empty {
		t.Error("empty = false, want true")
	}
	_ = li
}

func TestReadLockInfoExclusive(t *testing.T) {
	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:">
		<D:lockscope><D:exclusive/></D:lockscope>
		<D:locktype><D:write/></D:locktype>
		<D:owner><D:href>http://example.com/me</D:href></D:owner>
	</D:lockinfo>`
	li, empty, status, err := readLockInfo(strings.NewReader(body), 1<<20)
	if err != nil || status != 0 {
		t.Fatalf("err=%v status=%d", err, status)
	}
	if empty {
		t.Fatal("empty = true, want false")
	}
	if li.shared {
		t.Error("shared = true, want false")
	}
	if !strings.Contains(li.ownerXML, "example.com/me") {
		t.Errorf("ownerXML = %q", li.ownerXML)
	}
}

func TestReadLockInfoSharedNoWriteType(t *testing.T) {
	body := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:">
		<D:lockscope><D:shared/></D:lockscope>
		<D:owner><D:href>me</D:href></D:owner>
	</D:lockinfo>`
	_, _, status, err := readLockInfo(strings.NewReader(body), 1<<20)
	if err == nil {
		t.Fatal("expected error for missing locktype")
	}
	if status != 501 {
		t.Errorf("status = %d, want 501", status)
	}
}

func TestWriteActiveLockAndDiscovery(t *testing.T) {
	dl := DiscoveredLock{
		LockDetails: LockDetails{Root: "/a", Depth: -1, Duration: -1, OwnerXML: "<D:href>me</D:href>"},
		Token:       "urn:uuid:1234",
	}
	var buf bytes.Buffer
	if _, err := writeLockDiscovery(&buf, dl); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"<D:lockdiscovery>", "urn:uuid:1234", "Infinite", "infinity", "<D:exclusive/>"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestMultistatusWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	mw := newMultistatusWriter(rec)
	mw.writeResponse("/a.txt", []Propstat{
		{Props: []Property{{XMLName: xml.Name{Space: "DAV:", Local: "getetag"}, InnerXML: []byte(`"abc"`)}}, Status: 200},
	}, 0)
	mw.writeResponse("/missing.txt", nil, 404)
	if err := mw.close(); err != nil {
		t.Fatal(err)
	}

	if rec.Code != StatusMulti {
		t.Errorf("status = %d, want %d", rec.Code, StatusMulti)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<D:multistatus") {
		t.Errorf("missing multistatus root: %s", body)
	}
	if !strings.Contains(body, "/a.txt") || !strings.Contains(body, `"abc"`) {
		t.Errorf("missing first response: %s", body)
	}
	if !strings.Contains(body, "/missing.txt") || !strings.Contains(body, "404") {
		t.Errorf("missing second response: %s", body)
	}
}

func TestEscapeXMLText(t *testing.T) {
	if got := escapeXMLText("plain"); got != "plain" {
		t.Errorf("escapeXMLText(plain) = %q", got)
	}
	if got := escapeXMLText(`a<b>&"'`); !strings.Contains(got, "&lt;") {
		t.Errorf("escapeXMLText did not escape: %q", got)
	}
}
