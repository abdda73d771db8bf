package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handler turns a FileSystem and a LockSystem into an RFC 4918 request
// handler. Its zero value is not usable; FileSystem and LockSystem
// must be set.
type Handler struct {
	// FileSystem is the backing store. Required.
	FileSystem FileSystem
	// LockSystem manages WebDAV locks. Required.
	LockSystem LockSystem
	// Prefix is stripped from the start of every request path before
	// it reaches FileSystem/LockSystem, e.g. "/dav".
	Prefix string
	// Logger, if non-nil, is called once per request with any error
	// ServeHTTP encountered (nil on success). Grounded on the same
	// optional-logger shape the teacher's http handlers use.
	Logger func(r *http.Request, err error)

	// MaxXMLRequestBody bounds PROPFIND/PROPPATCH/LOCK request bodies.
	// Zero means the package default of 64KiB.
	MaxXMLRequestBody int64
	// RejectInfiniteDepthPropfind makes PROPFIND with "Depth: infinity"
	// (or with no Depth header) fail with 403 propfind-finite-depth
	// instead of walking the whole tree. The zero value, false, walks
	// the tree; cmd/webdavd sets it from its -reject-infinite-propfind
	// flag, which defaults to true.
	RejectInfiniteDepthPropfind bool
	// LockTimeoutDefault and LockTimeoutMax bound the lock Timeout a
	// LOCK request is granted; zero selects 10s and 600s respectively.
	LockTimeoutDefault time.Duration
	LockTimeoutMax     time.Duration
}

const defaultMaxXMLRequestBody = 64 << 10

func (h *Handler) maxXMLBody() int64 {
	if h.MaxXMLRequestBody > 0 {
		return h.MaxXMLRequestBody
	}
	return defaultMaxXMLRequestBody
}

func (h *Handler) lockTimeoutDefault() time.Duration {
	if h.LockTimeoutDefault > 0 {
		return h.LockTimeoutDefault
	}
	return 10 * time.Second
}

func (h *Handler) lockTimeoutMax() time.Duration {
	if h.LockTimeoutMax > 0 {
		return h.LockTimeoutMax
	}
	return 600 * time.Second
}

func (h *Handler) stripPrefix(rawPath string) (string, bool, int, error) {
	p, trailingSlash, ok := normalizePath(rawPath, h.Prefix)
	if !ok {
		return "", false, http.StatusNotFound, errPrefixMismatch
	}
	return p, trailingSlash, 0, nil
}

// ServeHTTP implements http.Handler, dispatching to the method-specific
// handler and logging the outcome. Grounded on the teacher's
// src/webdav/webdav.go handle() method-switch, extended with the
// methods its handwritten dispatcher never had to cover.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, err := h.serve(w, r)
	if h.Logger != nil {
		h.Logger(r, err)
	} else if err != nil {
		log.Debugf("webdav %s %s: %d %v", r.Method, r.URL.Path, status, err)
	}
	switch status {
	case 0, http.StatusOK, StatusMulti, http.StatusPartialContent:
		// The method handler has already written the response.
	case http.StatusNoContent:
		w.WriteHeader(status)
	default:
		w.Header().Del("Content-Type")
		msg := StatusText(status)
		if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrExist) {
			msg = err.Error()
		}
		http.Error(w, msg, status)
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) (status int, err error) {
	if h.FileSystem == nil {
		return http.StatusInternalServerError, errNoFileSystem
	}
	if h.LockSystem == nil {
		return http.StatusInternalServerError, errNoLockSystem
	}

	ctx := r.Context()
	name, _, status, err := h.stripPrefix(r.URL.Path)
	if err != nil {
		return status, err
	}

	switch r.Method {
	case "OPTIONS":
		return h.handleOptions(w, r, name)
	case "GET", "HEAD":
		return h.handleGetHead(ctx, w, r, name)
	case "PUT":
		return h.handlePut(ctx, w, r, name)
	case "PATCH":
		return h.handlePatch(ctx, w, r, name)
	case "DELETE":
		return h.handleDelete(ctx, w, r, name)
	case "MKCOL":
		return h.handleMkcol(ctx, w, r, name)
	case "COPY", "MOVE":
		return h.handleCopyMove(ctx, w, r, name)
	case "LOCK":
		return h.handleLock(ctx, w, r, name)
	case "UNLOCK":
		return h.handleUnlock(ctx, w, r, name)
	case "PROPFIND":
		return h.handlePropfind(ctx, w, r, name)
	case "PROPPATCH":
		return h.handleProppatch(ctx, w, r, name)
	}
	return http.StatusMethodNotAllowed, nil
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request, name string) (int, error) {
	ctx := r.Context()
	allow := "OPTIONS, LOCK, PUT, MKCOL"
	fi, err := h.FileSystem.Stat(ctx, name)
	if err == nil {
		if fi.IsDir() {
			allow = "OPTIONS, LOCK, UNLOCK, PROPFIND, PROPPATCH, COPY, MOVE, DELETE, MKCOL"
		} else {
			allow = "OPTIONS, LOCK, UNLOCK, PROPFIND, PROPPATCH, COPY, MOVE, DELETE, GET, HEAD, PUT, PATCH"
		}
	}
	w.Header().Set("Allow", allow)
	w.Header().Set("DAV", "1, 2")
	w.Header().Set("MS-Author-Via", "DAV")
	w.WriteHeader(http.StatusOK)
	return http.StatusOK, nil
}

func etagForOpen(ctx context.Context, fs FileSystem, name string) (string, bool) {
	f, err := fs.OpenFile(ctx, name, os.O_RDONLY, 0)
	if err != nil {
		return "", false
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", false
	}
	if fi.IsDir() {
		return "", false
	}
	etag, err := etagOf(ctx, f, fi)
	if err != nil {
		return "", false
	}
	return etag, true
}

func (h *Handler) handleGetHead(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if fi.IsDir() {
		return http.StatusMethodNotAllowed, nil
	}

	etag, err := etagOf(ctx, f, fi)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	cond, err := parseConditionalHeaders(r)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if status := evaluateEtagAndTime(cond, true, fi, etag, true); status != 0 {
		w.Header().Set("ETag", etag)
		return status, nil
	}

	contentType := contentTypeOf(name)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", fi.ModTime().UTC().Format(rfc1123))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	if rv := r.Header.Get("Range"); rv != "" && ifRangeSatisfied(parseIfRangeHeader(r), etag, fi.ModTime()) {
		ranges, err := parseRange(rv, fi.Size())
		if err == nil {
			if r.Method == "HEAD" {
				w.WriteHeader(http.StatusPartialContent)
				return http.StatusPartialContent, nil
			}
			if err := serveRanges(w, readerAtFor(f), fi.Size(), contentType, ranges); err != nil {
				return http.StatusInternalServerError, err
			}
			return http.StatusPartialContent, nil
		}
		if errors.Is(err, errUnsatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fi.Size()))
			return http.StatusRequestedRangeNotSatisfiable, err
		}
	}

	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == "HEAD" {
		return http.StatusOK, nil
	}
	if _, err := io.Copy(w, f); err != nil {
		return http.StatusOK, err
	}
	return http.StatusOK, nil
}

// readerAtFor adapts a File to io.ReaderAt: directly, if the backend
// already implements it, or through Seek+Read otherwise (MemFs's file
// does not implement io.ReaderAt, so it takes the Seek+Read path). Ranges are served one at a time, so the shared Seek
// cursor is never contended.
func readerAtFor(f File) io.ReaderAt {
	if ra, ok := f.(io.ReaderAt); ok {
		return ra
	}
	return seekReaderAt{f}
}

type seekReaderAt struct{ f File }

func (s seekReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(s.f, p)
}

func parseIfRangeHeader(r *http.Request) *ifRange {
	c, err := parseConditionalHeaders(r)
	if err != nil {
		return nil
	}
	return c.ifRange
}

func (h *Handler) handlePut(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	release, status, err := h.confirmResourceLock(ctx, r, name, true)
	if err != nil || status != 0 {
		return status, err
	}
	defer release.Release()

	existingFI, statErr := h.FileSystem.Stat(ctx, name)
	exists := statErr == nil
	if exists {
		cond, err := parseConditionalHeaders(r)
		if err != nil {
			return http.StatusBadRequest, err
		}
		etag := ""
		if f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDONLY, 0); err == nil {
			etag, _ = etagOf(ctx, f, existingFI)
			f.Close()
		}
		if status := evaluateEtagAndTime(cond, true, existingFI, etag, false); status != 0 {
			return status, nil
		}
	}

	if cr := r.Header.Get("Content-Range"); cr != "" {
		return h.putContentRange(ctx, w, r, name, cr, exists)
	}

	f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusConflict, err
		}
		return http.StatusInternalServerError, err
	}
	defer f.Close()
	if _, err := io.Copy(f, r.Body); err != nil {
		return http.StatusInternalServerError, err
	}
	if exists {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}

// putContentRange implements the partial-PUT extension: a PUT carrying
// Content-Range writes only the named byte span, per spec.md §9.2. The
// resource must already exist; a gap between the current length and
// Start is zero-filled.
func (h *Handler) putContentRange(ctx context.Context, w http.ResponseWriter, r *http.Request, name, cr string, exists bool) (int, error) {
	if !exists {
		return http.StatusNotFound, errInvalidContRange
	}
	rng, err := parseContentRangePut(cr)
	if err != nil {
		return http.StatusBadRequest, err
	}
	f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDWR, 0644)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if rng.Total >= 0 && rng.Total != fi.Size() && rng.Start > fi.Size() {
		return http.StatusRequestedRangeNotSatisfiable, errInvalidContRange
	}
	if err := writeAt(f, r.Body, rng.Start); err != nil {
		return http.StatusInternalServerError, err
	}
	return http.StatusNoContent, nil
}

// handlePatch implements the X-Update-Range partial-update extension
// (spec.md §9.3): a PATCH with that header overwrites or appends a
// byte span without replacing the whole resource.
func (h *Handler) handlePatch(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	urHeader := r.Header.Get("X-Update-Range")
	if urHeader == "" {
		return http.StatusBadRequest, errInvalidUpdate
	}
	release, status, err := h.confirmResourceLock(ctx, r, name, true)
	if err != nil || status != 0 {
		return status, err
	}
	defer release.Release()

	ur, err := parseUpdateRange(urHeader)
	if err != nil {
		return http.StatusBadRequest, err
	}
	f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	defer f.Close()

	offset := ur.Start
	if ur.Append {
		fi, err := f.Stat()
		if err != nil {
			return http.StatusInternalServerError, err
		}
		offset = fi.Size()
	}
	if err := writeAt(f, r.Body, offset); err != nil {
		return http.StatusInternalServerError, err
	}
	return http.StatusNoContent, nil
}

// writeAt copies src to w starting at offset, zero-filling any gap if
// w is shorter than offset. w must also be an io.Seeker (File is).
func writeAt(w File, src io.Reader, offset int64) error {
	seeker, ok := w.(io.Seeker)
	if !ok {
		return errors.New("webdav: file is not seekable")
	}
	cur, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if offset > cur {
		if _, err := seeker.Seek(0, io.SeekEnd); err != nil {
			return err
		}
		if _, err := io.CopyN(w, zeroReader{}, offset-cur); err != nil {
			return err
		}
	} else if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (h *Handler) handleMkcol(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	release, status, err := h.confirmResourceLock(ctx, r, name, true)
	if err != nil || status != 0 {
		return status, err
	}
	defer release.Release()

	if r.ContentLength > 0 {
		return http.StatusUnsupportedMediaType, nil
	}
	if err := h.FileSystem.Mkdir(ctx, name, 0755); err != nil {
		if os.IsNotExist(err) {
			return http.StatusConflict, err
		}
		if os.IsExist(err) {
			return http.StatusMethodNotAllowed, err
		}
		return http.StatusInternalServerError, err
	}
	return http.StatusCreated, nil
}

// resourceFailure is one per-resource failure surfaced in a 207
// Multi-Status response from a recursive DELETE or COPY, grounded on
// webdav-handler-rs's handle_delete.rs MultiError.
type resourceFailure struct {
	href   string
	status int
}

// fsErrorStatus maps a FileSystem error to the status a per-resource
// multistatus entry should report for it, following dir_status in
// webdav-handler-rs's handle_delete.rs.
func fsErrorStatus(err error) int {
	switch {
	case os.IsNotExist(err):
		return http.StatusNotFound
	case os.IsExist(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	if name == "/" {
		return http.StatusForbidden, nil
	}
	release, status, err := h.confirmResourceLock(ctx, r, name, true)
	if err != nil || status != 0 {
		return status, err
	}
	defer release.Release()

	fi, err := h.FileSystem.Stat(ctx, name)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	depth, err := parseDepth(r.Header.Get("Depth"), -1)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if fi.IsDir() && depth != -1 {
		return http.StatusBadRequest, errInvalidDepth
	}
	// Per-resource precondition evaluation across a Depth:infinity
	// delete is not attempted; the headers are still parsed so a
	// malformed If: header reports 400.
	if _, err := parseConditionalHeaders(r); err != nil {
		return http.StatusBadRequest, err
	}

	var failures []resourceFailure
	deleteTree(ctx, h.FileSystem, h.Prefix, name, fi, &failures)
	if len(failures) > 0 {
		mw := newMultistatusWriter(w)
		for _, f := range failures {
			mw.writeResponse(f.href, nil, f.status)
		}
		mw.close()
		return StatusMulti, nil
	}

	h.LockSystem.Remove(time.Now(), name)
	return http.StatusNoContent, nil
}

// deleteTree removes name, recursing into its children first if it is
// a directory. Every child is attempted regardless of a sibling's
// failure; a directory whose children didn't all succeed is left in
// place rather than partially removed, matching delete_items in
// webdav-handler-rs's handle_delete.rs.
func deleteTree(ctx context.Context, fs FileSystem, prefix, name string, fi os.FileInfo, failures *[]resourceFailure) bool {
	if fi.IsDir() {
		dir, err := fs.OpenFile(ctx, name, os.O_RDONLY, 0)
		if err != nil {
			*failures = append(*failures, resourceFailure{hrefFor(prefix, name, true), fsErrorStatus(err)})
			return false
		}
		entries, err := dir.Readdir(-1)
		dir.Close()
		if err != nil {
			*failures = append(*failures, resourceFailure{hrefFor(prefix, name, true), fsErrorStatus(err)})
			return false
		}
		ok := true
		for _, entry := range entries {
			if !deleteTree(ctx, fs, prefix, path.Join(name, entry.Name()), entry, failures) {
				ok = false
			}
		}
		if !ok {
			return false
		}
	}
	if err := fs.RemoveAll(ctx, name); err != nil {
		*failures = append(*failures, resourceFailure{hrefFor(prefix, name, fi.IsDir()), fsErrorStatus(err)})
		return false
	}
	return true
}

func (h *Handler) handleCopyMove(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	hdr := r.Header.Get("Destination")
	if hdr == "" {
		return http.StatusBadRequest, errors.New("webdav: missing Destination header")
	}
	u, err := url.ParseRequestURI(hdr)
	dst := hdr
	if err == nil {
		dst = u.Path
	}
	dstName, _, ok2 := normalizePath(dst, h.Prefix)
	if !ok2 {
		return http.StatusBadRequest, errInvalidPath
	}
	if dstName == name {
		return http.StatusForbidden, nil
	}

	depth := -1
	isMove := r.Method == "MOVE"
	if !isMove {
		depth, err = parseDepth(r.Header.Get("Depth"), -1)
		if err != nil {
			return http.StatusBadRequest, err
		}
		if depth != 0 && depth != -1 {
			return http.StatusBadRequest, errInvalidDepth
		}
	}

	overwrite := true
	if ov := r.Header.Get("Overwrite"); ov != "" {
		overwrite = !strings.EqualFold(ov, "F")
	}

	relSrc, statusSrc, errSrc := h.confirmResourceLock(ctx, r, name, true)
	if errSrc != nil || statusSrc != 0 {
		return statusSrc, errSrc
	}
	defer relSrc.Release()
	relDst, statusDst, errDst := h.confirmResourceLock(ctx, r, dstName, false)
	if errDst != nil || statusDst != 0 {
		return statusDst, errDst
	}
	defer relDst.Release()

	_, err = h.FileSystem.Stat(ctx, name)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	_, dstErr := h.FileSystem.Stat(ctx, dstName)
	dstExists := dstErr == nil
	if dstExists {
		if !overwrite {
			return http.StatusPreconditionFailed, nil
		}
		if err := h.FileSystem.RemoveAll(ctx, dstName); err != nil {
			return http.StatusInternalServerError, err
		}
		h.LockSystem.Remove(time.Now(), dstName)
	}
	if parent := path.Dir(dstName); parent != "/" {
		if _, err := h.FileSystem.Stat(ctx, parent); err != nil {
			return http.StatusConflict, err
		}
	}

	if isMove {
		if err := h.FileSystem.Rename(ctx, name, dstName); err != nil {
			if os.IsNotExist(err) {
				return http.StatusConflict, err
			}
			return http.StatusInternalServerError, err
		}
		h.LockSystem.Rename(time.Now(), name, dstName)
	} else {
		var failures []resourceFailure
		copyResource(ctx, h.FileSystem, h.Prefix, name, dstName, depth, &failures)
		if len(failures) > 0 {
			mw := newMultistatusWriter(w)
			for _, f := range failures {
				mw.writeResponse(f.href, nil, f.status)
			}
			mw.close()
			return StatusMulti, nil
		}
	}
	if dstExists {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}

// copyResource recursively copies src to dst, continuing past a
// child's failure rather than aborting the whole copy so that siblings
// still get copied; each failure is appended to failures and reported
// as its own 207 response, matching webdav-handler-rs's MultiError
// handling for recursive operations. depth == 0 limits a collection
// copy to the collection itself, without its members (spec.md §5.3).
func copyResource(ctx context.Context, fs FileSystem, prefix, src, dst string, depth int, failures *[]resourceFailure) {
	fi, err := fs.Stat(ctx, src)
	if err != nil {
		*failures = append(*failures, resourceFailure{hrefFor(prefix, src, false), fsErrorStatus(err)})
		return
	}
	if !fi.IsDir() {
		if err := copyFile(ctx, fs, src, dst); err != nil {
			*failures = append(*failures, resourceFailure{hrefFor(prefix, src, false), fsErrorStatus(err)})
		}
		return
	}
	if err := fs.Mkdir(ctx, dst, fi.Mode()); err != nil && !os.IsExist(err) {
		*failures = append(*failures, resourceFailure{hrefFor(prefix, src, true), fsErrorStatus(err)})
		return
	}
	if depth == 0 {
		return
	}
	dir, err := fs.OpenFile(ctx, src, os.O_RDONLY, 0)
	if err != nil {
		*failures = append(*failures, resourceFailure{hrefFor(prefix, src, true), fsErrorStatus(err)})
		return
	}
	entries, err := dir.Readdir(-1)
	dir.Close()
	if err != nil {
		*failures = append(*failures, resourceFailure{hrefFor(prefix, src, true), fsErrorStatus(err)})
		return
	}
	for _, entry := range entries {
		copyResource(ctx, fs, prefix, path.Join(src, entry.Name()), path.Join(dst, entry.Name()), -1, failures)
	}
}

func copyFile(ctx context.Context, fs FileSystem, src, dst string) error {
	in, err := fs.OpenFile(ctx, src, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := fs.OpenFile(ctx, dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fi.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	if err != nil {
		return err
	}
	if dph, ok := in.(DeadPropsHolder); ok {
		if outDph, ok2 := out.(DeadPropsHolder); ok2 {
			if props, err := dph.DeadProps(); err == nil && len(props) > 0 {
				var patch []Property
				for _, p := range props {
					patch = append(patch, p)
				}
				outDph.Patch([]Proppatch{{Props: patch}})
			}
		}
	}
	return nil
}

var errInvalidDepth = errors.New("webdav: invalid Depth header")

// parseDepth parses a Depth header value: "0", "1", or "infinity",
// returning def (which may itself be -1 for infinity) if the header is
// absent.
func parseDepth(s string, def int) (int, error) {
	switch s {
	case "":
		return def, nil
	case "0":
		return 0, nil
	case "1":
		return 1, nil
	case "infinity":
		return -1, nil
	}
	return 0, errInvalidDepth
}
