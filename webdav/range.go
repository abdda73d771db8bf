package webdav

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	errInvalidRange     = errors.New("webdav: invalid range")
	errUnsatisfiable    = errors.New("webdav: range not satisfiable")
	errInvalidUpdate    = errors.New("webdav: invalid X-Update-Range")
	errInvalidContRange = errors.New("webdav: invalid Content-Range")
)

// httpRange is one byte-range-spec, resolved against a known resource
// length: [start, start+length).
type httpRange struct {
	start, length int64
}

// parseRange parses the value of a Range header (without the leading
// "Range: ") against a resource of the given size, per RFC 7233 §2.1.
// A suffix range "-N" asks for the last N bytes; an open range "N-"
// asks for everything from N to the end. Ranges that don't overlap
// [0,size) are dropped; if none remain, errUnsatisfiable is returned.
func parseRange(s string, size int64) ([]httpRange, error) {
	const p = "bytes="
	if !strings.HasPrefix(s, p) {
		return nil, errInvalidRange
	}
	var ranges []httpRange
	for _, ra := range strings.Split(s[len(p):], ",") {
		ra = strings.TrimSpace(ra)
		if ra == "" {
			continue
		}
		i := strings.IndexByte(ra, '-')
		if i < 0 {
			return nil, errInvalidRange
		}
		startStr, endStr := strings.TrimSpace(ra[:i]), strings.TrimSpace(ra[i+1:])
		var r httpRange
		if startStr == "" {
			n, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || n <= 0 {
				return nil, errInvalidRange
			}
			if n > size {
				n = size
			}
			r = httpRange{start: size - n, length: n}
		} else {
			start, err := strconv.ParseInt(startStr, 10, 64)
			if err != nil || start < 0 {
				return nil, errInvalidRange
			}
			if start >= size {
				continue
			}
			end := size - 1
			if endStr != "" {
				e, err := strconv.ParseInt(endStr, 10, 64)
				if err != nil || e < start {
					return nil, errInvalidRange
				}
				if e < end {
					end = e
				}
			}
			r = httpRange{start: start, length: end - start + 1}
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, errUnsatisfiable
	}
	return ranges, nil
}

// randomBoundary mirrors the approach net/http's own multipart writer
// uses internally for a collision-resistant MIME boundary.
func randomBoundary() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "webdavboundary"
	}
	return hex.EncodeToString(buf[:])
}

// serveRanges writes a 206 Partial Content response for a single
// range, or a multipart/byteranges response for several, reading each
// span from ra via ReadAt (spec.md §9).
func serveRanges(w http.ResponseWriter, ra io.ReaderAt, size int64, contentType string, ranges []httpRange) error {
	if len(ranges) == 1 {
		r := ranges[0]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.start, r.start+r.length-1, size))
		w.Header().Set("Content-Length", strconv.FormatInt(r.length, 10))
		w.WriteHeader(http.StatusPartialContent)
		_, err := io.Copy(w, io.NewSectionReader(ra, r.start, r.length))
		return err
	}

	boundary := randomBoundary()
	w.Header().Set("Content-Type", "multipart/byteranges; boundary="+boundary)
	w.WriteHeader(http.StatusPartialContent)
	mw := multipart.NewWriter(w)
	mw.SetBoundary(boundary)
	for _, r := range ranges {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":  {contentType},
			"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", r.start, r.start+r.length-1, size)},
		})
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, io.NewSectionReader(ra, r.start, r.length)); err != nil {
			return err
		}
	}
	return mw.Close()
}

// contentRangePut describes a PUT's Content-Range header: a partial
// write at [Start, End] (both inclusive) into a resource whose total
// size is Total once complete, or -1 if the client didn't assert one
// ("*").
type contentRangePut struct {
	Start, End, Total int64
}

// parseContentRangePut parses a PUT request's Content-Range header,
// "bytes start-end/total" (or "*" for total), the partial-PUT
// extension of spec.md §9.2.
func parseContentRangePut(s string) (contentRangePut, error) {
	const p = "bytes "
	if !strings.HasPrefix(s, p) {
		return contentRangePut{}, errInvalidContRange
	}
	s = s[len(p):]
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return contentRangePut{}, errInvalidContRange
	}
	spec, totalStr := s[:slash], s[slash+1:]
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return contentRangePut{}, errInvalidContRange
	}
	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil || start < 0 {
		return contentRangePut{}, errInvalidContRange
	}
	end, err := strconv.ParseInt(spec[dash+1:], 10, 64)
	if err != nil || end < start {
		return contentRangePut{}, errInvalidContRange
	}
	total := int64(-1)
	if totalStr != "*" {
		total, err = strconv.ParseInt(totalStr, 10, 64)
		if err != nil || total <= end {
			return contentRangePut{}, errInvalidContRange
		}
	}
	return contentRangePut{Start: start, End: end, Total: total}, nil
}

// updateRange describes an X-Update-Range header (the SabreDAV partial
// PUT / PATCH extension, spec.md §9.3): either a byte span to
// overwrite, or the literal "append" keyword meaning "write at EOF".
type updateRange struct {
	Append        bool
	Start, Length int64
}

func parseUpdateRange(s string) (updateRange, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "append") {
		return updateRange{Append: true}, nil
	}
	const p = "bytes="
	if !strings.HasPrefix(s, p) {
		return updateRange{}, errInvalidUpdate
	}
	spec := s[len(p):]
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return updateRange{}, errInvalidUpdate
	}
	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil || start < 0 {
		return updateRange{}, errInvalidUpdate
	}
	end, err := strconv.ParseInt(spec[dash+1:], 10, 64)
	if err != nil || end < start {
		return updateRange{}, errInvalidUpdate
	}
	return updateRange{Start: start, Length: end - start + 1}, nil
}
