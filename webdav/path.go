package webdav

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizePath percent-decodes and canonicalizes rawPath (an
// request-URI's path component) into a backend path: it begins with
// "/", has no embedded NUL, no "." or ".." segments, and no repeated
// "/" runs. The returned hadTrailingSlash records whether the original
// path (after stripping prefix) ended in "/"; the Handler's method
// handlers discard it and decide collection-ness from the resource
// itself.
//
// prefix, if non-empty, must match the start of the decoded path
// (e.g. "/dav"); it is stripped before the result is returned. A
// mismatch is reported via ok=false, which callers map to 404.
func normalizePath(rawPath, prefix string) (p string, hadTrailingSlash bool, ok bool) {
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", false, false
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return "", false, false
	}

	decoded = norm.NFC.String(decoded)

	if prefix != "" {
		trimmed := strings.TrimPrefix(decoded, prefix)
		if trimmed == decoded {
			return "", false, false
		}
		decoded = trimmed
		if decoded == "" {
			decoded = "/"
		}
	}

	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}

	hadTrailingSlash = len(decoded) > 1 && strings.HasSuffix(decoded, "/")

	segments := strings.Split(decoded, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "":
			// collapses repeated "/" runs
			continue
		case ".", "..":
			return "", false, false
		default:
			clean = append(clean, seg)
		}
	}

	if len(clean) == 0 {
		return "/", hadTrailingSlash, true
	}
	return "/" + strings.Join(clean, "/"), hadTrailingSlash, true
}

// isCollectionPath reports whether p, as stored/looked-up, denotes the
// root collection. The canonical form produced by normalizePath never
// carries a trailing slash except for "/" itself; collection-ness for
// any other path is a property of the resource, not of its string form.
func isCollectionPath(p string) bool {
	return p == "/"
}
