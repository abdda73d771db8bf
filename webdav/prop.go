package webdav

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ETager is implemented by a File that can produce a strong entity tag
// for itself more cheaply, or more correctly, than the Handler's
// default derivation from (size, mtime). MemFs's file type implements
// it; a backend that doesn't need not.
type ETager interface {
	ETag(ctx context.Context) (string, error)
}

// StatFS is implemented by a FileSystem that can report aggregate
// quota usage, for DAV:quota-used-bytes / DAV:quota-available-bytes
// (spec.md §6, RFC 4331). A FileSystem that doesn't implement it
// simply never serves those two properties.
type StatFS interface {
	StatFS(ctx context.Context) (usedBytes, availableBytes int64, err error)
}

// davProp builds a PropertyName in the DAV: namespace.
func davProp(local string) PropertyName { return PropertyName{Space: "DAV:", Local: local} }

var liveCollectionProps = []string{
	"creationdate", "displayname", "resourcetype", "getetag",
	"getlastmodified", "lockdiscovery", "supportedlock",
	"quota-available-bytes", "quota-used-bytes",
}

var liveFileProps = []string{
	"creationdate", "displayname", "resourcetype", "getcontentlength",
	"getcontenttype", "getetag", "getlastmodified", "lockdiscovery",
	"supportedlock", "executable",
}

// protectedProps may never be set or removed by PROPPATCH; attempting
// to do so yields 403 with a DAV:cannot-modify-protected-property
// error (spec.md §6.3).
var protectedProps = map[string]bool{
	"getetag": true, "getlastmodified": true, "lockdiscovery": true,
	"supportedlock": true, "resourcetype": true, "getcontentlength": true,
	"quota-available-bytes": true, "quota-used-bytes": true,
}

// etagOf derives a resource's entity tag: the ETager interface if the
// File implements it, else a weak derivation from size and mtime
// hashed with blake2b (grounded on the teacher's preference for a
// fast, non-cryptographic content fingerprint in gdrive/cache.go).
func etagOf(ctx context.Context, f File, fi os.FileInfo) (string, error) {
	if et, ok := f.(ETager); ok {
		return et.ETag(ctx)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(h, "%d-%d", fi.Size(), fi.ModTime().UnixNano())
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`, nil
}

// resourceTypeXML returns the DAV:resourcetype property body: empty
// for a plain file, <D:collection/> for a directory.
func resourceTypeXML(fi os.FileInfo) []byte {
	if fi.IsDir() {
		return []byte("<D:collection/>")
	}
	return nil
}

const rfc1123 = "Mon, 02 Jan 2006 15:04:05 GMT"

// findLiveProp resolves one live DAV: property. ok is false if name
// isn't a live property the Handler knows about (the caller then
// falls back to dead-property storage, and ultimately to 404).
func findLiveProp(ctx context.Context, fs FileSystem, ls LockSystem, now time.Time, name string, fi os.FileInfo, f File, pn PropertyName) (Property, bool, error) {
	if pn.Space != "DAV:" {
		return Property{}, false, nil
	}
	p := Property{XMLName: pn, Prefix: "D"}
	switch pn.Local {
	case "creationdate":
		p.InnerXML = []byte(fi.ModTime().UTC().Format(time.RFC3339))
	case "displayname":
		p.InnerXML = []byte(escapeXMLText(fiBaseName(name)))
	case "getcontentlanguage":
		return Property{}, false, nil
	case "getcontentlength":
		if fi.IsDir() {
			return Property{}, false, nil
		}
		p.InnerXML = []byte(fmt.Sprintf("%d", fi.Size()))
	case "getcontenttype":
		if fi.IsDir() {
			return Property{}, false, nil
		}
		p.InnerXML = []byte(escapeXMLText(contentTypeOf(name)))
	case "getetag":
		if fi.IsDir() {
			return Property{}, false, nil
		}
		etag, err := etagOf(ctx, f, fi)
		if err != nil {
			return Property{}, true, err
		}
		p.InnerXML = []byte(etag)
	case "getlastmodified":
		p.InnerXML = []byte(fi.ModTime().UTC().Format(rfc1123))
	case "resourcetype":
		p.InnerXML = resourceTypeXML(fi)
	case "lockdiscovery":
		locks, err := ls.Discover(now, name)
		if err != nil {
			return Property{}, true, err
		}
		var buf bytes.Buffer
		for _, dl := range locks {
			writeActiveLock(&buf, dl)
		}
		p.InnerXML = buf.Bytes()
	case "supportedlock":
		p.InnerXML = []byte("<D:lockentry><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>" +
			"<D:lockentry><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>")
	case "quota-available-bytes", "quota-used-bytes":
		sfs, ok := fs.(StatFS)
		if !ok {
			return Property{}, false, nil
		}
		used, available, err := sfs.StatFS(ctx)
		if err != nil {
			return Property{}, true, err
		}
		if pn.Local == "quota-used-bytes" {
			p.InnerXML = []byte(fmt.Sprintf("%d", used))
		} else {
			p.InnerXML = []byte(fmt.Sprintf("%d", available))
		}
	case "executable":
		if fi.IsDir() {
			return Property{}, false, nil
		}
		if fi.Mode()&0111 != 0 {
			p.InnerXML = []byte("T")
		} else {
			p.InnerXML = []byte("F")
		}
	default:
		return Property{}, false, nil
	}
	return p, true, nil
}

// allLivePropNames lists the live properties applicable to fi, used to
// answer "allprop" and "propname".
func allLivePropNames(fi os.FileInfo) []PropertyName {
	names := liveFileProps
	if fi.IsDir() {
		names = liveCollectionProps
	}
	out := make([]PropertyName, len(names))
	for i, n := range names {
		out[i] = davProp(n)
	}
	return out
}

// resolveProps builds the Propstat groups for a single resource given
// the caller's requested property names (propfindProp/propfindPropname
// modes). propfindAllprop is answered by allPropStats instead.
func resolveProps(ctx context.Context, fs FileSystem, ls LockSystem, now time.Time, name string, fi os.FileInfo, f File, dead map[PropertyName]Property, names []PropertyName, namesOnly bool) []Propstat {
	var found, notFound []Property
	for _, pn := range names {
		if namesOnly {
			found = append(found, Property{XMLName: pn, Prefix: "D"})
			continue
		}
		if p, ok, err := findLiveProp(ctx, fs, ls, now, name, fi, f, pn); ok {
			if err != nil {
				notFound = append(notFound, Property{XMLName: pn})
				continue
			}
			found = append(found, p)
			continue
		}
		if dp, ok := dead[pn]; ok {
			found = append(found, dp)
			continue
		}
		notFound = append(notFound, Property{XMLName: pn})
	}

	var stats []Propstat
	if len(found) > 0 {
		stats = append(stats, Propstat{Props: found, Status: http.StatusOK})
	}
	if len(notFound) > 0 {
		stats = append(stats, Propstat{Props: notFound, Status: http.StatusNotFound})
	}
	return stats
}

// allPropStats answers "allprop" (optionally "allprop" + "include"):
// every live property applicable to the resource, every stored dead
// property, plus any names in include not already covered.
func allPropStats(ctx context.Context, fs FileSystem, ls LockSystem, now time.Time, name string, fi os.FileInfo, f File, dead map[PropertyName]Property, include []PropertyName) []Propstat {
	var found []Property
	seen := map[PropertyName]bool{}
	for _, pn := range allLivePropNames(fi) {
		if p, ok, err := findLiveProp(ctx, fs, ls, now, name, fi, f, pn); ok && err == nil {
			found = append(found, p)
			seen[pn] = true
		}
	}
	for pn, dp := range dead {
		if !seen[pn] {
			found = append(found, dp)
			seen[pn] = true
		}
	}
	for _, pn := range include {
		if seen[pn] {
			continue
		}
		if p, ok, err := findLiveProp(ctx, fs, ls, now, name, fi, f, pn); ok && err == nil {
			found = append(found, p)
			seen[pn] = true
		}
	}
	if len(found) == 0 {
		return nil
	}
	return []Propstat{{Props: found, Status: http.StatusOK}}
}

func fiBaseName(name string) string {
	i := len(name) - 1
	for i >= 0 && name[i] == '/' {
		i--
	}
	j := i
	for j >= 0 && name[j] != '/' {
		j--
	}
	if i < 0 {
		return ""
	}
	return name[j+1 : i+1]
}
