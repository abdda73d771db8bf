package webdav

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
)

// propfindNode is one resource visited while walking Depth levels for
// a PROPFIND.
type propfindNode struct {
	name string
	fi   os.FileInfo
}

// walkPropfind collects the resources a PROPFIND with the given depth
// covers: just root (0), root plus its immediate children (1), or the
// whole subtree (-1, only reached when RejectInfiniteDepthPropfind is
// false).
func walkPropfind(ctx context.Context, fs FileSystem, name string, fi os.FileInfo, depth int) ([]propfindNode, error) {
	nodes := []propfindNode{{name: name, fi: fi}}
	if depth == 0 || !fi.IsDir() {
		return nodes, nil
	}
	children, err := readdirNames(ctx, fs, name)
	if err != nil {
		return nil, err
	}
	for _, childName := range children {
		childPath := path.Join(name, childName)
		childFI, err := fs.Stat(ctx, childPath)
		if err != nil {
			continue
		}
		nodes = append(nodes, propfindNode{name: childPath, fi: childFI})
		if depth == -1 && childFI.IsDir() {
			grand, err := walkPropfind(ctx, fs, childPath, childFI, -1)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, grand[1:]...)
		}
	}
	return nodes, nil
}

func readdirNames(ctx context.Context, fs FileSystem, name string) ([]string, error) {
	d, err := fs.OpenFile(ctx, name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	infos, err := d.Readdir(-1)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out, nil
}

func (h *Handler) handlePropfind(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	depth, err := parseDepth(r.Header.Get("Depth"), -1)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if depth == -1 && h.RejectInfiniteDepthPropfind {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0" encoding="utf-8"?><D:error xmlns:D="DAV:"><D:propfind-finite-depth/></D:error>`)
		return http.StatusForbidden, nil
	}

	pf, status, err := readPropfind(r.Body, h.maxXMLBody())
	if err != nil {
		return status, err
	}

	fi, err := h.FileSystem.Stat(ctx, name)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	nodes, err := walkPropfind(ctx, h.FileSystem, name, fi, depth)
	if err != nil {
		return http.StatusInternalServerError, err
	}

	now := time.Now()
	mw := newMultistatusWriter(w)
	for _, node := range nodes {
		f, ferr := h.FileSystem.OpenFile(ctx, node.name, os.O_RDONLY, 0)
		if ferr != nil {
			mw.writeResponse(hrefFor(h.Prefix, node.name, node.fi.IsDir()), nil, http.StatusNotFound)
			continue
		}
		var dead map[PropertyName]Property
		if dph, ok := f.(DeadPropsHolder); ok {
			dead, _ = dph.DeadProps()
		}

		var stats []Propstat
		switch pf.mode {
		case propfindPropname:
			stats = resolveProps(ctx, h.FileSystem, h.LockSystem, now, node.name, node.fi, f, dead, allLivePropNamesAndDead(node.fi, dead), true)
		case propfindAllprop:
			stats = allPropStats(ctx, h.FileSystem, h.LockSystem, now, node.name, node.fi, f, dead, pf.include)
		default:
			stats = resolveProps(ctx, h.FileSystem, h.LockSystem, now, node.name, node.fi, f, dead, pf.props, false)
		}
		f.Close()
		mw.writeResponse(hrefFor(h.Prefix, node.name, node.fi.IsDir()), stats, 0)
	}
	return http.StatusOK, mw.close()
}

func allLivePropNamesAndDead(fi os.FileInfo, dead map[PropertyName]Property) []PropertyName {
	names := allLivePropNames(fi)
	for pn := range dead {
		names = append(names, pn)
	}
	return names
}

// hrefFor renders a resource's path as an absolute href, re-adding the
// Handler's Prefix and a trailing slash for collections.
func hrefFor(prefix, name string, isDir bool) string {
	href := prefix + name
	if isDir && !strings.HasSuffix(href, "/") {
		href += "/"
	}
	if href == "" {
		href = "/"
	}
	return href
}

func (h *Handler) handleProppatch(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	release, status, err := h.confirmResourceLock(ctx, r, name, true)
	if err != nil || status != 0 {
		return status, err
	}
	defer release.Release()

	ops, status, err := readProppatch(r.Body, h.maxXMLBody())
	if err != nil {
		return status, err
	}

	fi, err := h.FileSystem.Stat(ctx, name)
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDWR, 0644)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	defer f.Close()

	var stats []Propstat
	if protected, ok := firstProtectedProperty(ops); ok {
		stats = []Propstat{
			{Props: []Property{protected}, Status: http.StatusForbidden, XMLError: "<D:cannot-modify-protected-property/>"},
		}
		for _, op := range ops {
			for _, p := range op.Props {
				if p.XMLName == protected.XMLName {
					continue
				}
				stats = append(stats, Propstat{Props: []Property{p}, Status: StatusFailedDependency})
			}
		}
	} else {
		dph, ok := f.(DeadPropsHolder)
		if !ok {
			for _, op := range ops {
				for _, p := range op.Props {
					stats = append(stats, Propstat{Props: []Property{p}, Status: http.StatusForbidden})
				}
			}
		} else {
			stats, err = dph.Patch(ops)
			if err != nil {
				return http.StatusInternalServerError, err
			}
		}
	}

	mw := newMultistatusWriter(w)
	mw.writeResponse(hrefFor(h.Prefix, name, fi.IsDir()), stats, 0)
	return http.StatusOK, mw.close()
}

// firstProtectedProperty reports the first property across all ops
// that names one of the protected live properties, which forbids the
// whole PROPPATCH request per RFC 4918 §9.2.1.
func firstProtectedProperty(ops []Proppatch) (Property, bool) {
	for _, op := range ops {
		for _, p := range op.Props {
			if p.XMLName.Space == "DAV:" && protectedProps[p.XMLName.Local] {
				return p, true
			}
		}
	}
	return Property{}, false
}
