// The XML encoding is covered by RFC 4918 §14.
// http://www.webdav.org/specs/rfc4918.html#xml.element.definitions
package webdav

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

var (
	errInvalidPropfind     = errors.New("webdav: invalid propfind")
	errInvalidProppatch    = errors.New("webdav: invalid proppatch")
	errInvalidLockInfo     = errors.New("webdav: invalid lock info")
	errUnsupportedLockInfo = errors.New("webdav: unsupported lock info")
)

// countingReader lets readLockInfo and readPropfind distinguish a
// genuinely empty body (0 bytes read) from a body that failed to
// parse, without buffering it first.
type countingReader struct {
	n int
	r io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// anyProp captures one child element generically: its fully-resolved
// name and its raw inner XML, without imposing any schema on the
// element's own content. This is how the codec avoids ever building a
// DOM larger than a single property's body (spec.md §4.2).
type anyProp struct {
	XMLName  xml.Name
	InnerXML []byte `xml:",innerxml"`
}

// --- PROPFIND ---------------------------------------------------------

type propfindMode int

const (
	propfindProp propfindMode = iota
	propfindPropname
	propfindAllprop
)

type propfindRequest struct {
	mode    propfindMode
	props   []PropertyName
	include []PropertyName
}

type propfindXML struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	Allprop  *struct{} `xml:"DAV: allprop"`
	Propname *struct{} `xml:"DAV: propname"`
	Prop     struct {
		Props []anyProp `xml:",any"`
	} `xml:"DAV: prop"`
	Include struct {
		Props []anyProp `xml:",any"`
	} `xml:"DAV: include"`
}

// readPropfind parses a PROPFIND request body. An empty body is
// treated as "allprop", per RFC 4918 §9.1.
func readPropfind(r io.Reader, maxBody int64) (propfindRequest, int, error) {
	c := &countingReader{r: io.LimitReader(r, maxBody+1)}
	var x propfindXML
	err := xml.NewDecoder(c).Decode(&x)
	if err == io.EOF && c.n == 0 {
		return propfindRequest{mode: propfindAllprop}, 0, nil
	}
	if int64(c.n) > maxBody {
		return propfindRequest{}, http.StatusRequestEntityTooLarge, errInvalidPropfind
	}
	if err != nil {
		return propfindRequest{}, http.StatusBadRequest, errInvalidPropfind
	}

	req := propfindRequest{}
	switch {
	case x.Propname != nil:
		req.mode = propfindPropname
	case x.Allprop != nil:
		req.mode = propfindAllprop
		for _, p := range x.Include.Props {
			req.include = append(req.include, p.XMLName)
		}
	case len(x.Prop.Props) > 0:
		req.mode = propfindProp
		for _, p := range x.Prop.Props {
			req.props = append(req.props, p.XMLName)
		}
	default:
		return propfindRequest{}, http.StatusBadRequest, errInvalidPropfind
	}
	return req, 0, nil
}

// --- PROPPATCH ----------------------------------------------------------

type propertyupdateXML struct {
	XMLName xml.Name `xml:"DAV: propertyupdate"`
	Ops     []struct {
		XMLName xml.Name
		Prop    struct {
			Props []anyProp `xml:",any"`
		} `xml:"DAV: prop"`
	} `xml:",any"`
}

func readProppatch(r io.Reader, maxBody int64) ([]Proppatch, int, error) {
	c := &countingReader{r: io.LimitReader(r, maxBody+1)}
	var x propertyupdateXML
	if err := xml.NewDecoder(c).Decode(&x); err != nil {
		if int64(c.n) > maxBody {
			return nil, http.StatusRequestEntityTooLarge, errInvalidProppatch
		}
		return nil, http.StatusBadRequest, errInvalidProppatch
	}

	var ops []Proppatch
	for _, op := range x.Ops {
		var remove bool
		switch op.XMLName.Local {
		case "set":
			remove = false
		case "remove":
			remove = true
		default:
			continue
		}
		pp := Proppatch{Remove: remove}
		for _, p := range op.Prop.Props {
			pp.Props = append(pp.Props, Property{XMLName: p.XMLName, InnerXML: p.InnerXML})
		}
		ops = append(ops, pp)
	}
	if len(ops) == 0 {
		return nil, http.StatusBadRequest, errInvalidProppatch
	}
	return ops, 0, nil
}

// --- LOCK ---------------------------------------------------------------

type ownerXML struct {
	InnerXML string `xml:",innerxml"`
}

type lockInfoXML struct {
	XMLName   xml.Name  `xml:"lockinfo"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Write     *struct{} `xml:"locktype>write"`
	Owner     ownerXML  `xml:"owner"`
}

type lockInfo struct {
	shared   bool
	ownerXML string
}

// readLockInfo parses a LOCK request body. A body that's empty (0
// bytes) returns empty=true with a nil error: the caller treats that
// as a refresh of an existing lock rather than a new one.
func readLockInfo(r io.Reader, maxBody int64) (li lockInfo, empty bool, status int, err error) {
	c := &countingReader{r: io.LimitReader(r, maxBody+1)}
	var x lockInfoXML
	if err = xml.NewDecoder(c).Decode(&x); err != nil {
		if err == io.EOF {
			if c.n == 0 {
				return lockInfo{}, true, 0, nil
			}
			err = errInvalidLockInfo
		}
		if int64(c.n) > maxBody {
			return lockInfo{}, false, http.StatusRequestEntityTooLarge, errInvalidLockInfo
		}
		return lockInfo{}, false, http.StatusBadRequest, err
	}
	if x.Write == nil {
		return lockInfo{}, false, http.StatusNotImplemented, errUnsupportedLockInfo
	}
	switch {
	case x.Exclusive != nil && x.Shared == nil:
		li.shared = false
	case x.Shared != nil && x.Exclusive == nil:
		li.shared = true
	default:
		return lockInfo{}, false, http.StatusBadRequest, errUnsupportedLockInfo
	}
	li.ownerXML = x.Owner.InnerXML
	return li, false, 0, nil
}

// writeActiveLock writes one <D:activelock> element describing dl. It is
// shared by the LOCK method's response body and the DAV:lockdiscovery
// live property (prop.go).
func writeActiveLock(w io.Writer, dl DiscoveredLock) {
	depth := "infinity"
	if dl.Depth >= 0 {
		depth = strconv.Itoa(dl.Depth)
	}
	scope := "<D:exclusive/>"
	if dl.Shared {
		scope = "<D:shared/>"
	}
	timeout := "Infinite"
	if dl.Duration >= 0 {
		timeout = "Second-" + strconv.FormatInt(int64(dl.Duration/time.Second), 10)
	}
	fmt.Fprintf(w, "<D:activelock>\n"+
		"	<D:locktype><D:write/></D:locktype>\n"+
		"	<D:lockscope>%s</D:lockscope>\n"+
		"	<D:depth>%s</D:depth>\n"+
		"	<D:owner>%s</D:owner>\n"+
		"	<D:timeout>%s</D:timeout>\n"+
		"	<D:locktoken><D:href>%s</D:href></D:locktoken>\n"+
		"	<D:lockroot><D:href>%s</D:href></D:lockroot>\n"+
		"</D:activelock>",
		scope, depth, dl.OwnerXML, timeout, escapeXMLText(dl.Token), escapeXMLText(dl.Root),
	)
}

func writeLockDiscovery(w io.Writer, dl DiscoveredLock) (int, error) {
	n, err := io.WriteString(w, "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n<D:prop xmlns:D=\"DAV:\"><D:lockdiscovery>")
	if err != nil {
		return n, err
	}
	writeActiveLock(w, dl)
	n2, err := io.WriteString(w, "</D:lockdiscovery></D:prop>")
	return n + n2, err
}

func escapeXMLText(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '&', '\'', '<', '>':
			b := bytes.NewBuffer(nil)
			xml.EscapeText(b, []byte(s))
			return b.String()
		}
	}
	return s
}

// --- multistatus ----------------------------------------------------------

// multistatusWriter streams a 207 Multi-Status document one <response>
// element at a time, so that a long PROPFIND/PROPPATCH/DELETE never
// buffers the whole response body.
type multistatusWriter struct {
	w       io.Writer
	started bool
}

func newMultistatusWriter(w http.ResponseWriter) *multistatusWriter {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(StatusMulti)
	return &multistatusWriter{w: w}
}

func (m *multistatusWriter) start() {
	if m.started {
		return
	}
	m.started = true
	io.WriteString(m.w, `<?xml version="1.0" encoding="utf-8"?>`+"\n"+`<D:multistatus xmlns:D="DAV:">`)
}

// writeResponse emits one <D:response> for href with one <D:propstat>
// per distinct status group in propstats, or a single <D:status> if
// propstats is empty and plainStatus is set (e.g. a bare DELETE
// failure with no properties attached).
func (m *multistatusWriter) writeResponse(href string, propstats []Propstat, plainStatus int) {
	m.start()
	io.WriteString(m.w, "<D:response><D:href>")
	xml.EscapeText(m.w, []byte(href))
	io.WriteString(m.w, "</D:href>")
	for _, ps := range propstats {
		io.WriteString(m.w, "<D:propstat><D:prop>")
		for _, p := range ps.Props {
			writeProperty(m.w, p)
		}
		fmt.Fprintf(m.w, "</D:prop><D:status>HTTP/1.1 %d %s</D:status>", ps.Status, StatusText(ps.Status))
		if ps.XMLError != "" {
			fmt.Fprintf(m.w, "<D:error>%s</D:error>", ps.XMLError)
		}
		if ps.ResponseDescription != "" {
			io.WriteString(m.w, "<D:responsedescription>")
			xml.EscapeText(m.w, []byte(ps.ResponseDescription))
			io.WriteString(m.w, "</D:responsedescription>")
		}
		io.WriteString(m.w, "</D:propstat>")
	}
	if len(propstats) == 0 && plainStatus != 0 {
		fmt.Fprintf(m.w, "<D:status>HTTP/1.1 %d %s</D:status>", plainStatus, StatusText(plainStatus))
	}
	io.WriteString(m.w, "</D:response>")
}

func (m *multistatusWriter) close() error {
	m.start()
	_, err := io.WriteString(m.w, "</D:multistatus>")
	return err
}

// writeProperty writes a single property, preferring the stable "D:"
// prefix for DAV: properties (spec.md §4.2). Any other property is
// written with its Prefix if one is set, and otherwise unprefixed with
// a default-namespace (xmlns="...") declaration.
func writeProperty(w io.Writer, p Property) {
	prefix := p.Prefix
	if p.XMLName.Space == "DAV:" {
		prefix = "D"
	}
	local := p.XMLName.Local
	if prefix != "" {
		fmt.Fprintf(w, "<%s:%s", prefix, local)
		if p.XMLName.Space != "DAV:" {
			fmt.Fprintf(w, " xmlns:%s=%q", prefix, p.XMLName.Space)
		}
	} else {
		fmt.Fprintf(w, "<%s xmlns=%q", local, p.XMLName.Space)
	}
	if len(p.InnerXML) == 0 {
		io.WriteString(w, "/>")
		return
	}
	io.WriteString(w, ">")
	w.Write(p.InnerXML)
	if prefix != "" {
		fmt.Fprintf(w, "</%s:%s>", prefix, local)
	} else {
		fmt.Fprintf(w, "</%s>", local)
	}
}
