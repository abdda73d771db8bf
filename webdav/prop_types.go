package webdav

import "encoding/xml"

// PropertyName identifies a WebDAV property by its XML namespace and
// local name, e.g. {Space: "DAV:", Local: "getetag"}.
type PropertyName = xml.Name

// Property is a single dead or live property value: the raw,
// already-namespaced XML fragment that goes inside a <D:prop> element,
// plus the XML prefix to write it with. Live DAV: properties carry
// "D"; the PROPPATCH parser does not record the prefix a client used,
// so dead properties are stored with an empty Prefix and written with
// a default-namespace declaration instead.
type Property struct {
	XMLName  PropertyName
	Prefix   string `xml:"-"`
	Lang     string `xml:"xml:lang,attr,omitempty"`
	InnerXML []byte `xml:",innerxml"`
}

// Proppatch describes a single set-or-remove operation from a
// PROPPATCH request body, in document order.
type Proppatch struct {
	Remove bool
	Props  []Property
}

// Propstat groups one or more properties under a shared HTTP status,
// for assembly into a <D:propstat> element.
type Propstat struct {
	Props []Property
	// Status is the HTTP status of this propstat's properties, e.g.
	// http.StatusOK, http.StatusForbidden, StatusFailedDependency.
	Status int
	// XMLError, if non-empty, is a verbatim <D:error> child to emit
	// alongside the status (e.g. <D:cannot-modify-protected-property/>).
	XMLError string
	// ResponseDescription is an optional human-readable annotation.
	ResponseDescription string
}
