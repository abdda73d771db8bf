package webdav

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// noopReleaser satisfies Releaser for the case where a list's
// conditions were entirely resolved locally (ETag matches) and no
// token needed to be confirmed against the LockSystem at all.
type noopReleaser struct{}

func (noopReleaser) Release() {}

// multiReleaser releases several Releasers together, e.g. the source
// and destination locks confirmed for a COPY/MOVE.
type multiReleaser []Releaser

func (m multiReleaser) Release() {
	for _, r := range m {
		if r != nil {
			r.Release()
		}
	}
}

func lockErrToStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if errors.Is(err, ErrConfirmationFailed) || errors.Is(err, ErrLocked) {
		return StatusLocked, nil
	}
	return http.StatusInternalServerError, err
}

// evalListConditions checks an ifList's ETag conditions locally
// (needs no lock state) and returns the remaining token conditions to
// hand to LockSystem.Confirm. ok is false if any ETag condition in the
// list failed, meaning the whole list is disqualified.
func evalListConditions(list ifList, etagFor func(string) (string, bool), target string) (ok bool, tokenConds []Condition) {
	for _, c := range list.conditions {
		if c.ETag != "" {
			etag, known := etagFor(target)
			matches := known && unquoteETag(etag) == c.ETag
			if matches == c.Not {
				return false, nil
			}
			continue
		}
		tokenConds = append(tokenConds, c)
	}
	return true, tokenConds
}

// confirmOne resolves the lock conditions applicable to a single
// resource: a Tagged-list naming it, plus (if includeNoTag) any
// No-tag-list, which RFC 4918 §10.4.2 scopes to the request-URI itself
// rather than to a COPY/MOVE destination. If no list applies to name,
// name is confirmed as if the request carried no If header.
func (h *Handler) confirmOne(now time.Time, ih *ifHeader, etagFor func(string) (string, bool), name string, includeNoTag bool) (Releaser, int, error) {
	if ih == nil {
		rel, err := h.LockSystem.Confirm(now, name)
		status, err2 := lockErrToStatus(err)
		return rel, status, err2
	}
	var lastErr error = ErrConfirmationFailed
	applied := false
	for _, list := range ih.lists {
		if list.resourceTag == "" {
			if !includeNoTag {
				continue
			}
		} else if list.resourceTag != name {
			continue
		}
		applied = true
		ok, tokenConds := evalListConditions(list, etagFor, name)
		if !ok {
			continue
		}
		if len(tokenConds) == 0 {
			return noopReleaser{}, 0, nil
		}
		rel, err := h.LockSystem.Confirm(now, name, tokenConds...)
		if err == nil {
			return rel, 0, nil
		}
		lastErr = err
	}
	if !applied {
		rel, err := h.LockSystem.Confirm(now, name)
		status, err2 := lockErrToStatus(err)
		return rel, status, err2
	}
	status, err := lockErrToStatus(lastErr)
	return nil, status, err
}

// confirmResourceLock is the common case: confirm locks for a single
// request resource, given the request's If/If-Match/If-None-Match
// headers. includeNoTag should be true for every resource except a
// COPY/MOVE destination, for which handleCopyMove passes false.
func (h *Handler) confirmResourceLock(ctx context.Context, r *http.Request, name string, includeNoTag bool) (Releaser, int, error) {
	cond, err := parseConditionalHeaders(r)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	etagFor := func(n string) (string, bool) {
		return etagForOpen(ctx, h.FileSystem, n)
	}
	return h.confirmOne(time.Now(), cond.ifHeader, etagFor, name, includeNoTag)
}
