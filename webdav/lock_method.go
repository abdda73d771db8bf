package webdav

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// parseTimeout parses a Timeout request header ("Second-N" or
// "Infinite", first of a comma-separated list honored), clamped to
// [1s, h.lockTimeoutMax()]. An absent or unparsable header yields
// h.lockTimeoutDefault().
func (h *Handler) parseTimeout(v string) time.Duration {
	if v == "" {
		return h.lockTimeoutDefault()
	}
	first := strings.TrimSpace(strings.Split(v, ",")[0])
	if strings.EqualFold(first, "Infinite") {
		return h.lockTimeoutMax()
	}
	const p = "Second-"
	if !strings.HasPrefix(first, p) {
		return h.lockTimeoutDefault()
	}
	n, err := strconv.ParseInt(first[len(p):], 10, 64)
	if err != nil || n <= 0 {
		return h.lockTimeoutDefault()
	}
	d := time.Duration(n) * time.Second
	if max := h.lockTimeoutMax(); d > max {
		d = max
	}
	return d
}

func (h *Handler) handleLock(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	duration := h.parseTimeout(r.Header.Get("Timeout"))
	li, empty, status, err := readLockInfo(r.Body, h.maxXMLBody())
	if err != nil {
		return status, err
	}

	now := time.Now()
	if empty {
		return h.handleLockRefresh(w, r, now, duration, name)
	}

	depth, err := parseDepth(r.Header.Get("Depth"), -1)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if depth != 0 && depth != -1 {
		return http.StatusBadRequest, errInvalidDepth
	}

	// Creating a new lock still has to honor any If header naming an
	// existing lock it must cooperate with (e.g. a shared lock).
	release, status, err := h.confirmResourceLock(ctx, r, name, true)
	if err != nil || status != 0 {
		return status, err
	}
	defer release.Release()

	_, statErr := h.FileSystem.Stat(ctx, name)
	existed := statErr == nil
	if !existed {
		f, err := h.FileSystem.OpenFile(ctx, name, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return http.StatusConflict, err
		}
		f.Close()
	}

	details := LockDetails{
		Root:      name,
		Depth:     depth,
		Duration:  duration,
		Shared:    li.shared,
		OwnerXML:  li.ownerXML,
		ZeroDepth: depth == 0,
	}
	token, err := h.LockSystem.Create(now, details)
	if err != nil {
		if err == ErrLocked {
			return StatusLocked, err
		}
		return http.StatusInternalServerError, err
	}

	w.Header().Set("Lock-Token", "<"+token+">")
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if !existed {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	writeLockDiscovery(w, DiscoveredLock{LockDetails: details, Token: token})
	return http.StatusOK, nil
}

// handleLockRefresh handles a LOCK request with no body: a refresh of
// an existing lock named by the If header (spec.md §4.5).
func (h *Handler) handleLockRefresh(w http.ResponseWriter, r *http.Request, now time.Time, duration time.Duration, name string) (int, error) {
	token := extractSingleToken(r.Header.Get("If"))
	if token == "" {
		return http.StatusBadRequest, errInvalidIfHeader
	}
	details, err := h.LockSystem.Refresh(now, token, duration, name)
	if err != nil {
		if err == ErrNoSuchLock {
			return http.StatusPreconditionFailed, err
		}
		return http.StatusInternalServerError, err
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	writeLockDiscovery(w, DiscoveredLock{LockDetails: details, Token: token})
	return http.StatusOK, nil
}

// extractSingleToken pulls the first Coded-URL lock token out of an
// If header for a LOCK refresh, which per RFC 4918 §9.10.2 is always a
// single "(<token>)" list with no resource tag.
func extractSingleToken(v string) string {
	h, ok := parseIfHeader(v)
	if !ok || len(h.lists) == 0 {
		return ""
	}
	for _, c := range h.lists[0].conditions {
		if c.Token != "" {
			return c.Token
		}
	}
	return ""
}

func (h *Handler) handleUnlock(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, error) {
	lt := r.Header.Get("Lock-Token")
	if lt == "" {
		return http.StatusBadRequest, errInvalidIfHeader
	}
	token := strings.Trim(strings.TrimSpace(lt), "<>")
	if err := h.LockSystem.Unlock(time.Now(), token, name); err != nil {
		if err == ErrNoSuchLock {
			return http.StatusConflict, err
		}
		if err == ErrForbidden {
			return http.StatusForbidden, err
		}
		return http.StatusInternalServerError, err
	}
	return http.StatusNoContent, nil
}
