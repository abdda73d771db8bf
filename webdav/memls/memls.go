// Package memls is an in-memory webdav.LockSystem: lock state lives
// only in the process's memory and does not survive a restart, the
// same tradeoff the teacher's in-memory property/file store makes
// elsewhere in this module.
package memls

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mikea/webdavd/webdav"
)

// New returns a LockSystem that tracks real lock state: conflicting
// creates are rejected, Discover reports accurate lockdiscovery
// entries, and a lock genuinely expires once its Timeout elapses.
func New() *MemLs {
	return &MemLs{byToken: make(map[string]*heldLock)}
}

type heldLock struct {
	webdav.LockDetails
	token   string
	expiry  time.Time // zero means infinite
	claimMu sync.Mutex
}

func (hl *heldLock) expired(now time.Time) bool {
	return !hl.expiry.IsZero() && !hl.expiry.After(now)
}

// MemLs is a webdav.LockSystem backed by a map guarded by a single
// mutex, grounded on golang-net/lock.go's memLS (byToken map) and
// generalized to the create/confirm/refresh/unlock/discover surface
// that skeleton left as "TODO".
type MemLs struct {
	mu      sync.Mutex
	byToken map[string]*heldLock
}

func (m *MemLs) purgeLocked(now time.Time) {
	for token, hl := range m.byToken {
		if hl.expired(now) {
			delete(m.byToken, token)
			log.Debugf("memls: lock %s on %s expired", token, hl.Root)
		}
	}
}

// overlaps reports whether a lock rooted at aRoot with depth aDepth
// shares any part of its scope with one rooted at bRoot with depth
// bDepth (spec.md §4.5): equal roots always overlap; an infinite-depth
// lock also overlaps every descendant of its root.
func overlaps(aRoot string, aDepth int, bRoot string, bDepth int) bool {
	if aRoot == bRoot {
		return true
	}
	if aDepth == -1 && isAncestor(aRoot, bRoot) {
		return true
	}
	if bDepth == -1 && isAncestor(bRoot, aRoot) {
		return true
	}
	return false
}

// covers reports whether a lock rooted at root with the given depth
// protects name, for Confirm and Discover.
func covers(root string, depth int, name string) bool {
	if root == name {
		return true
	}
	return depth == -1 && isAncestor(root, name)
}

func isAncestor(anc, desc string) bool {
	if anc == "/" {
		return desc != "/"
	}
	return strings.HasPrefix(desc, anc+"/")
}

func (m *MemLs) Create(now time.Time, details webdav.LockDetails) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	for _, hl := range m.byToken {
		if overlaps(details.Root, details.Depth, hl.Root, hl.Depth) && !(details.Shared && hl.Shared) {
			return "", webdav.ErrLocked
		}
	}

	token := "urn:uuid:" + uuid.New().String()
	expiry := time.Time{}
	if details.Duration >= 0 {
		expiry = now.Add(details.Duration)
	}
	m.byToken[token] = &heldLock{LockDetails: details, token: token, expiry: expiry}
	return token, nil
}

func (m *MemLs) Confirm(now time.Time, name string, conditions ...webdav.Condition) (webdav.Releaser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	if len(conditions) == 0 {
		for _, hl := range m.byToken {
			if covers(hl.Root, hl.Depth, name) {
				return nil, webdav.ErrConfirmationFailed
			}
		}
		return noopReleaser{}, nil
	}

	var claimed []*heldLock
	fail := func() (webdav.Releaser, error) {
		for _, hl := range claimed {
			hl.claimMu.Unlock()
		}
		return nil, webdav.ErrConfirmationFailed
	}

	for _, c := range conditions {
		hl, ok := m.byToken[c.Token]
		held := ok && covers(hl.Root, hl.Depth, name)
		if c.Not {
			if held {
				return fail()
			}
			continue
		}
		if !held {
			return fail()
		}
		if !hl.claimMu.TryLock() {
			return fail()
		}
		claimed = append(claimed, hl)
	}
	return lockReleaser(claimed), nil
}

func (m *MemLs) Refresh(now time.Time, token string, duration time.Duration, name string) (webdav.LockDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	hl, ok := m.byToken[token]
	if !ok {
		return webdav.LockDetails{}, webdav.ErrNoSuchLock
	}
	hl.Duration = duration
	if duration >= 0 {
		hl.expiry = now.Add(duration)
	} else {
		hl.expiry = time.Time{}
	}
	return hl.LockDetails, nil
}

// Unlock requires token's lock to actually cover name: a client can't
// UNLOCK a lock rooted elsewhere just because it knows the token, and
// a 409 (not 404) is the spec-mandated response either way (spec.md
// §4.7), so both "no such token" and "wrong path" share ErrNoSuchLock.
func (m *MemLs) Unlock(now time.Time, token string, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	hl, ok := m.byToken[token]
	if !ok || !covers(hl.Root, hl.Depth, name) {
		return webdav.ErrNoSuchLock
	}
	delete(m.byToken, token)
	return nil
}

// Remove drops every lock rooted at or below name outright, with no
// regard for who holds it: the resource it protected is gone.
func (m *MemLs) Remove(now time.Time, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	for token, hl := range m.byToken {
		if hl.Root == name || isAncestor(name, hl.Root) {
			delete(m.byToken, token)
		}
	}
}

// Rename relocates every lock at or below oldName to the same position
// under newName, preserving token and all other details.
func (m *MemLs) Rename(now time.Time, oldName, newName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	for _, hl := range m.byToken {
		switch {
		case hl.Root == oldName:
			hl.Root = newName
		case isAncestor(oldName, hl.Root):
			hl.Root = newName + strings.TrimPrefix(hl.Root, oldName)
		}
	}
}

func (m *MemLs) Discover(now time.Time, name string) ([]webdav.DiscoveredLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)

	var out []webdav.DiscoveredLock
	for _, hl := range m.byToken {
		if covers(hl.Root, hl.Depth, name) {
			out = append(out, webdav.DiscoveredLock{LockDetails: hl.LockDetails, Token: hl.token})
		}
	}
	return out, nil
}

type noopReleaser struct{}

func (noopReleaser) Release() {}

type lockReleaser []*heldLock

func (l lockReleaser) Release() {
	for _, hl := range l {
		hl.claimMu.Unlock()
	}
}
