package webdav

import (
	"errors"
	"time"
)

// Errors returned by a LockSystem. The Handler matches on these exact
// sentinels to choose an HTTP status, so implementations must return
// them verbatim rather than wrapping them.
var (
	// ErrConfirmationFailed is returned by Confirm when none of the
	// conditions presented authorize access to the resource. The
	// Handler tries the next If: list (if any) before giving up.
	ErrConfirmationFailed = errors.New("webdav: confirmation failed")
	// ErrForbidden is returned by Unlock for a lock owned by someone
	// else.
	ErrForbidden = errors.New("webdav: forbidden")
	// ErrLocked is returned by Create, Refresh and Unlock when the
	// requested operation conflicts with an existing lock.
	ErrLocked = errors.New("webdav: locked")
	// ErrNoSuchLock is returned by Refresh and Unlock when the token
	// given does not correspond to a held lock.
	ErrNoSuchLock = errors.New("webdav: no such lock")
)

// Condition matches a resource by lock token or by ETag, per the If:
// header grammar (spec.md §4.3). Exactly one of Token and ETag is set.
type Condition struct {
	Not   bool
	Token string
	ETag  string
}

// Releaser releases lock claims confirmed by LockSystem.Confirm. It
// does not UNLOCK the underlying lock; it only ends this request's
// hold on it, so that a concurrent Confirm for the same lock can
// proceed once released.
type Releaser interface {
	Release()
}

// LockDetails are a lock's metadata, as created by a LOCK request.
type LockDetails struct {
	// Root is the lock's path, exactly as canonicalized from the
	// request-URI that created it.
	Root string
	// Depth is the lock depth: 0, or negative for infinity. WebDAV
	// only ever uses 0 or infinity for locks (spec.md §4.5).
	Depth int
	// Duration is the lock timeout; negative means infinite.
	Duration time.Duration
	// Shared is true for a shared lock, false for exclusive.
	Shared bool
	// OwnerXML is the verbatim <owner> XML fragment from the LOCK
	// request body.
	OwnerXML string
	// ZeroDepth mirrors Depth == 0, kept as an explicit bool because
	// callers often only care about the 0-vs-infinity distinction.
	ZeroDepth bool
}

// LockSystem manages locks for a tree of named resources. Paths are
// "/"-separated regardless of host OS convention.
type LockSystem interface {
	// Confirm confirms that the caller may claim every lock named by
	// conditions, where holding their union gives exclusive access to
	// name (and, if any condition's resource tag names a different
	// resource, to that resource too — the Handler calls Confirm once
	// per affected resource).
	//
	// Exactly one of the return values is non-nil. A non-nil Releaser
	// must have Release called once the caller is done; until then, no
	// other Confirm can claim any of the same locks.
	//
	// Returning ErrConfirmationFailed lets the Handler try the next
	// disjunct of a multi-list If: header. Any other error aborts with
	// 500.
	Confirm(now time.Time, name string, conditions ...Condition) (Releaser, error)

	// Create creates a new lock per details and returns its token, an
	// opaque URI (MemLs mints "urn:uuid:" tokens, FakeLs
	// "opaquelocktoken:" ones). Returns ErrLocked on conflict with an
	// existing lock.
	Create(now time.Time, details LockDetails) (token string, err error)

	// Refresh extends the lock named by token, updating only its
	// Duration (and internal expiry bookkeeping). name is the request
	// path the refresh arrived on; a LockSystem that doesn't track a
	// lock's root itself (FakeLs) may fall back to it. Returns
	// ErrNoSuchLock if token names no held lock.
	Refresh(now time.Time, token string, duration time.Duration, name string) (LockDetails, error)

	// Unlock releases the lock named by token outright (the WebDAV
	// UNLOCK verb), regardless of any current Confirm holds — a
	// conforming client only sends UNLOCK once it no longer needs the
	// lock. name is the request path the UNLOCK arrived on; Unlock must
	// return ErrNoSuchLock both when no lock holds token and when token
	// names a lock that does not cover name, per spec.md §4.7's "409 if
	// token is not on that path".
	Unlock(now time.Time, token string, name string) error

	// Discover returns the locks that cover name: the lock rooted at
	// name itself plus any ancestor lock with infinite depth. Used to
	// answer the DAV:lockdiscovery live property.
	Discover(now time.Time, name string) ([]DiscoveredLock, error)

	// Remove releases every lock rooted at or below name, called once a
	// DELETE removing name has fully succeeded (spec.md §3: "Deleting a
	// resource releases all locks rooted at or below it").
	Remove(now time.Time, name string)

	// Rename relocates every lock rooted at or below oldName so it is
	// instead rooted at the corresponding path under newName, called
	// once a MOVE has fully succeeded (spec.md §3: "Renaming a resource
	// moves all locks rooted at or below it").
	Rename(now time.Time, oldName, newName string)
}

// DiscoveredLock pairs a lock's metadata with its token, as reported by
// LockSystem.Discover.
type DiscoveredLock struct {
	LockDetails
	Token string
}
