package memls

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikea/webdavd/webdav"
)

// FakeLs is a webdav.LockSystem that grants every lock request and
// never actually tracks conflicts. It exists for read-mostly or
// single-client deployments where clients (mainly older Microsoft
// Office/WebDAV clients) refuse to operate against a server that
// doesn't implement LOCK at all, but true lock enforcement isn't
// needed.
//
// Because it keeps no state between calls, a lock's depth and scope
// are encoded directly into its token, the same trick
// webdav-handler-rs's FakeLs uses: "opaquelocktoken:<uuid>/<depth>/<scope>".
// Refresh and Discover decode them back out of the token instead of a
// map lookup.
type FakeLs struct{}

const (
	fakeDepthZero      = "0"
	fakeDepthInfinity  = "I"
	fakeScopeExclusive = "E"
	fakeScopeShared    = "S"
)

func encodeFakeToken(details webdav.LockDetails) string {
	depth := fakeDepthInfinity
	if details.Depth == 0 {
		depth = fakeDepthZero
	}
	scope := fakeScopeExclusive
	if details.Shared {
		scope = fakeScopeShared
	}
	return "opaquelocktoken:" + uuid.New().String() + "/" + depth + "/" + scope
}

// decodeFakeToken recovers the depth/scope a token was minted with. ok
// is false for a token this FakeLs (or a previous instance of it)
// didn't mint.
func decodeFakeToken(token string) (depth int, shared bool, ok bool) {
	const p = "opaquelocktoken:"
	if !strings.HasPrefix(token, p) {
		return 0, false, false
	}
	parts := strings.Split(token[len(p):], "/")
	if len(parts) != 3 {
		return 0, false, false
	}
	switch parts[1] {
	case fakeDepthZero:
		depth = 0
	case fakeDepthInfinity:
		depth = -1
	default:
		return 0, false, false
	}
	switch parts[2] {
	case fakeScopeExclusive:
		shared = false
	case fakeScopeShared:
		shared = true
	default:
		return 0, false, false
	}
	return depth, shared, true
}

func (FakeLs) Create(now time.Time, details webdav.LockDetails) (string, error) {
	return encodeFakeToken(details), nil
}

// Confirm always grants: a deployment choosing FakeLs has already
// decided lock conflicts don't matter for its workload.
func (FakeLs) Confirm(now time.Time, name string, conditions ...webdav.Condition) (webdav.Releaser, error) {
	return noopReleaser{}, nil
}

func (FakeLs) Refresh(now time.Time, token string, duration time.Duration, name string) (webdav.LockDetails, error) {
	depth, shared, ok := decodeFakeToken(token)
	if !ok {
		return webdav.LockDetails{}, webdav.ErrNoSuchLock
	}
	return webdav.LockDetails{
		Root:      name,
		Depth:     depth,
		Duration:  duration,
		Shared:    shared,
		ZeroDepth: depth == 0,
	}, nil
}

// Unlock cannot enforce the "token must be on this path" rule (spec.md
// §4.7): a token minted by encodeFakeToken carries no root, only depth
// and scope, so name goes unused here. A deployment that needs that
// check enforced should use MemLs instead.
func (FakeLs) Unlock(now time.Time, token string, name string) error {
	if _, _, ok := decodeFakeToken(token); !ok {
		return webdav.ErrNoSuchLock
	}
	return nil
}

// Remove is a no-op: FakeLs keeps no per-path state to drop.
func (FakeLs) Remove(now time.Time, name string) {}

// Rename is a no-op: FakeLs keeps no per-path state to relocate.
func (FakeLs) Rename(now time.Time, oldName, newName string) {}

// Discover always reports no locks: without per-path state, FakeLs
// cannot know what it has "granted" for a given name, and reporting
// none is the conservative, spec-compliant answer (an empty
// DAV:lockdiscovery is always valid).
func (FakeLs) Discover(now time.Time, name string) ([]webdav.DiscoveredLock, error) {
	return nil, nil
}
