// Package memfs is an in-memory webdav.FileSystem: every resource
// lives in a tree of nodes held in process memory, grounded on the
// teacher's gdrive.FileSystem (context-taking methods, logrus
// tracing, a go-cache negative-lookup cache) but backed by a plain
// node map instead of the Google Drive API.
package memfs

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	gocache "github.com/pmylund/go-cache"
	log "github.com/sirupsen/logrus"

	"github.com/mikea/webdavd/webdav"
)

// cachePeriod mirrors gdrive/gdrive.go's cachePeriod: the TTL on
// negatively-cached lookups (repeated Apple Finder probes for
// "._foo"/".DS_Store" siblings that will never exist).
const cachePeriod = time.Minute

var errNotDir = errors.New("memfs: not a directory")

var inodeCounter int64

func nextInode() int64 { return atomic.AddInt64(&inodeCounter, 1) }

type node struct {
	mu       sync.RWMutex
	name     string
	isDir    bool
	mode     os.FileMode
	modTime  time.Time
	data     []byte
	children map[string]*node
	dead     map[webdav.PropertyName]webdav.Property
	inode    int64
}

func newNode(name string, isDir bool, mode os.FileMode) *node {
	n := &node{name: name, isDir: isDir, mode: mode, modTime: time.Now(), inode: nextInode()}
	if isDir {
		n.children = make(map[string]*node)
	}
	return n
}

// MemFs is a concurrency-safe in-memory webdav.FileSystem.
type MemFs struct {
	mu       sync.RWMutex
	root     *node
	negative *gocache.Cache
	// Quota, if positive, bounds StatFS's reported total capacity;
	// zero means a generous fixed ceiling is reported instead (an
	// in-memory store has no real notion of a disk quota).
	Quota int64
}

// New returns an empty MemFs (just the root collection).
func New() *MemFs {
	return &MemFs{
		root:     newNode("/", true, 0755),
		negative: gocache.New(cachePeriod, cachePeriod),
	}
}

func splitPath(name string) []string {
	name = strings.Trim(name, "/")
	if name == "" {
		return nil
	}
	return strings.Split(name, "/")
}

func isFinderNoise(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(base, "._") || base == ".DS_Store"
}

// lookup walks to name, returning its parent and the node itself (nil
// if absent). Callers hold no lock; lookup takes mu for the duration
// of the walk.
func (fs *MemFs) lookup(name string) (parent, n *node, err error) {
	if isFinderNoise(name) {
		if _, hit := fs.negative.Get(name); hit {
			return nil, nil, os.ErrNotExist
		}
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	cur := fs.root
	var par *node
	for _, seg := range splitPath(name) {
		if !cur.isDir {
			return nil, nil, errNotDir
		}
		par = cur
		next, ok := cur.children[seg]
		if !ok {
			if isFinderNoise(name) {
				fs.negative.Set(name, struct{}{}, gocache.DefaultExpiration)
			}
			return par, nil, os.ErrNotExist
		}
		cur = next
	}
	return par, cur, nil
}

func (fs *MemFs) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	log.Debugf("memfs: mkdir %s", name)
	dir := path.Dir(name)
	base := path.Base(name)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	pn, err := fs.resolveLocked(dir)
	if err != nil {
		return err
	}
	if !pn.isDir {
		return errNotDir
	}
	if _, exists := pn.children[base]; exists {
		return os.ErrExist
	}
	pn.children[base] = newNode(base, true, perm)
	pn.modTime = time.Now()
	fs.negative.Delete(name)
	return nil
}

// resolveLocked is lookup's no-RLock twin, used by writers that
// already hold fs.mu for writing.
func (fs *MemFs) resolveLocked(name string) (*node, error) {
	cur := fs.root
	for _, seg := range splitPath(name) {
		if !cur.isDir {
			return nil, errNotDir
		}
		next, ok := cur.children[seg]
		if !ok {
			return nil, os.ErrNotExist
		}
		cur = next
	}
	return cur, nil
}

func (fs *MemFs) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	log.Tracef("memfs: open %s flag=%#o", name, flag)
	_, n, err := fs.lookup(name)
	if err == nil {
		if flag&os.O_EXCL != 0 {
			return nil, os.ErrExist
		}
		if flag&os.O_TRUNC != 0 {
			n.mu.Lock()
			n.data = nil
			n.modTime = time.Now()
			n.mu.Unlock()
		}
		return &memFile{fs: fs, n: n, name: name, writable: flag&(os.O_RDWR|os.O_WRONLY) != 0}, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if flag&os.O_CREATE == 0 {
		return nil, os.ErrNotExist
	}

	dir := path.Dir(name)
	base := path.Base(name)
	fs.mu.Lock()
	pn, perr := fs.resolveLocked(dir)
	if perr != nil {
		fs.mu.Unlock()
		return nil, perr
	}
	if !pn.isDir {
		fs.mu.Unlock()
		return nil, errNotDir
	}
	nn := newNode(base, false, perm)
	pn.children[base] = nn
	pn.modTime = time.Now()
	fs.mu.Unlock()
	fs.negative.Delete(name)
	return &memFile{fs: fs, n: nn, name: name, writable: true}, nil
}

func (fs *MemFs) RemoveAll(ctx context.Context, name string) error {
	log.Debugf("memfs: removeall %s", name)
	if name == "/" {
		return errors.New("memfs: cannot remove root")
	}
	dir := path.Dir(name)
	base := path.Base(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	pn, err := fs.resolveLocked(dir)
	if err != nil {
		return err
	}
	if _, ok := pn.children[base]; !ok {
		return os.ErrNotExist
	}
	delete(pn.children, base)
	pn.modTime = time.Now()
	return nil
}

func (fs *MemFs) Rename(ctx context.Context, oldName, newName string) error {
	log.Debugf("memfs: rename %s -> %s", oldName, newName)
	oldDir, oldBase := path.Dir(oldName), path.Base(oldName)
	newDir, newBase := path.Dir(newName), path.Base(newName)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldParent, err := fs.resolveLocked(oldDir)
	if err != nil {
		return err
	}
	n, ok := oldParent.children[oldBase]
	if !ok {
		return os.ErrNotExist
	}
	newParent, err := fs.resolveLocked(newDir)
	if err != nil {
		return err
	}
	if _, exists := newParent.children[newBase]; exists {
		return os.ErrExist
	}
	delete(oldParent.children, oldBase)
	n.name = newBase
	newParent.children[newBase] = n
	oldParent.modTime = time.Now()
	newParent.modTime = time.Now()
	return nil
}

func (fs *MemFs) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	_, n, err := fs.lookup(name)
	if err != nil {
		return nil, err
	}
	return &nodeInfo{n}, nil
}

// StatFS implements webdav.StatFS: aggregate byte usage across the
// whole tree, for DAV:quota-used-bytes / DAV:quota-available-bytes.
func (fs *MemFs) StatFS(ctx context.Context) (usedBytes, availableBytes int64, err error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	used := sumSizeLocked(fs.root)
	total := fs.Quota
	if total <= 0 {
		total = 1 << 40
	}
	available := total - used
	if available < 0 {
		available = 0
	}
	return used, available, nil
}

func sumSizeLocked(n *node) int64 {
	if !n.isDir {
		return int64(len(n.data))
	}
	var total int64
	for _, c := range n.children {
		total += sumSizeLocked(c)
	}
	return total
}

type nodeInfo struct{ n *node }

func (ni *nodeInfo) Name() string { return ni.n.name }
func (ni *nodeInfo) Size() int64 {
	ni.n.mu.RLock()
	defer ni.n.mu.RUnlock()
	return int64(len(ni.n.data))
}
func (ni *nodeInfo) Mode() os.FileMode {
	if ni.n.isDir {
		return ni.n.mode | os.ModeDir
	}
	return ni.n.mode
}
func (ni *nodeInfo) ModTime() time.Time { return ni.n.modTime }
func (ni *nodeInfo) IsDir() bool        { return ni.n.isDir }
func (ni *nodeInfo) Sys() interface{}   { return ni.n.inode }

// memFile is the webdav.File handle OpenFile returns: an independent
// read/write cursor over a shared *node.
type memFile struct {
	fs       *MemFs
	n        *node
	name     string
	offset   int64
	writable bool
	closed   bool
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

func (f *memFile) Read(p []byte) (int, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	if f.offset >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, os.ErrPermission
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	end := f.offset + int64(len(p))
	if end > int64(len(f.n.data)) {
		grown := make([]byte, end)
		copy(grown, f.n.data)
		f.n.data = grown
	}
	n := copy(f.n.data[f.offset:end], p)
	f.offset += int64(n)
	f.n.modTime = time.Now()
	return n, nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	f.n.mu.RLock()
	size := int64(len(f.n.data))
	f.n.mu.RUnlock()
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	case io.SeekEnd:
		f.offset = size + offset
	default:
		return 0, errors.New("memfs: invalid whence")
	}
	if f.offset < 0 {
		f.offset = 0
		return 0, errors.New("memfs: negative seek")
	}
	return f.offset, nil
}

func (f *memFile) Readdir(count int) ([]os.FileInfo, error) {
	if !f.n.isDir {
		return nil, errNotDir
	}
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	infos := make([]os.FileInfo, 0, len(f.n.children))
	for _, c := range f.n.children {
		infos = append(infos, &nodeInfo{c})
	}
	return infos, nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return &nodeInfo{f.n}, nil
}

// ETag implements webdav.ETager with a strong tag derived from the
// node's synthetic inode, size and mtime, so two nodes never collide
// even if their content happens to match.
func (f *memFile) ETag(ctx context.Context) (string, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	io.WriteString(h, f.n.modTime.String())
	var buf [8]byte
	putInt64(buf[:], f.n.inode)
	h.Write(buf[:])
	putInt64(buf[:], int64(len(f.n.data)))
	h.Write(buf[:])
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`, nil
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// DeadProps implements webdav.DeadPropsHolder.
func (f *memFile) DeadProps() (map[webdav.PropertyName]webdav.Property, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	out := make(map[webdav.PropertyName]webdav.Property, len(f.n.dead))
	for k, v := range f.n.dead {
		out[k] = v
	}
	return out, nil
}

// Patch implements webdav.DeadPropsHolder: every operation in patches
// is applied, or (if a later one turns out to fail) none are, since
// storing a property in a map can't itself fail.
func (f *memFile) Patch(patches []webdav.Proppatch) ([]webdav.Propstat, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.n.dead == nil {
		f.n.dead = make(map[webdav.PropertyName]webdav.Property)
	}
	var applied []webdav.Property
	for _, op := range patches {
		for _, p := range op.Props {
			if op.Remove {
				delete(f.n.dead, p.XMLName)
			} else {
				f.n.dead[p.XMLName] = p
			}
			applied = append(applied, p)
		}
	}
	if len(applied) == 0 {
		return nil, nil
	}
	return []webdav.Propstat{{Props: applied, Status: 200}}, nil
}
