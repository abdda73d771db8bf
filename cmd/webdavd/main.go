// Command webdavd serves an in-memory tree over WebDAV (RFC 4918).
// It is a thin host around the webdav package: everything it stores
// lives only in the process's memory and is gone on restart.
package main

import (
	"crypto/subtle"
	"flag"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mikea/webdavd/webdav"
	"github.com/mikea/webdavd/webdav/memfs"
	"github.com/mikea/webdavd/webdav/memls"
)

var (
	addr   = flag.String("addr", ":8080", "address to listen on")
	prefix = flag.String("prefix", "", "path prefix stripped from incoming requests, e.g. /dav")
	user   = flag.String("user", "", "basic auth user (leave empty to disable auth)")
	pass   = flag.String("pass", "", "basic auth password")
	debug  = flag.Bool("debug", false, "enable debug logging")
	trace  = flag.Bool("trace", false, "enable trace logging (implies -debug)")

	fakeLocks = flag.Bool("fake-locks", false, "always grant LOCK requests instead of enforcing real conflicts")

	maxXMLBody       = flag.Int64("max-xml-body", 64<<10, "maximum PROPFIND/PROPPATCH/LOCK request body size, in bytes")
	rejectInfinite   = flag.Bool("reject-infinite-propfind", true, "reject PROPFIND Depth: infinity with 403 instead of walking the whole tree")
	lockTimeout      = flag.Duration("lock-timeout", 10*time.Second, "default lock duration granted when a LOCK request sends no Timeout header")
	lockTimeoutMax   = flag.Duration("lock-timeout-max", 600*time.Second, "upper bound a LOCK request's Timeout header is clamped to")
)

func main() {
	flag.Parse()

	if *trace {
		log.SetLevel(log.TraceLevel)
	} else if *debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var lockSystem webdav.LockSystem
	if *fakeLocks {
		lockSystem = memls.FakeLs{}
	} else {
		lockSystem = memls.New()
	}

	h := &webdav.Handler{
		FileSystem:                  memfs.New(),
		LockSystem:                  lockSystem,
		Prefix:                      *prefix,
		MaxXMLRequestBody:           *maxXMLBody,
		RejectInfiniteDepthPropfind: *rejectInfinite,
		LockTimeoutDefault:          *lockTimeout,
		LockTimeoutMax:              *lockTimeoutMax,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
			} else {
				log.Debugf("%s %s", r.Method, r.URL.Path)
			}
		},
	}

	var handler http.Handler = h
	if *user != "" {
		handler = basicAuth(*user, *pass, h)
	}

	log.Infof("webdavd listening on %s (prefix %q)", *addr, *prefix)
	log.Fatal(http.ListenAndServe(*addr, handler))
}

// basicAuth wraps next with HTTP basic authentication against a single
// fixed user/pass pair, the same shape of middleware
// cmd/gdrive-webdav used in front of its OAuth2 flow.
func basicAuth(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="webdavd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
