// Package observability builds the daemon's operational HTTP surface:
// Prometheus metrics, a liveness probe and optional pprof endpoints.
package observability

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the operational endpoints.
//
// Security: bind to localhost (default). A non-loopback address requires a
// Token unless AllowInsecure is set.
type Config struct {
	Addr          string
	Pprof         bool
	Token         string
	AllowInsecure bool
}

// Check rejects configurations that would expose the endpoints unguarded.
func (c Config) Check() error {
	if strings.TrimSpace(c.Token) != "" || c.AllowInsecure || isLoopbackAddr(c.Addr) {
		return nil
	}
	return fmt.Errorf("metrics.listen %q is not loopback: set metrics.token or metrics.allow_insecure", c.Addr)
}

// NewMux serves /metrics, /healthz and, when enabled, /debug/pprof/.
// Every route requires the token when one is set.
func NewMux(c Config) *http.ServeMux {
	wrap := func(h http.Handler) http.Handler { return withAuth(c.Token, h) }

	mux := http.NewServeMux()
	mux.Handle("/metrics", wrap(promhttp.Handler()))
	mux.Handle("/healthz", wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})))
	if c.Pprof {
		mux.Handle("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
