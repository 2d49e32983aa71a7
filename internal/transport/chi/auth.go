package chi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
)

// APIKeyHeader carries the caller's API token.
const APIKeyHeader = "x-api-key"

// exemptPaths are routes that bypass authentication.
var exemptPaths = map[string]struct{}{
	"/info":       {},
	"/health":     {},
	"/metrics":    {},
	"/auth/login": {},
}

type userKey struct{}

func contextWithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// userFrom returns the authenticated caller. Only valid behind AuthMiddleware.
func userFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(userKey{}).(domain.User)
	return u
}

// apiKey reads x-api-key, falling back to a Bearer Authorization header.
func apiKey(r *http.Request) string {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return k
	}
	const bearerPrefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return auth[len(bearerPrefix):]
	}
	return ""
}

// AuthMiddleware resolves the API key to a user and stores it in the request context.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := exemptPaths[r.URL.Path]; ok || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := apiKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing "+APIKeyHeader)
			return
		}
		u, err := s.accounts.Authenticate(r.Context(), key)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}

		ctx := contextWithUser(r.Context(), u)
		ctx = logger.With(ctx, zap.String("user", u.Username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loginLimiter throttles login attempts per client address.
type loginLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// maxTrackedClients bounds the limiter map; idle clients are dropped past it.
const maxTrackedClients = 4096

func newLoginLimiter(limit rate.Limit, burst int) *loginLimiter {
	return &loginLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *loginLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[client]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.prune()
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = lim
	}
	return lim.Allow()
}

// prune forgets clients whose bucket has refilled.
func (l *loginLimiter) prune() {
	for k, lim := range l.limiters {
		if lim.Tokens() >= float64(l.burst) {
			delete(l.limiters, k)
		}
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
