package httpmiddleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max requests per client and window. Zero disables the limiter.
	Max int
	// Window length. Counters are aligned to multiples of Window.
	Window time.Duration
	// Prefix of the Redis counter keys.
	Prefix string

	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Without it only RemoteAddr identifies a client.
	TrustedProxies []netip.Prefix
	// KnownKey reports whether an API key is genuine. Unknown keys are
	// limited by address, so rotating the header buys no fresh bucket. Nil
	// accepts every key.
	KnownKey func(key string) bool
	// KeyFunc identifies the client. Defaults to ClientKey with
	// TrustedProxies and KnownKey.
	KeyFunc func(r *http.Request) string

	now func() time.Time
}

// ClientKey identifies a client by its API key, or by its address when the
// request carries no key that known accepts. Keys are hashed so they never
// reach Redis in clear. Forwarding headers are honoured only when the peer is
// in trusted.
func ClientKey(trusted []netip.Prefix, known func(string) bool) func(r *http.Request) string {
	return func(r *http.Request) string {
		if key := r.Header.Get("api_key"); key != "" && (known == nil || known(key)) {
			sum := sha256.Sum256([]byte(key))
			return "key:" + hex.EncodeToString(sum[:8])
		}
		return "ip:" + clientIP(r, trusted)
	}
}

func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !isTrusted(host, trusted) {
		return host
	}

	// The rightmost hop not added by a trusted proxy is the client.
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !isTrusted(hop, trusted) || i == 0 {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return host
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RateLimit limits every client to cfg.Max requests per fixed window. The
// counters live in Redis so that every replica shares them. If Redis is
// unreachable requests are let through.
func RateLimit(cfg RateLimitConfig, rdb redis.Cmdable) Middleware {
	if cfg.Max <= 0 || rdb == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientKey(cfg.TrustedProxies, cfg.KnownKey)
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			now := cfg.now()
			start := now.Truncate(cfg.Window)
			reset := start.Add(cfg.Window)
			key := cfg.Prefix + ":" + cfg.KeyFunc(r) + ":" + strconv.FormatInt(start.Unix(), 10)

			var incr *redis.IntCmd
			if _, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				incr = pipe.Incr(ctx, key)
				pipe.Expire(ctx, key, cfg.Window)
				return nil
			}); err != nil {
				zctx.From(ctx).Warn("Rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			count := incr.Val()
			remaining := max(int64(cfg.Max)-count, 0)
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if count <= int64(cfg.Max) {
				next.ServeHTTP(w, r)
				return
			}

			retry := int64((reset.Sub(now) + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.FormatInt(retry, 10))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusTooManyRequests) })
				e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
			})
			_, _ = w.Write(e.Bytes())
		})
	}
}
