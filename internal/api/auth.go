package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"fieldsync/internal/config"

	"github.com/google/uuid"
)

const (
	apiKeyHeaderDefault = "x-api-key"
	requestIDHeader     = "x-request-id"
	clientKeyUnknown    = "unknown"

	PermReadQueue   = "read:queue"
	PermWriteQueue  = "write:queue"
	PermWriteDevice = "write:device"
)

var (
	errMissingAPIKey    = errors.New("missing api key header")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

type ctxKey struct{}

// requestInfo is attached by the logging middleware and filled in by later layers.
type requestInfo struct {
	id     string
	client string
}

func infoFrom(ctx context.Context) *requestInfo {
	if v, ok := ctx.Value(ctxKey{}).(*requestInfo); ok {
		return v
	}
	return nil
}

// HTTPAuth checks the API key header and applies the per-client rate limit.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled {
			client, err := a.checkAuth(r)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
			if info := infoFrom(r.Context()); info != nil {
				info.client = client.Name
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) headerName() string {
	h := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if h == "" {
		return apiKeyHeaderDefault
	}
	return h
}

func (a *HTTPAuth) checkAuth(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}

	client, ok := a.lookup(apiKey)
	if !ok {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	if err := checkPermissions(client, r); err != nil {
		return config.APIClientKey{}, err
	}
	return client, nil
}

// lookup compares against every configured key so timing does not leak which prefix matched.
func (a *HTTPAuth) lookup(apiKey string) (config.APIClientKey, bool) {
	var found config.APIClientKey
	ok := false
	for key, client := range a.clients {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			found, ok = client, true
		}
	}
	return found, ok
}

func checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermission(r)
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermission(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/api/v1/device":
		return PermWriteDevice
	case strings.HasPrefix(path, "/api/v1/queue"):
		if r.Method == http.MethodGet {
			return PermReadQueue
		}
		return PermWriteQueue
	case path == "/api/v1/health", path == "/api/v1/actions":
		return PermReadQueue
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// requestID returns the caller supplied id or a fresh one.
func requestID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(requestIDHeader)); v != "" {
		return v
	}
	return uuid.NewString()
}
