package transport

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/model"
)

var (
	errUnknownSigningKey = errors.New("unknown signing key")
	errDisallowedAlg     = errors.New("signing algorithm not allowed")
	errMissingKeyID      = errors.New("token header has no kid")
)

// KeySource resolves a token's key id to the provider's public key.
type KeySource interface {
	GetKey(kid string) (crypto.PublicKey, error)
}

// JWKSClient is a KeySource backed by the identity provider's JWKS document.
// Keys are cached for ttl; when a refresh fails, previously fetched keys keep
// verifying tokens.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	lastFetch time.Time
}

// NewJWKSClient creates a JWKS client for url with the given cache TTL.
func NewJWKSClient(url string, ttl time.Duration) *JWKSClient {
	return NewJWKSClientWithLogger(url, ttl, nil)
}

// NewJWKSClientWithLogger is NewJWKSClient with a logger for refresh failures
// and rejected keys.
func NewJWKSClientWithLogger(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("jwks"),
		keys:       make(map[string]crypto.PublicKey),
	}
}

// GetKey returns the signing key for kid, refreshing the set when kid is
// unknown or the cache is stale.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	key, ok, fresh := c.cached(kid)
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		if ok {
			c.logger.Warn("refresh failed, verifying with cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: %w", err)
	}

	if key, ok, _ = c.cached(kid); !ok {
		return nil, fmt.Errorf("jwks: %w %q", errUnknownSigningKey, kid)
	}
	return key, nil
}

func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok, time.Since(c.lastFetch) <= c.ttl
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	throttled := len(c.keys) > 0 && time.Since(c.lastFetch) < c.minRefresh
	c.mu.RUnlock()
	if throttled {
		return nil
	}

	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for i, raw := range doc.Keys {
		// Keys are decoded one at a time so a single unsupported entry
		// does not invalidate the rest of the set.
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			c.logger.Warn("key skipped", zap.Int("index", i), zap.Error(err))
			continue
		}
		switch {
		case jwk.KeyID == "":
			continue
		case jwk.Use != "" && jwk.Use != "sig":
			continue
		case !jwk.IsPublic() || !jwk.Valid():
			c.logger.Warn("key skipped", zap.String("kid", jwk.KeyID), zap.String("reason", "not a valid public key"))
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()
	return nil
}

// TokenVerifier checks a bearer token and returns its verified claims.
// Failures are *model.ErrorEnvelope values with code UNAUTHORIZED.
type TokenVerifier interface {
	Verify(token string) (map[string]any, error)
}

// JWTVerifier verifies signed JWTs against a KeySource using the configured
// issuer, audience, algorithms, and clock skew. Tokens must carry exp.
type JWTVerifier struct {
	keys       KeySource
	algorithms []string
	parser     *jwt.Parser
}

// NewJWTVerifier creates a verifier for the identity provider in cfg.
func NewJWTVerifier(cfg config.IdentityConfig, keys KeySource) *JWTVerifier {
	return &JWTVerifier{
		keys:       keys,
		algorithms: slices.Clone(cfg.Algorithms),
		parser: jwt.NewParser(
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(cfg.ClockSkew),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFor); err != nil {
		return nil, model.NewUnauthorizedError(rejectionMessage(err))
	}
	return claims, nil
}

// keyFor gates the algorithm before any key is fetched, which also rules out
// "none" and HMAC tokens since neither is ever configured.
func (v *JWTVerifier) keyFor(t *jwt.Token) (any, error) {
	if !slices.Contains(v.algorithms, t.Method.Alg()) {
		return nil, errDisallowedAlg
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errMissingKeyID
	}
	return v.keys.GetKey(kid)
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, errDisallowedAlg):
		return "Disallowed signing algorithm"
	case errors.Is(err, errUnknownSigningKey), errors.Is(err, errMissingKeyID):
		return "Unknown signing key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}

// RoleVocabulary reports whether a role id belongs to the project policy.
// *capability.Resolver satisfies it.
type RoleVocabulary interface {
	Known(id string) bool
}

// Default claim paths used when identity.claim_paths leaves a field unset.
var defaultClaimPaths = map[string]string{
	"subject_id": "sub",
	"email":      "email",
	"tenant_id":  "tenant_id",
	"roles":      "roles",
}

// ClaimMapper turns verified claims into a caller identity. Paths use dot
// notation so nested provider claims such as "realm_access.roles" resolve.
type ClaimMapper struct {
	paths map[string]string
	roles RoleVocabulary
}

// NewClaimMapper overlays paths on the default claim paths. A nil vocabulary
// accepts every role claim.
func NewClaimMapper(paths map[string]string, roles RoleVocabulary) *ClaimMapper {
	merged := make(map[string]string, len(defaultClaimPaths))
	for k, v := range defaultClaimPaths {
		merged[k] = v
	}
	for k, v := range paths {
		if v != "" {
			merged[k] = v
		}
	}
	return &ClaimMapper{paths: merged, roles: roles}
}

// Map builds the RequestContext for claims. Role claims outside the
// vocabulary are dropped and returned as ignored. A token without subject or
// tenant is unauthorized; one that grants no project role is forbidden.
func (m *ClaimMapper) Map(claims map[string]any) (rctx *model.RequestContext, ignored []string, err error) {
	rctx = &model.RequestContext{
		SubjectID: extractClaimString(claims, m.paths["subject_id"]),
		Email:     extractClaimString(claims, m.paths["email"]),
		TenantID:  extractClaimString(claims, m.paths["tenant_id"]),
		Claims:    claims,
	}
	if rctx.Validate() != nil {
		return nil, nil, model.NewUnauthorizedError("Token is missing subject or tenant claims")
	}

	for _, role := range extractClaimStringSlice(claims, m.paths["roles"]) {
		if slices.Contains(rctx.Roles, role) {
			continue
		}
		if m.roles != nil && !m.roles.Known(role) {
			ignored = append(ignored, role)
			continue
		}
		rctx.Roles = append(rctx.Roles, role)
	}
	if len(rctx.Roles) == 0 {
		return nil, ignored, model.NewForbiddenError("Token grants no project role")
	}
	return rctx, ignored, nil
}

// Authenticate returns middleware that verifies the bearer token and stores
// the caller's model.RequestContext in the request context.
func Authenticate(verifier TokenVerifier, mapper *ClaimMapper, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err == nil && verifier == nil {
				err = model.NewUnauthorizedError("Authentication is not configured")
			}
			var claims map[string]any
			if err == nil {
				claims, err = verifier.Verify(token)
			}
			var rctx *model.RequestContext
			if err == nil {
				var ignored []string
				rctx, ignored, err = mapper.Map(claims)
				if len(ignored) > 0 {
					observability.RequestLogger(r.Context(), logger).Debug("ignoring unknown role claims",
						zap.Strings("roles", ignored))
				}
			}
			if err != nil {
				WriteError(w, r, err)
				return
			}

			rctx.CorrelationID = CorrelationIDFrom(r.Context())
			rctx.TraceID = observability.TraceIDFromContext(r.Context())
			observability.AnnotateCaller(r.Context(), rctx)
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(r.Context(), rctx)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", model.NewUnauthorizedError("Missing authorization header")
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", model.NewUnauthorizedError("Invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// extractClaim walks a dot-separated path through nested claim objects.
func extractClaim(claims map[string]any, path string) any {
	if claims == nil || path == "" {
		return nil
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[part]; !ok {
			return nil
		}
	}
	return cur
}

func extractClaimString(claims map[string]any, path string) string {
	v, _ := extractClaim(claims, path).(string)
	return v
}

// extractClaimStringSlice accepts a JSON array of strings or a single
// space-separated string.
func extractClaimStringSlice(claims map[string]any, path string) []string {
	switch raw := extractClaim(claims, path).(type) {
	case []any:
		result := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				result = append(result, s)
			}
		}
		return result
	case []string:
		return append([]string(nil), raw...)
	case string:
		return strings.Fields(raw)
	default:
		return nil
	}
}
