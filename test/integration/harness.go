// Package integration provides a reusable test harness for end-to-end
// integration testing of the docflow server. It starts a full HTTP server
// with in-memory document storage, a test JWT issuer, and optionally a
// miniredis-backed idempotency store.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/capability"
	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/internal/integrity"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/internal/transport"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// TestHarness encapsulates a fully wired docflow instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Registry    *definition.Registry
	Resolver    *capability.Resolver
	Store       *workflow.MemoryDocumentStore
	Idempotency workflow.IdempotencyStore
	Service     *workflow.Service
	Metrics     *observability.Metrics
	Redis       *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	policyFile     string
	redis          bool
	handlerTimeout time.Duration
	maxBodyBytes   int64
	logger         *zap.Logger
}

// WithDefinitions adds workflow directories loaded after the built-ins.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPolicyFile replaces the embedded role policy.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithRedisIdempotency stores idempotency records in a miniredis instance
// instead of memory.
func WithRedisIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxBodyBytes sets the request body limit.
func WithMaxBodyBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxBodyBytes = n
	}
}

// WithLogger routes server logs to logger.
func WithLogger(logger *zap.Logger) HarnessOption {
	return func(c *harnessConfig) {
		c.logger = logger
	}
}

// NewTestHarness creates and starts a full docflow test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Load the role policy.
	var err error
	if hc.policyFile != "" {
		h.Resolver, err = capability.LoadPolicyFile(hc.policyFile)
	} else {
		h.Resolver, err = capability.DefaultResolver()
	}
	if err != nil {
		t.Fatalf("load role policy: %v", err)
	}

	// Step 2: Load definitions and build the registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadBuiltin()
	if err != nil {
		t.Fatalf("load built-in definitions: %v", err)
	}
	if len(hc.definitionDirs) > 0 {
		extra, err := loader.LoadAll(hc.definitionDirs)
		if err != nil {
			t.Fatalf("load definitions: %v", err)
		}
		defs = append(defs, extra...)
	}
	checker := integrity.NewChecker(h.Resolver)
	for _, def := range defs {
		if report := checker.Validate(def); !report.Valid {
			t.Fatalf("workflow %s failed integrity checks: %v", def.EntityType, report.Errors)
		}
	}
	h.Registry, err = definition.NewRegistry(h.Resolver, defs)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	// Step 3: Build stores.
	h.Store = workflow.NewMemoryDocumentStore()
	var idemPinger observability.Pinger
	if hc.redis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		redisStore := workflow.NewRedisIdempotencyStore(client)
		h.Idempotency = redisStore
		idemPinger = redisStore
	} else {
		h.Idempotency = workflow.NewMemoryIdempotencyStore()
	}

	// Step 4: Build the service.
	reg := prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(reg)
	h.Service = workflow.NewService(
		workflow.NewExecutor(h.Registry, h.Resolver),
		h.Resolver,
		h.Store,
		workflow.ServiceOptions{
			Idempotency: h.Idempotency,
			Logger:      hc.logger,
			Metrics:     h.Metrics,
		},
	)

	api, err := openapi.Load()
	if err != nil {
		t.Fatalf("load API description: %v", err)
	}

	// Step 5: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 6: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	if hc.maxBodyBytes > 0 {
		h.cfg.Server.MaxBodyBytes = hc.maxBodyBytes
	}
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()

	// Step 7: Build router with full middleware chain.
	jwks := transport.NewJWKSClientWithLogger(h.issuer.JWKSURL(), time.Hour, hc.logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:   h.cfg,
		Verifier: transport.NewJWTVerifier(h.cfg.Identity, jwks),
		Roles:    h.Resolver,
		Service:  h.Service,
		Checker:  checker,
		API:      api,
		Metrics:  h.Metrics,
		Gatherer: reg,
		Logger:   hc.logger,
		Readiness: observability.ReadinessChecks{
			WorkflowsLoaded:  func() bool { return h.Registry.Len() > 0 },
			APISpecLoaded:    func() bool { return len(api.OperationIDs()) > 0 },
			IdempotencyStore: idemPinger,
		},
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// Do performs a request with an arbitrary method and optional headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and error code of an error response and
// returns the envelope.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error == nil {
		t.Fatal("response has no error envelope")
	}
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
	return body.Error
}

// --- Document helpers ---

// CreateDocument creates a document and returns its descriptor.
func (h *TestHarness) CreateDocument(t *testing.T, token, entityType, title string) model.DocumentDescriptor {
	t.Helper()
	resp := h.POST("/v1/documents", map[string]any{"entity_type": entityType, "title": title}, token)
	var doc model.DocumentDescriptor
	h.AssertJSON(t, resp, http.StatusCreated, &doc)
	return doc
}

// Transition applies action to a document and returns the raw response.
func (h *TestHarness) Transition(documentID, action string, evidence model.Evidence, token string) *http.Response {
	h.t.Helper()
	return h.POST("/v1/documents/"+documentID+"/transitions", map[string]any{
		"action":   action,
		"evidence": evidence,
	}, token)
}

// MustTransition applies action and fails the test unless it succeeds.
func (h *TestHarness) MustTransition(t *testing.T, documentID, action string, evidence model.Evidence, token string) model.TransitionOutcome {
	t.Helper()
	var out model.TransitionOutcome
	h.AssertJSON(t, h.Transition(documentID, action, evidence, token), http.StatusOK, &out)
	return out
}

// --- Default test claims ---

// ArchitectClaims returns TestClaims for an architect.
func ArchitectClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-architect",
		TenantID:  "acme-build",
		Email:     "architect@acme.example.com",
		Roles:     []string{"architect"},
	}
}

// ProjectManagerClaims returns TestClaims for a project manager.
func ProjectManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-pm",
		TenantID:  "acme-build",
		Email:     "pm@acme.example.com",
		Roles:     []string{"project_manager"},
	}
}

// ClientClaims returns TestClaims for a client reviewer.
func ClientClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-client",
		TenantID:  "acme-build",
		Email:     "client@customer.example.com",
		Roles:     []string{"client"},
	}
}

// OwnerClaims returns TestClaims for the tenant owner.
func OwnerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-owner",
		TenantID:  "acme-build",
		Email:     "owner@acme.example.com",
		Roles:     []string{"owner"},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
