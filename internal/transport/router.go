package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/config"
	"github.com/pitabwire/docflow/internal/integrity"
	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config   *config.Config
	Verifier TokenVerifier
	// Roles restricts token role claims to the project policy.
	Roles     RoleVocabulary
	Service   *workflow.Service
	Checker   *integrity.Checker
	API       *openapi.Index
	Metrics   *observability.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, and the API description
// bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	// Public routes.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if m := deps.Config.Observability.Metrics; m.Enabled {
		metrics := observability.Handler()
		if deps.Gatherer != nil {
			metrics = observability.HandlerFor(deps.Gatherer)
		}
		r.Method(http.MethodGet, m.Path, metrics)
	}
	if deps.API != nil {
		r.Method(http.MethodGet, "/openapi.json", deps.API.Handler())
	}

	mapper := NewClaimMapper(deps.Config.Identity.ClaimPaths, deps.Roles)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Verifier, mapper, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(MaxBodyBytes(deps.Config.Server.MaxBodyBytes))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		svc := deps.Service
		executor := svc.Executor()
		registry := executor.Registry()

		r.Route("/v1/workflows", func(r chi.Router) {
			r.Get("/", handleListWorkflows(registry))
			r.Get("/{entityType}", handleGetWorkflow(registry))
			r.Get("/{entityType}/integrity", handleWorkflowIntegrity(registry, deps.Checker))
			r.Get("/{entityType}/states/{state}/actions", handleAvailableActions(executor))
			r.Post("/{entityType}/evaluate", handleEvaluate(svc, deps.API))
		})

		r.Route("/v1/documents", func(r chi.Router) {
			r.Post("/", handleCreateDocument(svc, deps.API))
			r.Get("/", handleListDocuments(svc))
			r.Get("/{documentId}", handleGetDocument(svc))
			r.Post("/{documentId}/transitions", handleApplyTransition(svc, deps.API))
			r.Get("/{documentId}/history", handleDocumentHistory(svc))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: &model.ErrorEnvelope{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
			TraceID: observability.TraceIDFromContext(r.Context()),
		}})
	})

	return r
}
