package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/docflow/internal/observability"
	"github.com/pitabwire/docflow/model"
)

const defaultMaxCASAttempts = 3

// Permission verbs checked against "<entity_type>:<verb>".
const (
	VerbCreate = "create"
	VerbView   = "view"
)

// ServiceOptions tunes a Service. The zero value is usable: no idempotency,
// three CAS attempts, no logging, no metrics.
type ServiceOptions struct {
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
	MaxCASAttempts int
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// CreateDocumentInput is the body of a document creation request.
type CreateDocumentInput struct {
	EntityType string `json:"entity_type"`
	Title      string `json:"title"`
}

// TransitionInput is one requested action on a stored document.
type TransitionInput struct {
	Action         string         `json:"action"`
	ActorRole      string         `json:"actor_role,omitempty"`
	Evidence       model.Evidence `json:"evidence"`
	IdempotencyKey string         `json:"-"`
}

// Service applies executor decisions to stored documents. Every write goes
// through the store's compare-and-swap; on a version conflict the document is
// re-read and the decision re-made against its new state.
type Service struct {
	executor *Executor
	resolver PermissionResolver
	store    DocumentStore
	idem     IdempotencyStore
	idemTTL  time.Duration
	maxCAS   int
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newID    func() string
}

// NewService creates a document Service.
func NewService(executor *Executor, resolver PermissionResolver, store DocumentStore, opts ServiceOptions) *Service {
	s := &Service{
		executor: executor,
		resolver: resolver,
		store:    store,
		idem:     opts.Idempotency,
		idemTTL:  opts.IdempotencyTTL,
		maxCAS:   opts.MaxCASAttempts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	if s.maxCAS < 1 {
		s.maxCAS = defaultMaxCASAttempts
	}
	if s.idemTTL <= 0 {
		s.idemTTL = 24 * time.Hour
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Executor returns the decision function the service applies.
func (s *Service) Executor() *Executor {
	return s.executor
}

// Create stores a new document of in.EntityType in its workflow's initial
// state at version 1.
func (s *Service) Create(ctx context.Context, rctx *model.RequestContext, in CreateDocumentInput) (model.DocumentDescriptor, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.create",
		observability.AttrEntityType.String(in.EntityType),
		observability.AttrTenantID.String(rctx.TenantID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	wf, ok := s.executor.Registry().Get(in.EntityType)
	if !ok {
		err = model.NewWorkflowNotFoundError(in.EntityType)
		return model.DocumentDescriptor{}, err
	}
	if !s.permitted(rctx, in.EntityType, VerbCreate) {
		err = model.NewForbiddenError(fmt.Sprintf("not permitted to create %s documents", in.EntityType))
		return model.DocumentDescriptor{}, err
	}

	now := s.now()
	doc := model.Document{
		ID:         s.newID(),
		EntityType: in.EntityType,
		TenantID:   rctx.TenantID,
		Title:      in.Title,
		State:      wf.Catalog().Initial(),
		Version:    1,
		CreatedBy:  rctx.SubjectID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err = s.store.Create(ctx, doc); err != nil {
		return model.DocumentDescriptor{}, err
	}

	span.SetAttributes(observability.DocumentAttributes(doc)...)
	s.metrics.RecordDocumentCreated(doc.EntityType)
	observability.RequestLogger(ctx, s.logger).Info("document created", observability.DocumentFields(doc)...)
	return s.describe(doc, rctx.Roles), nil
}

// Get returns a document with the actions its viewer may take.
func (s *Service) Get(ctx context.Context, rctx *model.RequestContext, documentID string) (model.DocumentDescriptor, error) {
	doc, err := s.load(ctx, rctx, documentID)
	if err != nil {
		return model.DocumentDescriptor{}, err
	}
	return s.describe(doc, rctx.Roles), nil
}

// List returns a page of the tenant's documents the caller may view.
// filters.EntityType is required.
func (s *Service) List(ctx context.Context, rctx *model.RequestContext, filters model.DocumentFilters) ([]model.DocumentDescriptor, int, error) {
	if filters.EntityType == "" {
		return nil, 0, model.NewValidationError([]model.FieldError{
			{Field: "entity_type", Code: "REQUIRED", Message: "entity_type is required"},
		})
	}
	if _, ok := s.executor.Registry().Get(filters.EntityType); !ok {
		return nil, 0, model.NewWorkflowNotFoundError(filters.EntityType)
	}
	if !s.permitted(rctx, filters.EntityType, VerbView) {
		return nil, 0, model.NewForbiddenError(fmt.Sprintf("not permitted to view %s documents", filters.EntityType))
	}

	docs, total, err := s.store.List(ctx, rctx.TenantID, filters)
	if err != nil {
		return nil, 0, err
	}
	items := make([]model.DocumentDescriptor, 0, len(docs))
	for _, doc := range docs {
		items = append(items, s.describe(doc, rctx.Roles))
	}
	return items, total, nil
}

// History returns a document's audit trail, oldest first.
func (s *Service) History(ctx context.Context, rctx *model.RequestContext, documentID string) ([]model.TransitionRecord, error) {
	if _, err := s.load(ctx, rctx, documentID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, rctx.TenantID, documentID)
}

// Evaluate runs the executor without touching any document.
func (s *Service) Evaluate(ctx context.Context, req model.TransitionRequest) (model.TransitionResult, error) {
	_, span := observability.StartSpan(ctx, "workflow.evaluate",
		observability.AttrEntityType.String(req.WorkflowType),
		observability.AttrAction.String(req.Action),
		observability.AttrActorRole.String(req.ActorRole),
	)
	res, err := s.executor.Execute(req)
	if err == nil {
		span.SetAttributes(observability.AttrOutcome.String(outcomeLabel(res)))
	}
	observability.EndSpanWithError(span, err)
	return res, err
}

// Transition applies in.Action to a stored document on behalf of the caller.
// A rejected decision is returned as the result's error envelope and leaves
// the document untouched.
func (s *Service) Transition(ctx context.Context, rctx *model.RequestContext, documentID string, in TransitionInput) (model.TransitionOutcome, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "workflow.transition",
		observability.AttrDocumentID.String(documentID),
		observability.AttrAction.String(in.Action),
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrSubjectID.String(rctx.SubjectID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	logger := observability.RequestLogger(ctx, s.logger).With(
		zap.String("document_id", documentID),
		zap.String("action", in.Action),
	)

	role, err := rctx.ActingRole(in.ActorRole)
	if err != nil {
		return model.TransitionOutcome{}, err
	}
	span.SetAttributes(observability.AttrActorRole.String(role))

	// A replay is only served to callers who could read the document now.
	var doc model.Document
	doc, err = s.load(ctx, rctx, documentID)
	if err != nil {
		return model.TransitionOutcome{}, err
	}
	span.SetAttributes(observability.DocumentAttributes(doc)...)

	var idemKey, idemHash string
	if s.idem != nil && in.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(rctx.TenantID, documentID, in.IdempotencyKey)
		idemHash = HashTransitionInput(in.Action, role, in.Evidence)
		cached, found, checkErr := s.idem.Check(ctx, idemKey, idemHash)
		if checkErr != nil {
			err = checkErr
			return model.TransitionOutcome{}, err
		}
		s.metrics.RecordIdempotency(found)
		if found {
			span.SetAttributes(observability.AttrReplayed.Bool(true))
			s.metrics.RecordTransition(doc.EntityType, in.Action, observability.OutcomeReplayed, time.Since(start))
			logger.Debug("transition replayed from idempotency store")
			return *cached, nil
		}
	}

	var record model.TransitionRecord
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			doc, err = s.load(ctx, rctx, documentID)
			if err != nil {
				return model.TransitionOutcome{}, err
			}
		}

		var res model.TransitionResult
		res, err = s.executor.Execute(model.TransitionRequest{
			WorkflowType: doc.EntityType,
			CurrentState: doc.State,
			Action:       in.Action,
			ActorRole:    role,
			Evidence:     in.Evidence,
		})
		if err != nil {
			err = fmt.Errorf("workflow: executing %s on document %q: %w", in.Action, documentID, err)
			return model.TransitionOutcome{}, err
		}
		if !res.OK {
			s.metrics.RecordTransition(doc.EntityType, in.Action, string(res.ErrorKind), time.Since(start))
			logger.Warn("transition rejected",
				zap.String("entity_type", doc.EntityType),
				zap.String("state", doc.State),
				zap.Int("version", doc.Version),
				zap.String("actor_role", role),
				zap.String("error_kind", string(res.ErrorKind)),
				zap.String("detail", res.Detail),
			)
			span.SetAttributes(observability.AttrOutcome.String(string(res.ErrorKind)))
			err = res.Envelope()
			return model.TransitionOutcome{}, err
		}

		record = model.TransitionRecord{
			ID:         s.newID(),
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			FromState:  doc.State,
			ToState:    res.NextState,
			Action:     in.Action,
			ActorID:    rctx.SubjectID,
			ActorRole:  role,
			Comments:   in.Evidence.Comments,
			FileRef:    in.Evidence.FileRef,
			Timestamp:  s.now(),
		}

		var updated model.Document
		updated, err = s.store.Transition(ctx, doc, record)
		if err == nil {
			doc = updated
			break
		}
		if !isConflict(err) {
			return model.TransitionOutcome{}, err
		}
		if attempt >= s.maxCAS {
			s.metrics.RecordTransition(doc.EntityType, in.Action, observability.OutcomeConflict, time.Since(start))
			logger.Warn("transition abandoned after version conflicts", zap.Int("attempts", attempt))
			return model.TransitionOutcome{}, err
		}
		s.metrics.RecordCASRetry(doc.EntityType)
		logger.Debug("version conflict, re-executing", zap.Int("attempt", attempt))
	}

	outcome := model.TransitionOutcome{
		Document: s.describe(doc, rctx.Roles),
		Record:   record,
	}

	s.metrics.RecordTransition(doc.EntityType, in.Action, observability.OutcomeAccepted, time.Since(start))
	span.SetAttributes(
		observability.AttrFromState.String(record.FromState),
		observability.AttrToState.String(record.ToState),
		observability.AttrOutcome.String(observability.OutcomeAccepted),
	)
	logger.Info("transition applied",
		zap.String("entity_type", doc.EntityType),
		zap.String("from_state", record.FromState),
		zap.String("to_state", record.ToState),
		zap.String("actor_role", role),
		zap.Int("version", doc.Version),
	)

	if idemKey != "" {
		if storeErr := s.idem.Store(ctx, idemKey, idemHash, outcome, s.idemTTL); storeErr != nil {
			logger.Warn("failed to store idempotent outcome", zap.Error(storeErr))
		}
	}
	return outcome, nil
}

// load fetches a tenant's document and checks the caller may view it.
// Documents of types the caller cannot view are reported as not found.
func (s *Service) load(ctx context.Context, rctx *model.RequestContext, documentID string) (model.Document, error) {
	doc, err := s.store.Get(ctx, rctx.TenantID, documentID)
	if err != nil {
		return model.Document{}, err
	}
	if !s.permitted(rctx, doc.EntityType, VerbView) {
		return model.Document{}, model.NewNotFoundError(fmt.Sprintf("document %q not found", documentID))
	}
	return doc, nil
}

// permitted reports whether any of the caller's roles holds entityType:verb.
func (s *Service) permitted(rctx *model.RequestContext, entityType, verb string) bool {
	if s.resolver == nil {
		return false
	}
	perm := entityType + ":" + verb
	for _, role := range rctx.Roles {
		if s.resolver.HasPermission(role, perm) {
			return true
		}
	}
	return false
}

// describe resolves a document's state presentation and the union of actions
// its viewer's roles allow, first role first.
func (s *Service) describe(doc model.Document, roles []string) model.DocumentDescriptor {
	desc := model.DocumentDescriptor{
		Document:   doc,
		StateLabel: doc.State,
		Actions:    []model.ActionDescriptor{},
	}
	wf, ok := s.executor.Registry().Get(doc.EntityType)
	if !ok {
		return desc
	}
	if st, ok := wf.Catalog().State(doc.State); ok {
		if st.Label != "" {
			desc.StateLabel = st.Label
		}
		desc.Category = st.Category
		desc.Final = st.Final
	}

	seen := map[string]bool{}
	for _, role := range roles {
		actions, err := s.executor.AvailableActions(doc.EntityType, doc.State, role)
		if err != nil {
			break
		}
		for _, a := range actions {
			if seen[a.Action] {
				continue
			}
			seen[a.Action] = true
			desc.Actions = append(desc.Actions, a)
		}
	}
	return desc
}

func isConflict(err error) bool {
	var env *model.ErrorEnvelope
	return errors.As(err, &env) && env.Code == model.ErrConflict
}

func outcomeLabel(res model.TransitionResult) string {
	if res.OK {
		return observability.OutcomeAccepted
	}
	return string(res.ErrorKind)
}
