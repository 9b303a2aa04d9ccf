package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/coverletter-api/internal/dto"
	"github.com/noah-isme/coverletter-api/internal/models"
	"github.com/noah-isme/coverletter-api/internal/observability"
	"github.com/noah-isme/coverletter-api/internal/repository"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

const (
	signedMessage    = "Cover letter signed successfully and forwarded to Faculty Secretary!"
	forwardedMessage = "Cover letter forwarded to Student Affairs"
	completedMessage = "Cover letter approval completed"

	defaultOperationTimeout = 10 * time.Second
)

// CoverLetterService is the transition authority for cover letters.
type CoverLetterService interface {
	Create(ctx context.Context, payload dto.CoverLetterCreateRequest, actor ActivityActor) (dto.CoverLetterResponse, error)
	Get(ctx context.Context, entryID string, actor ActivityActor) (dto.CoverLetterResponse, error)
	Queue(ctx context.Context, actor ActivityActor) (dto.CoverLetterQueueResponse, error)
	Sign(ctx context.Context, entryID string, actor ActivityActor) (dto.TransitionResponse, error)
	Advance(ctx context.Context, entryID string, actor ActivityActor) (dto.TransitionResponse, error)
}

// CoverLetterServiceOptions tunes caching and the bound on a single transition.
type CoverLetterServiceOptions struct {
	QueueCacheTTL    time.Duration
	OperationTimeout time.Duration
}

type coverLetterService struct {
	repo      repository.CoverLetterRepository
	router    StageRouter
	activity  ActivityRecorder
	cache     *queueCache
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	tracer    trace.Tracer
	logger    zerolog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewCoverLetterService constructs the cover letter service. router, activity and
// cacheClient are optional.
func NewCoverLetterService(repo repository.CoverLetterRepository, router StageRouter, activity ActivityRecorder, cacheClient *redis.Client, validate *validator.Validate, opts CoverLetterServiceOptions, logger zerolog.Logger) CoverLetterService {
	timeout := opts.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	componentLogger := logger.With().Str("component", "cover_letter_service").Logger()

	return &coverLetterService{
		repo:      repo,
		router:    router,
		activity:  activity,
		cache:     newQueueCache(cacheClient, opts.QueueCacheTTL, componentLogger),
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		tracer:    otel.Tracer("github.com/noah-isme/coverletter-api/internal/service/cover_letter"),
		logger:    componentLogger,
		timeout:   timeout,
		now:       time.Now,
	}
}

func (s *coverLetterService) Create(ctx context.Context, payload dto.CoverLetterCreateRequest, actor ActivityActor) (dto.CoverLetterResponse, error) {
	ctx, span := s.tracer.Start(ctx, "cover_letter.create")
	defer span.End()

	if workflow.ParseRole(actor.Role) != workflow.RoleDepartmentSecretary {
		err := fmt.Errorf("%w: only the department secretary can prepare cover letters", ErrUnauthorized)
		recordSpanError(span, err, "unauthorized")
		return dto.CoverLetterResponse{}, err
	}

	if err := s.validator.Struct(payload); err != nil {
		recordSpanError(span, err, "validation_failed")
		return dto.CoverLetterResponse{}, err
	}

	department := strings.TrimSpace(payload.Department)
	if actor.Department != "" && !sameDepartment(actor.Department, department) {
		err := fmt.Errorf("%w: cover letter belongs to another department", ErrUnauthorized)
		recordSpanError(span, err, "department_mismatch")
		return dto.CoverLetterResponse{}, err
	}

	graduationDate, err := time.Parse("2006-01-02", payload.GraduationDate)
	if err != nil {
		recordSpanError(span, err, "validation_failed")
		return dto.CoverLetterResponse{}, err
	}

	entryID := strings.TrimSpace(payload.EntryID)
	if entryID == "" {
		entryID = "CL-" + uuid.NewString()
	}
	span.SetAttributes(attribute.String("cover_letter.entry_id", entryID))

	if _, err := s.repo.GetByEntryID(ctx, entryID); err == nil {
		recordSpanError(span, ErrDuplicateCoverLetter, "duplicate")
		return dto.CoverLetterResponse{}, ErrDuplicateCoverLetter
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		err = classifyStoreError(err)
		recordSpanError(span, err, "lookup_failed")
		return dto.CoverLetterResponse{}, err
	}

	letter := models.CoverLetter{
		EntryID:         entryID,
		StudentID:       strings.TrimSpace(payload.StudentID),
		StudentName:     strings.TrimSpace(payload.StudentName),
		StudentLastName: strings.TrimSpace(payload.StudentLastName),
		Department:      department,
		GPA:             payload.GPA,
		CreditsEarned:   payload.CreditsEarned,
		GraduationDate:  graduationDate.UTC(),
		Notes:           strings.TrimSpace(s.sanitizer.Sanitize(payload.Notes)),
		Stage:           workflow.StagePendingDepartmentChair,
	}

	if err := s.repo.Create(ctx, &letter); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			recordSpanError(span, ErrDuplicateCoverLetter, "duplicate")
			return dto.CoverLetterResponse{}, ErrDuplicateCoverLetter
		}
		err = classifyStoreError(err)
		recordSpanError(span, err, "create_failed")
		return dto.CoverLetterResponse{}, err
	}

	s.afterTransition(ctx, letter, "", actor, "cover_letter.created")

	return dto.NewCoverLetterResponse(letter), nil
}

// Get returns a single cover letter. Department level roles only see their own
// department's documents.
func (s *coverLetterService) Get(ctx context.Context, entryID string, actor ActivityActor) (dto.CoverLetterResponse, error) {
	letter, err := s.repo.GetByEntryID(ctx, strings.TrimSpace(entryID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CoverLetterResponse{}, ErrCoverLetterNotFound
		}
		return dto.CoverLetterResponse{}, classifyStoreError(err)
	}

	if departmentScoped(workflow.ParseRole(actor.Role)) && actor.Department != "" && !sameDepartment(actor.Department, letter.Department) {
		return dto.CoverLetterResponse{}, fmt.Errorf("%w: cover letter belongs to another department", ErrUnauthorized)
	}

	return dto.NewCoverLetterResponse(letter), nil
}

// Queue recomputes the actor's queue: documents at the stage the actor's role acts on,
// limited to the actor's department for department level roles.
func (s *coverLetterService) Queue(ctx context.Context, actor ActivityActor) (dto.CoverLetterQueueResponse, error) {
	role := workflow.ParseRole(actor.Role)
	stage, ok := workflow.QueueStage(role)
	if !ok {
		return dto.CoverLetterQueueResponse{}, fmt.Errorf("%w: role %q has no queue", ErrUnauthorized, actor.Role)
	}

	department := ""
	if departmentScoped(role) {
		department = strings.TrimSpace(actor.Department)
	}

	if cached, ok := s.cache.get(ctx, stage, department); ok {
		cached.CacheHit = true
		cached.Department = department
		return cached, nil
	}

	letters, _, err := s.repo.List(ctx, repository.CoverLetterFilter{Stage: &stage, Department: department})
	if err != nil {
		return dto.CoverLetterQueueResponse{}, classifyStoreError(err)
	}

	items := dto.NewCoverLetterResponseSlice(letters)
	response := dto.CoverLetterQueueResponse{
		Stage:      stage,
		Department: department,
		Count:      len(items),
		Items:      items,
	}
	s.cache.set(ctx, response)

	return response, nil
}

// Sign applies the department chair's edge. Role is checked before the document is
// looked up, so a non-chair is rejected regardless of stage.
func (s *coverLetterService) Sign(ctx context.Context, entryID string, actor ActivityActor) (dto.TransitionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "cover_letter.sign")
	defer span.End()
	span.SetAttributes(
		attribute.String("cover_letter.entry_id", entryID),
		attribute.String("cover_letter.actor_id", actor.ID),
	)

	if workflow.ParseRole(actor.Role) != workflow.RoleDepartmentChair {
		err := fmt.Errorf("%w: only the department chair can sign cover letters", ErrUnauthorized)
		return s.fail(span, "sign", "unauthorized", err)
	}

	return s.transition(ctx, span, strings.TrimSpace(entryID), actor, workflow.RoleDepartmentChair)
}

// Advance applies the edge owned by the faculty secretary or student affairs.
func (s *coverLetterService) Advance(ctx context.Context, entryID string, actor ActivityActor) (dto.TransitionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "cover_letter.advance")
	defer span.End()
	span.SetAttributes(
		attribute.String("cover_letter.entry_id", entryID),
		attribute.String("cover_letter.actor_id", actor.ID),
	)

	role := workflow.ParseRole(actor.Role)
	if role != workflow.RoleFacultySecretary && role != workflow.RoleStudentAffairs {
		err := fmt.Errorf("%w: role %q cannot advance cover letters", ErrUnauthorized, actor.Role)
		return s.fail(span, "advance", "unauthorized", err)
	}

	return s.transition(ctx, span, strings.TrimSpace(entryID), actor, role)
}

func (s *coverLetterService) transition(ctx context.Context, span trace.Span, entryID string, actor ActivityActor, role workflow.Role) (dto.TransitionResponse, error) {
	edge, _ := workflow.TransitionFor(role)
	action := edge.Action

	// A submitted transition runs to completion even if the caller goes away.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	letter, err := s.repo.GetByEntryID(opCtx, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.fail(span, action, "not_found", ErrCoverLetterNotFound)
		}
		return s.fail(span, action, "lookup_failed", classifyStoreError(err))
	}

	if departmentScoped(role) && actor.Department != "" && !sameDepartment(actor.Department, letter.Department) {
		err := fmt.Errorf("%w: cover letter belongs to another department", ErrUnauthorized)
		return s.fail(span, action, "department_mismatch", err)
	}

	if role == workflow.RoleDepartmentChair && letter.DepartmentChairSigned {
		err := fmt.Errorf("%w: cover letter is already signed", ErrInvalidTransition)
		return s.fail(span, action, "already_signed", err)
	}

	if _, err := workflow.Validate(letter.Stage, role); err != nil {
		invalid := fmt.Errorf("%w: cover letter is at stage %s", ErrInvalidTransition, letter.Stage)
		return s.fail(span, action, "wrong_stage", invalid)
	}

	now := s.now().UTC()
	chairEdge := role == workflow.RoleDepartmentChair
	applied, err := s.repo.AdvanceStage(opCtx, repository.StageAdvance{
		EntryID:         letter.EntryID,
		From:            edge.From,
		To:              edge.To,
		RequireUnsigned: chairEdge,
		MarkChairSigned: chairEdge,
		ActorID:         actor.ID,
		At:              now,
	})
	if err != nil {
		return s.fail(span, action, "update_failed", classifyStoreError(err))
	}
	if !applied {
		err := fmt.Errorf("%w: cover letter was moved by another request", ErrInvalidTransition)
		return s.fail(span, action, "lost_race", err)
	}

	from := letter.Stage
	letter.Stage = edge.To
	letter.UpdatedAt = now
	if chairEdge {
		signedBy := actor.ID
		letter.DepartmentChairSigned = true
		letter.DepartmentChairSignedBy = &signedBy
		letter.DepartmentChairSignedAt = &now
	}

	activityAction := "cover_letter.advanced"
	if chairEdge {
		activityAction = "cover_letter.signed"
	}
	s.afterTransition(opCtx, letter, from, actor, activityAction)

	observability.CoverLetterTransitions().WithLabelValues(action, "success").Inc()
	span.SetAttributes(
		attribute.String("cover_letter.from_stage", string(from)),
		attribute.String("cover_letter.to_stage", string(edge.To)),
	)
	s.logger.Info().
		Str("entry_id", letter.EntryID).
		Str("actor_id", actor.ID).
		Str("from_stage", string(from)).
		Str("to_stage", string(edge.To)).
		Msg("cover letter transitioned")

	return dto.TransitionResponse{
		Message:     transitionMessage(edge.To),
		CoverLetter: dto.NewCoverLetterResponse(letter),
	}, nil
}

// afterTransition runs the side effects of a committed change. Failures are logged and
// never undo the change.
func (s *coverLetterService) afterTransition(ctx context.Context, letter models.CoverLetter, from workflow.Stage, actor ActivityActor, activityAction string) {
	correlationID := observability.CorrelationIDFromContext(ctx)

	if s.router != nil {
		event := RoutingEvent{
			EntryID:       letter.EntryID,
			FromStage:     from,
			ToStage:       letter.Stage,
			Department:    letter.Department,
			ActorID:       actor.ID,
			CorrelationID: correlationID,
			RoutedAt:      s.now().UTC(),
		}
		if err := s.router.Route(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("entry_id", letter.EntryID).Msg("failed to route cover letter")
		}
	}

	if s.activity != nil {
		metadata := map[string]interface{}{
			"to_stage":   string(letter.Stage),
			"department": letter.Department,
			"student_id": letter.StudentID,
		}
		if from != "" {
			metadata["from_stage"] = string(from)
		}
		if correlationID != "" {
			metadata["correlation_id"] = correlationID
		}
		if _, err := s.activity.Record(ctx, ActivityEntry{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     activityAction,
			EntityType: "cover_letter",
			EntityRef:  letter.EntryID,
			Metadata:   metadata,
		}); err != nil {
			s.logger.Warn().Err(err).Str("entry_id", letter.EntryID).Msg("failed to record cover letter activity")
		}
	}

	s.cache.invalidate(ctx, letter.Department, from, letter.Stage)
}

func (s *coverLetterService) fail(span trace.Span, action, reason string, err error) (dto.TransitionResponse, error) {
	recordSpanError(span, err, reason)
	observability.CoverLetterTransitions().WithLabelValues(action, reason).Inc()
	return dto.TransitionResponse{}, err
}

func recordSpanError(span trace.Span, err error, reason string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
}

func departmentScoped(role workflow.Role) bool {
	return role == workflow.RoleDepartmentChair || role == workflow.RoleDepartmentSecretary
}

// sameDepartment is the single department comparison. It matches the lowercased
// queue cache key and the case-insensitive queue filter.
func sameDepartment(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func transitionMessage(to workflow.Stage) string {
	switch to {
	case workflow.StagePendingFacultySecretary:
		return signedMessage
	case workflow.StagePendingStudentAffairs:
		return forwardedMessage
	default:
		return completedMessage
	}
}
