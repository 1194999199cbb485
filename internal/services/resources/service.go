package resources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
	pgrepo "github.com/funnytutor6/tutorconnect/internal/repo/postgres"
	"github.com/funnytutor6/tutorconnect/internal/services/audit"
	"github.com/funnytutor6/tutorconnect/internal/services/sanitizer"
)

const (
	maxHeadlineLen    = 120
	maxSubjectLen     = 80
	maxDescriptionLen = 4000
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("resource not found")
	ErrForbidden  = errors.New("forbidden")
)

type Store interface {
	Get(ctx context.Context, resourceID int64) (model.Resource, error)
	Create(ctx context.Context, res model.Resource) (model.Resource, error)
	Update(ctx context.Context, res model.Resource) (model.Resource, error)
}

type UserReader interface {
	Get(ctx context.Context, userID int64) (model.User, error)
}

type TextChecker interface {
	Check(fields ...model.FreeTextField) error
}

type Auditor interface {
	Record(ctx context.Context, event model.AuditEvent)
}

type Dependencies struct {
	Store   Store
	Users   UserReader
	Checker TextChecker
	Logger  *zap.Logger
}

// Service is the write gate for resources. Every free-text field passes the
// contact sanitizer before anything is stored.
type Service struct {
	store   Store
	users   UserReader
	checker TextChecker
	audit   Auditor
	logger  *zap.Logger
	now     func() time.Time
}

type Input struct {
	Kind        enums.ResourceKind
	Headline    string
	Subject     string
	Description string
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	checker := deps.Checker
	if checker == nil {
		checker = sanitizer.Default()
	}
	return &Service{
		store:   deps.Store,
		users:   deps.Users,
		checker: checker,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) AttachAuditor(auditor Auditor) {
	s.audit = auditor
}

func (s *Service) Get(ctx context.Context, resourceID int64) (model.Resource, error) {
	if resourceID <= 0 {
		return model.Resource{}, ErrValidation
	}
	if s.store == nil {
		return model.Resource{}, fmt.Errorf("resource store is nil")
	}
	res, err := s.store.Get(ctx, resourceID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrResourceNotFound) {
			return model.Resource{}, ErrNotFound
		}
		return model.Resource{}, fmt.Errorf("get resource: %w", err)
	}
	return res, nil
}

func (s *Service) Create(ctx context.Context, ownerID int64, in Input) (model.Resource, error) {
	if ownerID <= 0 {
		return model.Resource{}, fmt.Errorf("invalid owner id: %w", ErrValidation)
	}
	if s.store == nil || s.users == nil {
		return model.Resource{}, fmt.Errorf("resource dependencies are not configured")
	}

	owner, err := s.users.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrUserNotFound) {
			return model.Resource{}, fmt.Errorf("unknown owner: %w", ErrValidation)
		}
		return model.Resource{}, fmt.Errorf("load owner: %w", err)
	}

	normalized, err := normalizeInput(in, owner.Role)
	if err != nil {
		return model.Resource{}, err
	}
	candidate := model.Resource{
		OwnerID:     ownerID,
		OwnerRole:   owner.Role,
		Kind:        normalized.Kind,
		Headline:    normalized.Headline,
		Subject:     normalized.Subject,
		Description: normalized.Description,
	}
	if err := s.checkText(ctx, ownerID, 0, candidate); err != nil {
		return model.Resource{}, err
	}

	created, err := s.store.Create(ctx, candidate)
	if err != nil {
		return model.Resource{}, fmt.Errorf("create resource: %w", err)
	}
	return created, nil
}

func (s *Service) Update(ctx context.Context, ownerID, resourceID int64, in Input) (model.Resource, error) {
	if ownerID <= 0 || resourceID <= 0 {
		return model.Resource{}, ErrValidation
	}

	existing, err := s.Get(ctx, resourceID)
	if err != nil {
		return model.Resource{}, err
	}
	if existing.OwnerID != ownerID {
		return model.Resource{}, ErrForbidden
	}

	in.Kind = existing.Kind
	normalized, err := normalizeInput(in, existing.OwnerRole)
	if err != nil {
		return model.Resource{}, err
	}
	candidate := existing
	candidate.Headline = normalized.Headline
	candidate.Subject = normalized.Subject
	candidate.Description = normalized.Description
	if err := s.checkText(ctx, ownerID, resourceID, candidate); err != nil {
		return model.Resource{}, err
	}

	updated, err := s.store.Update(ctx, candidate)
	if err != nil {
		if errors.Is(err, pgrepo.ErrResourceNotFound) {
			return model.Resource{}, ErrNotFound
		}
		return model.Resource{}, fmt.Errorf("update resource: %w", err)
	}
	return updated, nil
}

func (s *Service) checkText(ctx context.Context, ownerID, resourceID int64, res model.Resource) error {
	err := s.checker.Check(res.FreeTextFields()...)
	if err == nil {
		return nil
	}
	verr, ok := sanitizer.AsValidationError(err)
	if !ok {
		return fmt.Errorf("check resource text: %w", err)
	}

	fields := make([]string, 0, len(verr.Violations))
	for _, v := range verr.Violations {
		fields = append(fields, v.Field+":"+string(v.Category))
	}
	s.logger.Info("resource text rejected",
		zap.Int64("owner_id", ownerID),
		zap.Strings("violations", fields),
	)
	if s.audit != nil {
		entityID := ""
		if resourceID > 0 {
			entityID = strconv.FormatInt(resourceID, 10)
		}
		s.audit.Record(ctx, model.AuditEvent{
			Type:       audit.EventResourceRejected,
			ActorID:    ownerID,
			EntityKind: "resource",
			EntityID:   entityID,
			Props:      map[string]any{"violations": fields},
		})
	}
	return verr
}

func normalizeInput(in Input, role enums.Role) (Input, error) {
	out := Input{
		Kind:        enums.ResourceKind(strings.ToLower(strings.TrimSpace(string(in.Kind)))),
		Headline:    strings.TrimSpace(in.Headline),
		Subject:     strings.TrimSpace(in.Subject),
		Description: strings.TrimSpace(in.Description),
	}
	if out.Kind == "" {
		out.Kind = defaultKind(role)
	}
	if out.Kind != enums.ResourceKindRequest && out.Kind != enums.ResourceKindOffer {
		return Input{}, fmt.Errorf("unknown resource kind: %w", ErrValidation)
	}
	if out.Kind != defaultKind(role) {
		return Input{}, fmt.Errorf("%s cannot post %s resources: %w", role, out.Kind, ErrValidation)
	}

	if out.Headline == "" || out.Subject == "" {
		return Input{}, fmt.Errorf("headline and subject are required: %w", ErrValidation)
	}
	if len([]rune(out.Headline)) > maxHeadlineLen || len([]rune(out.Subject)) > maxSubjectLen || len([]rune(out.Description)) > maxDescriptionLen {
		return Input{}, fmt.Errorf("text too long: %w", ErrValidation)
	}
	return out, nil
}

// Requesters post requests, providers post offers.
func defaultKind(role enums.Role) enums.ResourceKind {
	if role == enums.RoleProvider {
		return enums.ResourceKindOffer
	}
	return enums.ResourceKindRequest
}
