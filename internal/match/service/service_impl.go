package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/internal/match/domain"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	obslogger "github.com/smallbiznis/needflow/internal/observability/logger"
	"github.com/smallbiznis/needflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	NeedRepo  needdomain.Repository
	AuditSvc  auditdomain.Service       `optional:"true"`
	Metrics   *metrics.Metrics          `optional:"true"`
	Lifecycle *metrics.LifecycleMetrics `optional:"true"`
	Clock     clock.Clock               `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	needRepo  needdomain.Repository
	auditSvc  auditdomain.Service
	metrics   *metrics.Metrics
	lifecycle *metrics.LifecycleMetrics
	clock     clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("match.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		needRepo:  p.NeedRepo,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
		lifecycle: p.Lifecycle,
		clock:     c,
	}
}

func (s *Service) RecordMatch(ctx context.Context, req domain.RecordMatchRequest) (domain.Match, error) {
	if req.Quantity <= 0 {
		return domain.Match{}, needdomain.ErrInvalidQuantity
	}
	if err := req.Actor.Validate(); err != nil {
		return domain.Match{}, err
	}
	if req.NeedID == 0 {
		return domain.Match{}, needdomain.ErrNeedNotFound
	}

	now := s.clock.Now().UTC()
	matchDate := now
	if req.MatchDate != nil && !req.MatchDate.IsZero() {
		matchDate = req.MatchDate.UTC()
	}

	match := domain.Match{
		ID:                s.genID.Generate(),
		NeedID:            req.NeedID,
		MatchedQuantity:   req.Quantity,
		MatchedByWorkerID: req.Actor.WorkerID,
		MatchDate:         matchDate,
		CreatedAt:         now,
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		match.Note = &note
	}

	var need needdomain.Need
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		current, err := s.needRepo.FindByIDForUpdate(ctx, tx, req.NeedID)
		s.lifecycle.ObserveLockWait(metrics.LockResourceNeed, time.Since(lockStart))
		if err != nil {
			return err
		}
		if current == nil {
			return needdomain.ErrNeedNotFound
		}
		if !current.Status.Matchable() {
			return needdomain.ErrIllegalTransition
		}
		if req.Quantity > current.Remaining() {
			return domain.ErrOverCollection
		}

		if err := s.repo.Insert(ctx, tx, &match); err != nil {
			return err
		}

		current.CollectedQuantity += req.Quantity
		current.UpdatedAt = now
		if err := s.needRepo.UpdateCollected(ctx, tx, current); err != nil {
			return err
		}
		need = *current
		return s.audit(ctx, tx, req.Actor, need.ID, map[string]any{
			"match_id":           match.ID.String(),
			"matched_quantity":   match.MatchedQuantity,
			"collected_quantity": need.CollectedQuantity,
			"matched":            need.Matched(),
		})
	})
	if err != nil {
		if !isDomainError(err) {
			s.lifecycle.RecordTxFailure("record_match", err)
			obslogger.WithContext(ctx, s.log).Error("record match failed", zap.String("need_id", req.NeedID.String()), zap.Error(err))
		}
		return domain.Match{}, err
	}

	s.metrics.RecordMatch(ctx, string(need.Kind), req.Quantity)
	s.log.Info("match recorded",
		zap.String("need_id", need.ID.String()),
		zap.String("match_id", match.ID.String()),
		zap.Int64("matched_quantity", match.MatchedQuantity),
		zap.Int64("collected_quantity", need.CollectedQuantity),
		zap.Int64("requested_quantity", need.RequestedQuantity),
	)
	return match, nil
}

func (s *Service) ListByNeed(ctx context.Context, needID snowflake.ID) ([]domain.Match, error) {
	need, err := s.needRepo.FindByID(ctx, s.db, needID)
	if err != nil {
		return nil, err
	}
	if need == nil {
		return nil, needdomain.ErrNeedNotFound
	}

	items, err := s.repo.ListByNeed(ctx, s.db, needID)
	if err != nil {
		return nil, err
	}
	matches := make([]domain.Match, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		matches = append(matches, *item)
	}
	return matches, nil
}

func (s *Service) ListByNeeds(ctx context.Context, needIDs []snowflake.ID) (map[snowflake.ID][]domain.Match, error) {
	items, err := s.repo.ListByNeeds(ctx, s.db, needIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID][]domain.Match, len(needIDs))
	for _, item := range items {
		if item == nil {
			continue
		}
		out[item.NeedID] = append(out[item.NeedID], *item)
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, needID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorID := actor.WorkerID.String()
	targetID := needID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, string(authorization.NormalizeRole(string(actor.Role))), &actorID, "need.match", auditdomain.TargetNeed, &targetID, metadata)
}

func isDomainError(err error) bool {
	return errors.Is(err, needdomain.ErrNeedNotFound) ||
		errors.Is(err, needdomain.ErrIllegalTransition) ||
		errors.Is(err, domain.ErrOverCollection)
}
