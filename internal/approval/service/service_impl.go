package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/approval/domain"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/internal/clock"
	distributiondomain "github.com/smallbiznis/needflow/internal/distribution/domain"
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
	NeedRepo  needdomain.Repository
	BatchRepo distributiondomain.Repository
	Authz     authorization.Service
	AuditSvc  auditdomain.Service       `optional:"true"`
	Metrics   *metrics.Metrics          `optional:"true"`
	Lifecycle *metrics.LifecycleMetrics `optional:"true"`
	Clock     clock.Clock               `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	needRepo  needdomain.Repository
	batchRepo distributiondomain.Repository
	authz     authorization.Service
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
		log:       p.Log.Named("approval.service"),
		needRepo:  p.NeedRepo,
		batchRepo: p.BatchRepo,
		authz:     p.Authz,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
		lifecycle: p.Lifecycle,
		clock:     c,
	}
}

// outcome describes what a locked mutation did, for logging after commit.
type outcome struct {
	need    needdomain.Need
	from    needdomain.Status
	applied bool
}

func (s *Service) Transition(ctx context.Context, needID snowflake.ID, action domain.Action, actor authorization.Actor) (needdomain.Need, error) {
	action, err := domain.ParseAction(string(action))
	if err != nil {
		return needdomain.Need{}, err
	}
	if action == domain.ActionCollect {
		return s.Collect(ctx, domain.CollectRequest{NeedID: needID, Actor: actor})
	}
	if err := actor.Validate(); err != nil {
		return needdomain.Need{}, err
	}

	var out outcome
	err = s.withNeedLock(ctx, needID, func(tx *gorm.DB, need *needdomain.Need) error {
		out.need = *need
		out.from = need.Status

		graph, err := domain.GraphFor(need.Kind)
		if err != nil {
			return err
		}
		edge, ok := graph.Lookup(need.Status, action)
		if !ok {
			return s.replay(ctx, graph, need.Status, action, actor)
		}
		if err := s.authz.RequireRole(ctx, actor, edge.Requires); err != nil {
			return err
		}

		need.Status = edge.To
		need.UpdatedAt = s.clock.Now().UTC()
		if err := s.needRepo.UpdateLifecycle(ctx, tx, need); err != nil {
			return err
		}
		out.need = *need
		out.applied = true
		return s.audit(ctx, tx, out, action, actor, nil)
	})
	if err != nil {
		s.rejected(ctx, out.need, needID, action, err)
		return needdomain.Need{}, err
	}

	s.finish(ctx, out, action, actor)
	return out.need, nil
}

func (s *Service) Collect(ctx context.Context, req domain.CollectRequest) (needdomain.Need, error) {
	if err := req.Actor.Validate(); err != nil {
		return needdomain.Need{}, err
	}

	var out outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch *distributiondomain.Batch
		if req.BatchID != nil {
			locked, err := s.lockCollectBatch(ctx, tx, *req.BatchID, req.NeedID)
			if err != nil {
				return err
			}
			batch = locked
		}

		need, err := s.lockNeed(ctx, tx, req.NeedID)
		if err != nil {
			return err
		}
		out.need = *need
		out.from = need.Status

		graph, err := domain.GraphFor(need.Kind)
		if err != nil {
			return err
		}
		if err := checkCollectMembership(need, req.BatchID); err != nil {
			return err
		}

		edge, ok := graph.Lookup(need.Status, domain.ActionCollect)
		if !ok {
			return s.replay(ctx, graph, need.Status, domain.ActionCollect, req.Actor)
		}
		if err := s.authz.RequireRole(ctx, req.Actor, edge.Requires); err != nil {
			return err
		}

		joins := batch != nil && need.BatchID == nil
		batchID := need.BatchID
		if req.BatchID != nil {
			batchID = req.BatchID
		}
		now := s.clock.Now().UTC()
		if err := s.ApplyCollect(ctx, tx, need, batchID, now); err != nil {
			return err
		}
		if joins {
			if err := s.refreshTotals(ctx, tx, batch, now); err != nil {
				return err
			}
		}
		out.need = *need
		out.applied = true

		var meta map[string]any
		if req.BatchID != nil {
			meta = map[string]any{"batch_id": req.BatchID.String(), "joined_batch": joins}
		}
		return s.audit(ctx, tx, out, domain.ActionCollect, req.Actor, meta)
	})
	if err != nil {
		s.rejected(ctx, out.need, req.NeedID, domain.ActionCollect, err)
		return needdomain.Need{}, err
	}

	s.finish(ctx, out, domain.ActionCollect, req.Actor)
	return out.need, nil
}

func (s *Service) ApplyCollect(ctx context.Context, tx *gorm.DB, need *needdomain.Need, batchID *snowflake.ID, pickup time.Time) error {
	if need == nil {
		return needdomain.ErrNeedNotFound
	}
	graph, err := domain.GraphFor(need.Kind)
	if err != nil {
		return err
	}
	edge, ok := graph.Lookup(need.Status, domain.ActionCollect)
	if !ok {
		return needdomain.ErrIllegalTransition
	}

	from := need.Status
	pickup = pickup.UTC()
	need.Status = edge.To
	need.PickupDate = &pickup
	need.BatchID = batchID
	need.UpdatedAt = s.clock.Now().UTC()
	if err := s.needRepo.UpdateLifecycle(ctx, tx, need); err != nil {
		return err
	}
	s.lifecycle.ObserveNeedTransition(string(need.Kind), string(from), string(need.Status))
	return nil
}

// lockCollectBatch requires the batch to exist and be approved. Pending
// batches collect their members only through approval. It runs before the
// need lock so batch rows are always locked ahead of need rows.
func (s *Service) lockCollectBatch(ctx context.Context, tx *gorm.DB, batchID, needID snowflake.ID) (*distributiondomain.Batch, error) {
	lockStart := time.Now()
	batch, err := s.batchRepo.FindByIDForUpdate(ctx, tx, batchID)
	s.lifecycle.ObserveLockWait(metrics.LockResourceBatch, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, distributiondomain.ErrBatchNotFound
	}

	switch {
	case batch.Status.Terminal():
		ineligible := distributiondomain.NewNeedNotEligibleError()
		ineligible.Add(needID, distributiondomain.ReasonBatchTerminal)
		return nil, ineligible
	case batch.Status != distributiondomain.BatchStatusApproved:
		ineligible := distributiondomain.NewNeedNotEligibleError()
		ineligible.Add(needID, distributiondomain.ReasonBatchPending)
		return nil, ineligible
	}
	return batch, nil
}

// refreshTotals recomputes case_count and total_supply_items from the
// current member set of batch.
func (s *Service) refreshTotals(ctx context.Context, tx *gorm.DB, batch *distributiondomain.Batch, now time.Time) error {
	members, err := s.needRepo.FindByBatchID(ctx, tx, batch.ID, false)
	if err != nil {
		return err
	}
	cases := make(map[snowflake.ID]struct{}, len(members))
	var total int64
	for _, member := range members {
		cases[member.CaseID] = struct{}{}
		total += member.RequestedQuantity
	}
	batch.CaseCount = len(cases)
	batch.TotalSupplyItems = total
	batch.UpdatedAt = now
	return s.batchRepo.UpdateTotals(ctx, tx, batch)
}

func checkCollectMembership(need *needdomain.Need, batchID *snowflake.ID) error {
	ineligible := distributiondomain.NewNeedNotEligibleError()
	switch {
	case batchID == nil && need.BatchID != nil && need.Status != needdomain.StatusCollected:
		ineligible.Add(need.ID, distributiondomain.ReasonAlreadyBatched)
	case batchID != nil && !need.IsRegular():
		ineligible.Add(need.ID, distributiondomain.ReasonNotRegular)
	case batchID != nil && need.BatchID != nil && *need.BatchID != *batchID:
		ineligible.Add(need.ID, distributiondomain.ReasonOtherBatch)
	}
	if ineligible.Empty() {
		return nil
	}
	return ineligible
}

// replay accepts a repeated action as a no-op, provided the actor could have
// made it. Anything else is an illegal move from current.
func (s *Service) replay(ctx context.Context, graph *domain.NeedGraph, current needdomain.Status, action domain.Action, actor authorization.Actor) error {
	edge, ok := graph.Replay(current, action)
	if !ok {
		return needdomain.ErrIllegalTransition
	}
	return s.authz.RequireRole(ctx, actor, edge.Requires)
}

func (s *Service) lockNeed(ctx context.Context, tx *gorm.DB, needID snowflake.ID) (*needdomain.Need, error) {
	if needID == 0 {
		return nil, needdomain.ErrNeedNotFound
	}
	lockStart := time.Now()
	need, err := s.needRepo.FindByIDForUpdate(ctx, tx, needID)
	s.lifecycle.ObserveLockWait(metrics.LockResourceNeed, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if need == nil {
		return nil, needdomain.ErrNeedNotFound
	}
	return need, nil
}

func (s *Service) withNeedLock(ctx context.Context, needID snowflake.ID, fn func(tx *gorm.DB, need *needdomain.Need) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		need, err := s.lockNeed(ctx, tx, needID)
		if err != nil {
			return err
		}
		return fn(tx, need)
	})
}

func (s *Service) finish(ctx context.Context, out outcome, action domain.Action, actor authorization.Actor) {
	if !out.applied {
		s.log.Debug("transition replayed",
			zap.String("need_id", out.need.ID.String()),
			zap.String("action", string(action)),
			zap.String("status", string(out.need.Status)),
		)
		return
	}

	if action != domain.ActionCollect {
		s.lifecycle.ObserveNeedTransition(string(out.need.Kind), string(out.from), string(out.need.Status))
	}
	s.metrics.RecordTransition(ctx, string(out.need.Kind), string(action))
	s.log.Info("need transitioned",
		zap.String("need_id", out.need.ID.String()),
		zap.String("kind", string(out.need.Kind)),
		zap.String("action", string(action)),
		zap.String("from", string(out.from)),
		zap.String("to", string(out.need.Status)),
		zap.String("actor", actor.String()),
	)
}

// audit records an applied transition inside tx.
func (s *Service) audit(ctx context.Context, tx *gorm.DB, out outcome, action domain.Action, actor authorization.Actor, meta map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	metadata := map[string]any{
		"from": string(out.from),
		"to":   string(out.need.Status),
	}
	for key, value := range meta {
		metadata[key] = value
	}
	actorID := actor.WorkerID.String()
	targetID := out.need.ID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, string(authorization.NormalizeRole(string(actor.Role))), &actorID, "need."+string(action), auditdomain.TargetNeed, &targetID, metadata)
}

func (s *Service) rejected(ctx context.Context, need needdomain.Need, needID snowflake.ID, action domain.Action, err error) {
	s.authz.RecordDenial(ctx, err)
	reason := rejectionReason(err)
	s.metrics.RecordTransitionRejected(ctx, string(need.Kind), string(action), reason)
	if reason == "error" {
		s.lifecycle.RecordTxFailure("need_"+string(action), err)
		obslogger.WithContext(ctx, s.log).Error("transition failed", zap.String("need_id", needID.String()), zap.String("action", string(action)), zap.Error(err))
		return
	}
	s.log.Debug("transition refused", zap.String("need_id", needID.String()), zap.String("action", string(action)), zap.String("reason", reason))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, needdomain.ErrNeedNotFound), errors.Is(err, distributiondomain.ErrBatchNotFound):
		return "not_found"
	case errors.Is(err, authorization.ErrForbidden):
		return "forbidden"
	case errors.Is(err, needdomain.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, distributiondomain.ErrNeedNotEligible):
		return "not_eligible"
	case errors.Is(err, needdomain.ErrConcurrentModification):
		return "concurrent_modification"
	}
	return "error"
}
