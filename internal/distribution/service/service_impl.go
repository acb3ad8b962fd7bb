package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/needflow/internal/approval/domain"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/internal/config"
	"github.com/smallbiznis/needflow/internal/distribution/domain"
	matchdomain "github.com/smallbiznis/needflow/internal/match/domain"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	obslogger "github.com/smallbiznis/needflow/internal/observability/logger"
	"github.com/smallbiznis/needflow/internal/observability/metrics"
	"github.com/smallbiznis/needflow/internal/providers/pdf"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
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
	MatchRepo matchdomain.Repository
	Approval  approvaldomain.Service
	Authz     authorization.Service
	Catalog   catalogdomain.Lookup
	PDF       pdf.Provider               `optional:"true"`
	Policy    *config.PolicyConfigHolder `optional:"true"`
	AuditSvc  auditdomain.Service        `optional:"true"`
	Metrics   *metrics.Metrics           `optional:"true"`
	Lifecycle *metrics.LifecycleMetrics  `optional:"true"`
	Clock     clock.Clock                `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	needRepo  needdomain.Repository
	matchRepo matchdomain.Repository
	approval  approvaldomain.Service
	authz     authorization.Service
	catalog   catalogdomain.Lookup
	pdf       pdf.Provider
	policy    *config.PolicyConfigHolder
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
	provider := p.PDF
	if provider == nil {
		provider = pdf.New()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("distribution.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		needRepo:  p.NeedRepo,
		matchRepo: p.MatchRepo,
		approval:  p.Approval,
		authz:     p.Authz,
		catalog:   p.Catalog,
		pdf:       provider,
		policy:    p.Policy,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
		lifecycle: p.Lifecycle,
		clock:     c,
	}
}

func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (domain.Batch, error) {
	if err := s.authz.RequireRole(ctx, req.Actor, authorization.RoleStaff); err != nil {
		s.failed(ctx, "create", 0, err)
		return domain.Batch{}, err
	}
	if req.DistributionDate.IsZero() {
		return domain.Batch{}, domain.ErrInvalidDistribution
	}

	ids := dedupe(req.NeedIDs)
	if len(ids) == 0 {
		return domain.Batch{}, domain.ErrEmptyBatch
	}
	if limit := s.maxMembers(); limit > 0 && len(ids) > limit {
		return domain.Batch{}, domain.ErrBatchTooLarge
	}

	now := s.clock.Now().UTC()
	batch := domain.Batch{
		ID:                s.genID.Generate(),
		DistributionDate:  req.DistributionDate.UTC(),
		CreatedByWorkerID: req.Actor.WorkerID,
		Status:            domain.BatchStatusPending,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		batch.Notes = &notes
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		found, err := s.needRepo.FindByIDsForUpdate(ctx, tx, ids)
		s.lifecycle.ObserveLockWait(metrics.LockResourceNeed, time.Since(lockStart))
		if err != nil {
			return err
		}

		byID := make(map[snowflake.ID]*needdomain.Need, len(found))
		for _, need := range found {
			byID[need.ID] = need
		}

		ineligible := domain.NewNeedNotEligibleError()
		cases := map[snowflake.ID]struct{}{}
		var total int64
		for _, id := range ids {
			need, ok := byID[id]
			switch {
			case !ok:
				ineligible.Add(id, domain.ReasonNotFound)
			case !need.IsRegular():
				ineligible.Add(id, domain.ReasonNotRegular)
			case need.Status != needdomain.StatusApproved:
				ineligible.Add(id, domain.ReasonNotApproved)
			case need.BatchID != nil:
				ineligible.Add(id, domain.ReasonAlreadyBatched)
			default:
				cases[need.CaseID] = struct{}{}
				total += need.RequestedQuantity
			}
		}
		if !ineligible.Empty() {
			return ineligible
		}

		batch.CaseCount = len(cases)
		batch.TotalSupplyItems = total
		if err := s.repo.Insert(ctx, tx, &batch); err != nil {
			return err
		}

		for _, id := range ids {
			need := byID[id]
			batchID := batch.ID
			need.BatchID = &batchID
			need.UpdatedAt = now
			if err := s.needRepo.UpdateLifecycle(ctx, tx, need); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, req.Actor, "batch.create", batch.ID, map[string]any{
			"need_ids":           idStrings(ids),
			"case_count":         batch.CaseCount,
			"total_supply_items": batch.TotalSupplyItems,
			"distribution_date":  batch.DistributionDate.Format(time.DateOnly),
		})
	})
	if err != nil {
		s.failed(ctx, "create", 0, err)
		return domain.Batch{}, err
	}

	s.lifecycle.ObserveBatchTransition("none", string(domain.BatchStatusPending))
	s.metrics.RecordBatchEvent(ctx, "create", len(ids))
	s.log.Info("batch created",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("members", len(ids)),
		zap.Int("case_count", batch.CaseCount),
		zap.Int64("total_supply_items", batch.TotalSupplyItems),
		zap.String("actor", req.Actor.String()),
	)
	return batch, nil
}

func (s *Service) ApproveBatch(ctx context.Context, batchID snowflake.ID, actor authorization.Actor) (domain.Batch, error) {
	var collected []snowflake.ID
	batch, applied, err := s.transition(ctx, batchID, domain.BatchActionApprove, actor, func(tx *gorm.DB, batch *domain.Batch, now time.Time) (map[string]any, error) {
		members, err := s.lockMembers(ctx, tx, batch.ID)
		if err != nil {
			return nil, err
		}

		if err := validateMembers(batch, members); err != nil {
			return nil, err
		}

		approvedBy := actor.WorkerID
		batch.ApprovedAt = &now
		batch.ApprovedByWorkerID = &approvedBy
		for _, need := range members {
			if err := s.approval.ApplyCollect(ctx, tx, need, &batch.ID, batch.DistributionDate); err != nil {
				return nil, err
			}
			collected = append(collected, need.ID)
		}
		return map[string]any{
			"collected_need_ids": idStrings(collected),
			"pickup_date":        batch.DistributionDate.Format(time.DateOnly),
		}, nil
	})
	if err != nil {
		return domain.Batch{}, err
	}
	if applied {
		s.metrics.RecordBatchEvent(ctx, "approve", len(collected))
	}
	return batch, nil
}

func (s *Service) RejectBatch(ctx context.Context, batchID snowflake.ID, actor authorization.Actor, reason string) (domain.Batch, error) {
	var released []snowflake.ID
	batch, applied, err := s.transition(ctx, batchID, domain.BatchActionReject, actor, func(tx *gorm.DB, batch *domain.Batch, now time.Time) (map[string]any, error) {
		members, err := s.lockMembers(ctx, tx, batch.ID)
		if err != nil {
			return nil, err
		}

		rejectedBy := actor.WorkerID
		batch.RejectedAt = &now
		batch.RejectedByWorkerID = &rejectedBy
		if trimmed := strings.TrimSpace(reason); trimmed != "" {
			batch.RejectionReason = &trimmed
		}
		for _, need := range members {
			need.BatchID = nil
			need.UpdatedAt = now
			if err := s.needRepo.UpdateLifecycle(ctx, tx, need); err != nil {
				return nil, err
			}
			released = append(released, need.ID)
		}
		return map[string]any{
			"released_need_ids": idStrings(released),
			"reason":            reason,
		}, nil
	})
	if err != nil {
		return domain.Batch{}, err
	}
	if applied {
		s.metrics.RecordBatchEvent(ctx, "reject", len(released))
	}
	return batch, nil
}

func (s *Service) CompleteBatch(ctx context.Context, batchID snowflake.ID, actor authorization.Actor) (domain.Batch, error) {
	batch, applied, err := s.transition(ctx, batchID, domain.BatchActionComplete, actor, func(tx *gorm.DB, batch *domain.Batch, now time.Time) (map[string]any, error) {
		batch.CompletedAt = &now
		return nil, nil
	})
	if err != nil {
		return domain.Batch{}, err
	}
	if applied {
		s.metrics.RecordBatchEvent(ctx, "complete", 0)
	}
	return batch, nil
}

// transition locks the batch, resolves action against BatchGraph and runs
// apply before persisting the new status. The metadata apply returns is
// audited in the same transaction. Replays return the stored batch.
func (s *Service) transition(ctx context.Context, batchID snowflake.ID, action domain.BatchAction, actor authorization.Actor, apply func(tx *gorm.DB, batch *domain.Batch, now time.Time) (map[string]any, error)) (domain.Batch, bool, error) {
	if err := actor.Validate(); err != nil {
		return domain.Batch{}, false, err
	}

	var (
		result  domain.Batch
		from    domain.BatchStatus
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.lockBatch(ctx, tx, batchID)
		if err != nil {
			return err
		}
		result = *batch
		from = batch.Status

		edge, ok := domain.BatchGraph.Lookup(batch.Status, action)
		if !ok {
			replay, ok := domain.BatchGraph.Replay(batch.Status, action)
			if !ok {
				return needdomain.ErrIllegalTransition
			}
			return s.authz.RequireRole(ctx, actor, replay.Requires)
		}
		if err := s.authz.RequireRole(ctx, actor, edge.Requires); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		metadata, err := apply(tx, batch, now)
		if err != nil {
			return err
		}
		batch.Status = edge.To
		batch.UpdatedAt = now
		if err := s.repo.UpdateLifecycle(ctx, tx, batch); err != nil {
			return err
		}
		result = *batch
		applied = true
		return s.audit(ctx, tx, actor, "batch."+string(action), batch.ID, metadata)
	})
	if err != nil {
		s.failed(ctx, string(action), batchID, err)
		return domain.Batch{}, false, err
	}

	if applied {
		s.lifecycle.ObserveBatchTransition(string(from), string(result.Status))
		s.log.Info("batch transitioned",
			zap.String("batch_id", result.ID.String()),
			zap.String("action", string(action)),
			zap.String("from", string(from)),
			zap.String("to", string(result.Status)),
			zap.String("actor", actor.String()),
		)
	} else {
		s.log.Debug("batch transition replayed",
			zap.String("batch_id", result.ID.String()),
			zap.String("action", string(action)),
			zap.String("status", string(result.Status)),
		)
	}
	return result, applied, nil
}

// validateMembers is the validate phase of an approval cascade. It reads
// only and reports every offending member at once.
func validateMembers(batch *domain.Batch, members []*needdomain.Need) error {
	inconsistent := domain.NewInconsistentBatchError(batch.ID)
	if len(members) == 0 {
		inconsistent.Add(batch.ID, domain.ReasonNoMembers)
		return inconsistent
	}

	var total int64
	for _, need := range members {
		total += need.RequestedQuantity
		switch {
		case !need.IsRegular():
			inconsistent.Add(need.ID, domain.ReasonNotRegular)
		case need.Status != needdomain.StatusApproved:
			inconsistent.Add(need.ID, domain.ReasonNotApproved)
		case need.BatchID == nil || *need.BatchID != batch.ID:
			inconsistent.Add(need.ID, domain.ReasonOtherBatch)
		}
	}
	if total != batch.TotalSupplyItems {
		inconsistent.Add(batch.ID, domain.ReasonTotalMismatch)
	}
	if inconsistent.Empty() {
		return nil
	}
	return inconsistent
}

func (s *Service) GetDetails(ctx context.Context, batchID snowflake.ID) (domain.BatchDetails, error) {
	batch, err := s.repo.FindByID(ctx, s.db, batchID)
	if err != nil {
		return domain.BatchDetails{}, err
	}
	if batch == nil {
		return domain.BatchDetails{}, domain.ErrBatchNotFound
	}

	members, err := s.needRepo.FindByBatchID(ctx, s.db, batch.ID, false)
	if err != nil {
		return domain.BatchDetails{}, err
	}

	needIDs := make([]snowflake.ID, 0, len(members))
	itemIDs := make([]snowflake.ID, 0, len(members))
	for _, need := range members {
		needIDs = append(needIDs, need.ID)
		if need.SupplyItemID != nil {
			itemIDs = append(itemIDs, *need.SupplyItemID)
		}
	}

	matches, err := s.matchRepo.ListByNeeds(ctx, s.db, needIDs)
	if err != nil {
		return domain.BatchDetails{}, err
	}
	matchesByNeed := make(map[snowflake.ID][]matchdomain.Match, len(members))
	for _, match := range matches {
		matchesByNeed[match.NeedID] = append(matchesByNeed[match.NeedID], *match)
	}

	items, err := s.catalog.LookupMany(ctx, itemIDs)
	if err != nil {
		return domain.BatchDetails{}, err
	}

	details := domain.BatchDetails{
		Batch:   *batch,
		Members: make([]domain.Member, 0, len(members)),
	}
	for _, need := range members {
		member := domain.Member{
			Need:    *need,
			Matches: matchesByNeed[need.ID],
		}
		if member.Matches == nil {
			member.Matches = []matchdomain.Match{}
		}
		if need.SupplyItemID != nil {
			if item, ok := items[*need.SupplyItemID]; ok {
				member.SupplyItem = &item
			}
		}
		details.Members = append(details.Members, member)
	}
	return details, nil
}

func (s *Service) List(ctx context.Context, req domain.ListBatchRequest) (domain.ListBatchResponse, error) {
	status, err := domain.ParseBatchStatus(string(req.Status))
	if err != nil {
		return domain.ListBatchResponse{}, err
	}
	filter := domain.ListFilter{Status: status}

	if strings.TrimSpace(req.PageToken) != "" {
		rawID, createdAt, err := pagination.DecodeTimeCursor(req.PageToken)
		if err != nil {
			return domain.ListBatchResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(rawID)
		if err != nil || id == 0 {
			return domain.ListBatchResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.ClampPageSize(req.PageSize)
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListBatchResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(batch *domain.Batch) string {
		return pagination.EncodeTimeCursor(batch.ID.String(), batch.CreatedAt)
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	batches := make([]domain.Batch, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		batches = append(batches, *item)
	}

	resp := domain.ListBatchResponse{Batches: batches}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Manifest(ctx context.Context, batchID snowflake.ID) (io.Reader, error) {
	details, err := s.GetDetails(ctx, batchID)
	if err != nil {
		return nil, err
	}

	batch := details.Batch
	data := pdf.ManifestData{
		BatchID:          batch.ID.String(),
		Status:           string(batch.Status),
		DistributionDate: batch.DistributionDate.Format(time.DateOnly),
		CreatedBy:        batch.CreatedByWorkerID.String(),
		CaseCount:        batch.CaseCount,
		TotalSupplyItems: batch.TotalSupplyItems,
		Lines:            make([]pdf.ManifestLine, 0, len(details.Members)),
	}
	if batch.ApprovedByWorkerID != nil {
		data.ApprovedBy = batch.ApprovedByWorkerID.String()
	}
	if batch.Notes != nil {
		data.Notes = *batch.Notes
	}
	for _, member := range details.Members {
		line := pdf.ManifestLine{
			CaseID:    member.Need.CaseID.String(),
			NeedID:    member.Need.ID.String(),
			ItemName:  member.Need.ItemName,
			Requested: member.Need.RequestedQuantity,
			Collected: member.Need.CollectedQuantity,
			Status:    string(member.Need.Status),
		}
		if member.SupplyItem != nil {
			line.ItemName = member.SupplyItem.Name
			line.Unit = member.SupplyItem.Unit
		}
		data.Lines = append(data.Lines, line)
	}

	return s.pdf.GenerateManifest(ctx, data)
}

func (s *Service) lockBatch(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) (*domain.Batch, error) {
	if batchID == 0 {
		return nil, domain.ErrBatchNotFound
	}
	lockStart := time.Now()
	batch, err := s.repo.FindByIDForUpdate(ctx, tx, batchID)
	s.lifecycle.ObserveLockWait(metrics.LockResourceBatch, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, domain.ErrBatchNotFound
	}
	return batch, nil
}

func (s *Service) lockMembers(ctx context.Context, tx *gorm.DB, batchID snowflake.ID) ([]*needdomain.Need, error) {
	lockStart := time.Now()
	members, err := s.needRepo.FindByBatchID(ctx, tx, batchID, true)
	s.lifecycle.ObserveLockWait(metrics.LockResourceNeedsByBatch, time.Since(lockStart))
	return members, err
}

func (s *Service) maxMembers() int {
	if s.policy == nil {
		return config.DefaultPolicyConfig().Batch.MaxMembers
	}
	return s.policy.Get().Batch.MaxMembers
}

func (s *Service) failed(ctx context.Context, event string, batchID snowflake.ID, err error) {
	s.authz.RecordDenial(ctx, err)

	var inconsistent *domain.InconsistentBatchError
	if errors.As(err, &inconsistent) {
		s.metrics.RecordInconsistentBatch(ctx, event)
		obslogger.WithContext(ctx, s.log).Error("inconsistent batch, cascade aborted",
			zap.String("batch_id", batchID.String()),
			zap.String("event", event),
			zap.Strings("need_ids", idStrings(inconsistent.NeedIDs())),
			zap.Error(err),
		)
		return
	}
	if isDomainError(err) {
		s.log.Debug("batch operation refused", zap.String("event", event), zap.String("batch_id", batchID.String()), zap.Error(err))
		return
	}
	s.lifecycle.RecordTxFailure("batch_"+event, err)
	obslogger.WithContext(ctx, s.log).Error("batch operation failed", zap.String("event", event), zap.String("batch_id", batchID.String()), zap.Error(err))
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action string, batchID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorID := actor.WorkerID.String()
	targetID := batchID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, string(authorization.NormalizeRole(string(actor.Role))), &actorID, action, auditdomain.TargetBatch, &targetID, metadata)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrBatchNotFound) ||
		errors.Is(err, domain.ErrNeedNotEligible) ||
		errors.Is(err, needdomain.ErrIllegalTransition) ||
		errors.Is(err, authorization.ErrForbidden) ||
		errors.Is(err, authorization.ErrInvalidActor)
}

func dedupe(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
