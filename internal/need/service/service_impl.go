package service

import (
	"context"
	"iter"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/clock"
	"github.com/smallbiznis/needflow/internal/need/domain"
	"github.com/smallbiznis/needflow/internal/observability/metrics"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// allPageSize is the page size All uses while walking the result set.
const allPageSize = 100

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Catalog  catalogdomain.Lookup
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
	Clock    clock.Clock         `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	catalog  catalogdomain.Lookup
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
	clock    clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("need.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		catalog:  p.Catalog,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
		clock:    c,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateNeedRequest) (domain.Need, error) {
	if req.Quantity <= 0 {
		return domain.Need{}, domain.ErrInvalidQuantity
	}
	if req.CaseID == 0 {
		return domain.Need{}, domain.ErrInvalidCase
	}
	if err := req.Actor.Validate(); err != nil {
		return domain.Need{}, err
	}

	kind, err := domain.ParseKind(string(req.Kind))
	if err != nil {
		return domain.Need{}, err
	}

	now := s.clock.Now().UTC()
	need := domain.Need{
		ID:                s.genID.Generate(),
		Kind:              kind,
		CaseID:            req.CaseID,
		WorkerID:          req.Actor.WorkerID,
		RequestedQuantity: req.Quantity,
		CollectedQuantity: 0,
		Status:            domain.StatusPending,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		need.Note = &note
	}

	switch kind {
	case domain.KindRegular:
		item, err := s.catalog.Lookup(ctx, req.SupplyItemID)
		if err != nil {
			return domain.Need{}, err
		}
		if !item.Active {
			return domain.Need{}, catalogdomain.ErrSupplyItemNotFound
		}
		itemID := item.ID
		need.SupplyItemID = &itemID
		need.ItemName = item.Name
	case domain.KindEmergency:
		name := strings.TrimSpace(req.ItemName)
		if name == "" {
			return domain.Need{}, domain.ErrInvalidItemName
		}
		priority, err := domain.ParsePriority(req.Priority)
		if err != nil {
			return domain.Need{}, err
		}
		need.ItemName = name
		need.Priority = &priority
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &need); err != nil {
			return err
		}
		return s.audit(ctx, tx, req.Actor, "need.create", need.ID, map[string]any{
			"kind":               string(kind),
			"case_id":            need.CaseID.String(),
			"item_name":          need.ItemName,
			"requested_quantity": need.RequestedQuantity,
		})
	})
	if err != nil {
		return domain.Need{}, err
	}

	s.metrics.RecordNeedCreated(ctx, string(kind))
	s.log.Info("need created",
		zap.String("need_id", need.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("case_id", need.CaseID.String()),
		zap.Int64("requested_quantity", need.RequestedQuantity),
	)
	return need, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Need, error) {
	if id == 0 {
		return domain.Need{}, domain.ErrNeedNotFound
	}
	need, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Need{}, err
	}
	if need == nil {
		return domain.Need{}, domain.ErrNeedNotFound
	}
	return *need, nil
}

func (s *Service) List(ctx context.Context, req domain.ListNeedRequest) (domain.ListNeedResponse, error) {
	filter, err := toListFilter(req.NeedFilter)
	if err != nil {
		return domain.ListNeedResponse{}, err
	}

	if strings.TrimSpace(req.PageToken) != "" {
		rawID, createdAt, err := pagination.DecodeTimeCursor(req.PageToken)
		if err != nil {
			return domain.ListNeedResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(rawID)
		if err != nil || id == 0 {
			return domain.ListNeedResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := pagination.ClampPageSize(req.PageSize)
	filter.Limit = pageSize

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListNeedResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(need *domain.Need) string {
		return pagination.EncodeTimeCursor(need.ID.String(), need.CreatedAt)
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	needs := make([]domain.Need, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		needs = append(needs, *item)
	}

	resp := domain.ListNeedResponse{Needs: needs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) All(ctx context.Context, filter domain.NeedFilter) iter.Seq2[domain.Need, error] {
	return func(yield func(domain.Need, error) bool) {
		token := ""
		for {
			page, err := s.List(ctx, domain.ListNeedRequest{
				Pagination: pagination.Pagination{PageToken: token, PageSize: allPageSize},
				NeedFilter: filter,
			})
			if err != nil {
				yield(domain.Need{}, err)
				return
			}
			for _, need := range page.Needs {
				if !yield(need, nil) {
					return
				}
			}
			if !page.HasMore || page.NextPageToken == "" {
				return
			}
			token = page.NextPageToken
		}
	}
}

func toListFilter(f domain.NeedFilter) (domain.ListFilter, error) {
	if f.Kind != "" {
		kind, err := domain.ParseKind(string(f.Kind))
		if err != nil {
			return domain.ListFilter{}, err
		}
		f.Kind = kind
	}
	if f.Status != "" {
		status := domain.Status(strings.ToLower(strings.TrimSpace(string(f.Status))))
		if !status.Valid() {
			return domain.ListFilter{}, domain.ErrInvalidStatus
		}
		f.Status = status
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedFrom.After(*f.CreatedTo) {
		return domain.ListFilter{}, domain.ErrInvalidTimeRange
	}
	return domain.ListFilter{
		CaseID:      f.CaseID,
		WorkerID:    f.WorkerID,
		Kind:        f.Kind,
		Status:      f.Status,
		BatchID:     f.BatchID,
		CreatedFrom: f.CreatedFrom,
		CreatedTo:   f.CreatedTo,
	}, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor authorization.Actor, action string, needID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorID := actor.WorkerID.String()
	targetID := needID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, string(authorization.NormalizeRole(string(actor.Role))), &actorID, action, auditdomain.TargetNeed, &targetID, metadata)
}
