package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/clock"
	obscontext "github.com/smallbiznis/needflow/internal/observability/context"
	"github.com/smallbiznis/needflow/pkg/db/pagination"
	"github.com/smallbiznis/needflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	svc := &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
	if svc.clock == nil {
		svc.clock = clock.SystemClock{}
	}
	return svc
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return s.AuditLogTx(ctx, s.db, actorType, actorID, action, targetType, targetID, metadata)
}

func (s *Service) AuditLogTx(ctx context.Context, tx *gorm.DB, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	if tx == nil {
		tx = s.db
	}
	entry, err := s.newEntry(ctx, actorType, actorID, action, targetType, targetID, metadata)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		s.log.Warn("audit entry not written",
			zap.String("action", entry.Action),
			zap.String("target_type", entry.TargetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) newEntry(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) (*auditdomain.AuditLog, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	entry := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		Action:     action,
		TargetType: targetType,
		TargetID:   trimmedOrNil(targetID),
		Metadata:   entryMetadata(ctx, metadata),
		CreatedAt:  s.clock.Now().UTC(),
	}
	entry.ActorType, entry.ActorID = actorOf(ctx, strings.TrimSpace(actorType), actorID)

	if ip := obscontext.IPAddressFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if agent := obscontext.UserAgentFromContext(ctx); agent != "" {
		entry.UserAgent = &agent
	}
	return entry, nil
}

// entryMetadata copies the caller's metadata and stamps the request and
// correlation ids found on ctx.
func entryMetadata(ctx context.Context, metadata map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range metadata {
		if key != "" {
			out[key] = value
		}
	}
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		out["request_id"] = id
	}
	if id := correlation.ExtractCorrelationID(ctx); id != "" {
		out["correlation_id"] = id
	}
	return out
}

// actorOf falls back to the worker carried by ctx, then to the system actor.
func actorOf(ctx context.Context, actorType string, actorID *string) (string, *string) {
	id := trimmedOrNil(actorID)
	if actorType != "" {
		return actorType, id
	}

	role, workerID := obscontext.ActorFromContext(ctx)
	if role == "" {
		return string(auditdomain.ActorTypeSystem), id
	}
	if id == nil && workerID != "" {
		id = &workerID
	}
	return role, id
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	limit := pagination.ClampPageSize(req.PageSize)
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		ActorID:    req.ActorID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: make([]auditdomain.AuditLog, 0, min(len(rows), limit))}
	if info := pagination.BuildCursorPageInfo(rows, int32(limit), func(row *auditdomain.AuditLog) string {
		return pagination.EncodeTimeCursor(row.ID.String(), row.CreatedAt)
	}); info != nil {
		resp.PageInfo = *info
	}
	for _, row := range rows {
		if len(resp.AuditLogs) == limit {
			break
		}
		if row != nil {
			resp.AuditLogs = append(resp.AuditLogs, *row)
		}
	}
	return resp, nil
}

func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	rawID, createdAt, err := pagination.DecodeTimeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(rawID)
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}
