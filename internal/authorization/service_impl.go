package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	"github.com/smallbiznis/needflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// objectTier is the casbin object every ladder policy is written against.
const objectTier = "tier"

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Policy   *config.PolicyConfigHolder
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service

	mu     sync.RWMutex
	ladder []Role
}

// NewEnforcer builds the role-tier enforcer. Policies persist in casbin_rule
// when db is set and live in memory otherwise.
func NewEnforcer(db *gorm.DB, policy *config.PolicyConfigHolder) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if db != nil {
		adapter, err := gormadapter.NewAdapterByDB(db)
		if err != nil {
			return nil, err
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
		if err != nil {
			return nil, err
		}
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, err
		}
	}
	enforcer.EnableAutoBuildRoleLinks(true)

	if err := seedPolicies(enforcer, ladderFrom(policy)); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	svc := &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
		ladder:   ladderFrom(p.Policy),
	}

	if p.Policy != nil {
		p.Policy.OnChange(func(cfg config.PolicyConfig) {
			ladder := toRoles(cfg.RoleLadder)
			if err := svc.reload(ladder); err != nil {
				svc.log.Error("failed to apply role ladder", zap.Strings("ladder", cfg.RoleLadder), zap.Error(err))
				return
			}
			svc.log.Info("role ladder reloaded", zap.Strings("ladder", cfg.RoleLadder))
		})
	}
	return svc
}

func (s *ServiceImpl) RequireRole(_ context.Context, actor Actor, minimum Role) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	minimum = NormalizeRole(string(minimum))
	if minimum == "" {
		return ErrInvalidRole
	}

	allowed, err := s.Allows(actor.Role, minimum)
	if err != nil {
		return err
	}
	if !allowed {
		return &DeniedError{Actor: actor, Required: minimum}
	}
	return nil
}

func (s *ServiceImpl) RecordDenial(ctx context.Context, err error) {
	var denied *DeniedError
	if s.auditSvc == nil || !errors.As(err, &denied) {
		return
	}
	actorID := denied.Actor.WorkerID.String()
	required := string(denied.Required)
	if err := s.auditSvc.AuditLog(ctx, string(NormalizeRole(string(denied.Actor.Role))), &actorID, "authorization.denied", "role_tier", &required, map[string]any{
		"role":     string(denied.Actor.Role),
		"required": required,
	}); err != nil {
		s.log.Warn("denial not audited", zap.Error(err))
	}
}

func (s *ServiceImpl) Allows(role Role, minimum Role) (bool, error) {
	role = NormalizeRole(string(role))
	minimum = NormalizeRole(string(minimum))
	if role == "" || minimum == "" {
		return false, nil
	}
	return s.enforcer.Enforce(subjectFor(role), objectTier, string(minimum))
}

func (s *ServiceImpl) Ladder() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ladder)
}

func (s *ServiceImpl) reload(ladder []Role) error {
	if err := syncLadder(s.enforcer, ladder); err != nil {
		return err
	}
	s.mu.Lock()
	s.ladder = ladder
	s.mu.Unlock()
	return nil
}

func subjectFor(role Role) string {
	return fmt.Sprintf("role:%s", role)
}

func ladderFrom(policy *config.PolicyConfigHolder) []Role {
	if policy == nil {
		return toRoles(config.DefaultPolicyConfig().RoleLadder)
	}
	return toRoles(policy.Get().RoleLadder)
}

func toRoles(raw []string) []Role {
	out := make([]Role, 0, len(raw))
	for _, value := range raw {
		role := NormalizeRole(value)
		if role == "" {
			continue
		}
		out = append(out, role)
	}
	return out
}

// ladderRules expands an ordered ladder into one permission per role plus an
// inheritance edge from every role to the one directly below it.
func ladderRules(ladder []Role) (policies [][]string, groupings [][]string) {
	for i, role := range ladder {
		policies = append(policies, []string{subjectFor(role), objectTier, string(role)})
		if i > 0 {
			groupings = append(groupings, []string{subjectFor(role), subjectFor(ladder[i-1])})
		}
	}
	return policies, groupings
}

func seedPolicies(enforcer *casbin.SyncedEnforcer, ladder []Role) error {
	return syncLadder(enforcer, ladder)
}

func syncLadder(enforcer *casbin.SyncedEnforcer, ladder []Role) error {
	if len(ladder) == 0 {
		return ErrInvalidRole
	}
	wantPolicies, wantGroupings := ladderRules(ladder)

	existing, err := enforcer.GetFilteredPolicy(1, objectTier)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if containsRule(wantPolicies, rule) {
			continue
		}
		if _, err := enforcer.RemovePolicy(toParams(rule)...); err != nil {
			return err
		}
	}
	for _, rule := range wantPolicies {
		has, err := enforcer.HasPolicy(toParams(rule)...)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(toParams(rule)...); err != nil {
			return err
		}
	}

	existingGroupings, err := enforcer.GetGroupingPolicy()
	if err != nil {
		return err
	}
	for _, rule := range existingGroupings {
		if len(rule) < 2 || !strings.HasPrefix(rule[0], "role:") || containsRule(wantGroupings, rule) {
			continue
		}
		if _, err := enforcer.RemoveGroupingPolicy(toParams(rule)...); err != nil {
			return err
		}
	}
	for _, rule := range wantGroupings {
		has, err := enforcer.HasGroupingPolicy(toParams(rule)...)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(toParams(rule)...); err != nil {
			return err
		}
	}
	return nil
}

func containsRule(rules [][]string, rule []string) bool {
	for _, candidate := range rules {
		if slices.Equal(candidate, rule) {
			return true
		}
	}
	return false
}

func toParams(rule []string) []interface{} {
	params := make([]interface{}, 0, len(rule))
	for _, value := range rule {
		params = append(params, value)
	}
	return params
}
