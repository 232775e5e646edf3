package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	"go.uber.org/zap"
)

const policyTTL = time.Minute

type Service interface {
	LoadPolicy(ctx context.Context) error
	Enforce(req EnforceRequest) (bool, error)
}

type service struct {
	repo      Repository
	enforcer  *casbin.Enforcer
	mu        sync.RWMutex
	checkedAt time.Time
	now       func() time.Time
	logger    *zap.Logger
}

func NewService(repo Repository, enforcer *casbin.Enforcer, logger ...*zap.Logger) Service {
	l := zap.L().Named("rbac.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("rbac.service")
	}
	return &service{
		repo:     repo,
		enforcer: enforcer,
		now:      time.Now,
		logger:   l,
	}
}

func (s *service) LoadPolicy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadPolicyUnlocked(ctx)
}

func (s *service) loadPolicyUnlocked(ctx context.Context) error {
	rows, err := s.repo.GetRolePermissions(ctx)
	if err != nil {
		return err
	}

	perms := make([]Permission, 0, len(rows))
	for _, row := range rows {
		perms = append(perms, Permission{Role: row.Role, Resource: row.Resource, Action: row.Action})
	}
	source := "database"
	if len(perms) == 0 {
		perms = DefaultPermissions
		source = "default"
	}

	s.enforcer.ClearPolicy()
	for _, pair := range RoleHierarchy {
		if _, err := s.enforcer.AddGroupingPolicy(pair[0], pair[1]); err != nil {
			return err
		}
	}
	for _, p := range perms {
		if _, err := s.enforcer.AddPolicy(p.Role, p.Resource, p.Action); err != nil {
			return err
		}
	}

	s.checkedAt = s.now()
	s.logger.Info("rbac policy loaded",
		zap.String("source", source),
		zap.Int("permissions", len(perms)),
	)
	return nil
}

// Enforce answers from the loaded policy and reloads it once it is older
// than policyTTL. A failed reload keeps serving the previous policy and is
// not retried before another policyTTL has passed.
func (s *service) Enforce(req EnforceRequest) (bool, error) {
	s.refreshIfStale()

	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed, err := s.enforcer.Enforce(req.Role, req.Resource, req.Action)
	if err != nil {
		s.logger.Error("rbac enforce failed",
			zap.String("role", req.Role),
			zap.String("resource", req.Resource),
			zap.String("action", req.Action),
			zap.Error(err),
		)
		return false, err
	}

	s.logger.Debug("rbac enforce result",
		zap.String("role", req.Role),
		zap.String("resource", req.Resource),
		zap.String("action", req.Action),
		zap.Bool("allowed", allowed),
	)
	return allowed, nil
}

func (s *service) refreshIfStale() {
	s.mu.RLock()
	stale := s.checkedAt.IsZero() || s.now().Sub(s.checkedAt) > policyTTL
	s.mu.RUnlock()
	if !stale {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.checkedAt.IsZero() && s.now().Sub(s.checkedAt) <= policyTTL {
		return
	}
	if err := s.loadPolicyUnlocked(context.Background()); err != nil {
		s.checkedAt = s.now()
		s.logger.Warn("rbac policy reload failed", zap.Error(err))
	}
}
