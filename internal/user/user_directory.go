package user

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	usererrors "go-attendance/internal/user/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	SummaryKeyPrefix = "users:summary:"
	SummaryTTL       = 10 * time.Minute
)

func GetSummaryKey(userID string) string {
	return SummaryKeyPrefix + userID
}

// Directory resolves user ids to display data for joins. Unknown ids are
// simply absent from the result.
//
//go:generate mockgen -source=user_directory.go -destination=mock/user_directory_mock.go -package=mock
type Directory interface {
	Lookup(ctx context.Context, ids []string) (map[string]Summary, error)
	ActiveIDs(ctx context.Context) ([]string, error)
}

type directory struct {
	repo   Repository
	rdb    *redis.Client
	sf     *singleflight.Group
	logger *zap.Logger
}

func NewDirectory(repo Repository, rdb *redis.Client, logger ...*zap.Logger) Directory {
	l := zap.L().Named("user.directory")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("user.directory")
	}
	return &directory{repo: repo, rdb: rdb, sf: &singleflight.Group{}, logger: l}
}

func (d *directory) Lookup(ctx context.Context, ids []string) (map[string]Summary, error) {
	ids = uniqueSorted(ids)
	out := make(map[string]Summary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	missing := d.fromCache(ctx, ids, out)
	if len(missing) == 0 {
		return out, nil
	}

	// dashboards of the same team tend to ask at the same moment
	v, err, _ := d.sf.Do(strings.Join(missing, ","), func() (any, error) {
		users, err := d.repo.FindByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		found := make([]Summary, 0, len(users))
		for _, u := range users {
			found = append(found, toSummary(u))
		}
		d.toCache(ctx, found)
		return found, nil
	})
	if err != nil {
		d.logger.Error("user directory lookup failed", zap.Int("count", len(missing)), zap.Error(err))
		return nil, usererrors.ErrDirectoryUnavailable.WithCause(err)
	}

	for _, s := range v.([]Summary) {
		out[s.ID] = s
	}
	return out, nil
}

// ActiveIDs lists every active user. It is not cached; the list backs the
// absent view for unrestricted callers only.
func (d *directory) ActiveIDs(ctx context.Context) ([]string, error) {
	ids, err := d.repo.FindActiveIDs(ctx)
	if err != nil {
		d.logger.Error("list active users failed", zap.Error(err))
		return nil, usererrors.ErrDirectoryUnavailable.WithCause(err)
	}
	return ids, nil
}

func (d *directory) fromCache(ctx context.Context, ids []string, out map[string]Summary) []string {
	if d.rdb == nil {
		return ids
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = GetSummaryKey(id)
	}
	vals, err := d.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		d.logger.Warn("user summary cache read failed", zap.Error(err))
		return ids
	}

	var missing []string
	for i, raw := range vals {
		str, ok := raw.(string)
		var s Summary
		if !ok || json.Unmarshal([]byte(str), &s) != nil {
			missing = append(missing, ids[i])
			continue
		}
		out[s.ID] = s
	}
	return missing
}

func (d *directory) toCache(ctx context.Context, found []Summary) {
	if d.rdb == nil {
		return
	}
	for _, s := range found {
		payload, err := json.Marshal(s)
		if err != nil {
			continue
		}
		if err := d.rdb.Set(ctx, GetSummaryKey(s.ID), payload, SummaryTTL).Err(); err != nil {
			d.logger.Warn("user summary cache write failed", zap.String("user_id", s.ID), zap.Error(err))
		}
	}
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
