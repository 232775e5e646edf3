package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/events"
	"go-attendance/internal/identity"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	PresenceKeyPrefix = "attendance:presence:"
	PresenceTTL       = 48 * time.Hour
)

func GetPresenceKey(date string) string {
	return PresenceKeyPrefix + date
}

// PresenceBoard is a read model of who is on the clock, fed by lifecycle
// events and keyed by day.
type PresenceBoard interface {
	Apply(ctx context.Context, event events.AttendanceEvent) error
	Snapshot(ctx context.Context, date string) ([]PresenceEntry, error)
}

type redisPresenceBoard struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPresenceBoard(rdb *redis.Client, logger ...*zap.Logger) PresenceBoard {
	l := zap.L().Named("attendance.presence")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("attendance.presence")
	}
	return &redisPresenceBoard{rdb: rdb, logger: l}
}

// Apply stores the event's view of the user. Replays and late deliveries
// older than the stored entry are ignored.
func (b *redisPresenceBoard) Apply(ctx context.Context, event events.AttendanceEvent) error {
	if event.Date == "" || event.UserID == "" {
		return errors.New("presence event needs date and user id")
	}
	key := GetPresenceKey(event.Date)

	raw, err := b.rdb.HGet(ctx, key, event.UserID).Result()
	switch {
	case err == nil:
		var current PresenceEntry
		if json.Unmarshal([]byte(raw), &current) == nil && current.UpdatedAt.After(event.OccurredAt) {
			b.logger.Debug("presence event older than board, skipping",
				zap.String("user_id", event.UserID),
				zap.String("event_type", event.EventType),
			)
			return nil
		}
	case errors.Is(err, redis.Nil):
	default:
		return err
	}

	payload, err := json.Marshal(PresenceEntry{
		UserID:       event.UserID,
		RecordID:     event.RecordID,
		IsOnline:     event.IsOnline,
		Status:       DisplayStatus(Status(event.Status)),
		TotalHours:   event.TotalHours,
		LastEvent:    event.EventType,
		LastActivity: event.LastActivity,
		UpdatedAt:    event.OccurredAt,
	})
	if err != nil {
		return err
	}

	if err := b.rdb.HSet(ctx, key, event.UserID, payload).Err(); err != nil {
		return err
	}
	return b.rdb.Expire(ctx, key, PresenceTTL).Err()
}

func (b *redisPresenceBoard) Snapshot(ctx context.Context, date string) ([]PresenceEntry, error) {
	fields, err := b.rdb.HGetAll(ctx, GetPresenceKey(date)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]PresenceEntry, 0, len(fields))
	for userID, raw := range fields {
		var e PresenceEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			b.logger.Warn("presence entry unreadable", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *service) Presence(ctx context.Context, caller identity.Identity, date string) ([]PresenceEntry, error) {
	scope, err := ResolveScope(caller, "")
	if err != nil {
		return nil, err
	}
	if date == "" {
		date = s.now().In(s.loc).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, attendanceerrors.ErrInvalidDate
	}
	if s.board == nil || scope.Empty() {
		return []PresenceEntry{}, nil
	}

	entries, err := s.board.Snapshot(ctx, date)
	if err != nil {
		s.logger.Error("presence snapshot failed", zap.String("date", date), zap.Error(err))
		return nil, err
	}

	out := make([]PresenceEntry, 0, len(entries))
	for _, e := range entries {
		if scope.Allows(e.UserID) {
			out = append(out, e)
		}
	}
	return out, nil
}
