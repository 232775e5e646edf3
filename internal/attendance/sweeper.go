package attendance

import (
	"context"
	"errors"
	"time"

	"go-attendance/internal/events"
	"go-attendance/internal/shared/audit"

	"go.uber.org/zap"
)

// errNotDue rolls back a sweep write whose record was refreshed after the
// batch was read.
var errNotDue = errors.New("attendance record no longer due for auto checkout")

// SweepAutoCheckouts takes today's silent online records offline. The batch
// read only nominates candidates; each one is re-read and closed inside its
// own transaction, so a heartbeat or check-in that landed since the batch
// read wins. A record that fails to persist is logged and skipped so the rest
// of the pass still runs.
func (s *service) SweepAutoCheckouts(ctx context.Context) (SweepResult, error) {
	now := s.now()
	today := now.In(s.loc).Format(dateLayout)
	result := SweepResult{Results: []SweepItem{}}

	rows, err := s.repo.FindOnlineByDate(ctx, today)
	if err != nil {
		s.logger.Error("sweep load online records failed", zap.String("date", today), zap.Error(err))
		return result, mapRepositoryError(err)
	}

	for i := range rows {
		candidate := rows[i]
		if due, err := candidate.CheckOfflineStatus(now, s.loc); err != nil || !due {
			if err != nil {
				s.logger.Warn("sweep skipped record",
					zap.String("record_id", candidate.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}

		rec, err := s.applyToDay(ctx, candidate.UserID, today, "", func(rec *Record, _ bool) (string, error) {
			changed, err := rec.CheckOfflineStatus(now, s.loc)
			if err != nil {
				return "", err
			}
			if !changed {
				return "", errNotDue
			}
			return events.AttendanceAutoCheckedOut, nil
		})
		if errors.Is(err, errNotDue) {
			s.logger.Debug("sweep candidate refreshed since batch read",
				zap.String("record_id", candidate.ID.String()),
			)
			continue
		}
		if err != nil {
			s.logger.Error("sweep persist failed",
				zap.String("record_id", candidate.ID.String()),
				zap.String("user_id", candidate.UserID.String()),
				zap.Error(err),
			)
			continue
		}

		checkOut := now.In(s.loc).Format(clockLayout)
		if rec.CheckOut != nil {
			checkOut = *rec.CheckOut
		}
		result.Results = append(result.Results, SweepItem{
			RecordID:   rec.ID.String(),
			UserID:     rec.UserID.String(),
			CheckOut:   checkOut,
			TotalHours: rec.TotalHours,
		})
	}
	result.ProcessedCount = len(result.Results)

	if result.ProcessedCount > 0 {
		s.audit.Log(ctx, audit.Entry{
			Action:  "attendance.sweep",
			ActorID: string(MarkedBySystem),
			Message: "auto checkout after inactivity",
			Meta: map[string]any{
				"date":      today,
				"processed": result.ProcessedCount,
				"scanned":   len(rows),
			},
		})
	}
	s.logger.Info("sweep finished",
		zap.String("date", today),
		zap.Int("scanned", len(rows)),
		zap.Int("processed", result.ProcessedCount),
	)
	return result, nil
}

// RunSweeper calls SweepAutoCheckouts every interval until ctx is done.
func RunSweeper(ctx context.Context, svc Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.L()
	}

	log := logger.Named("attendance.sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := svc.SweepAutoCheckouts(ctx); err != nil {
				log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
