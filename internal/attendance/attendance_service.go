package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/events"
	"go-attendance/internal/identity"
	"go-attendance/internal/messaging/kafka"
	"go-attendance/internal/shared/apperror"
	"go-attendance/internal/shared/audit"
	"go-attendance/internal/shared/contextutil"
	"go-attendance/internal/user"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const aggregateType = "attendance"

//go:generate mockgen -source=attendance_service.go -destination=mock/attendance_service_mock.go -package=mock
type Service interface {
	MarkAttendance(ctx context.Context, caller identity.Identity, req MarkAttendanceRequest) (RecordResponse, error)
	CheckIn(ctx context.Context, caller identity.Identity, req CheckInRequest) (RecordResponse, error)
	CheckOut(ctx context.Context, caller identity.Identity, req CheckOutRequest) (RecordResponse, error)
	Heartbeat(ctx context.Context, caller identity.Identity) (HeartbeatResponse, error)
	GetStatus(ctx context.Context, caller identity.Identity, date string) (StatusResponse, error)
	List(ctx context.Context, caller identity.Identity, q ListRecordsQuery) ([]RecordResponse, error)
	GetByID(ctx context.Context, caller identity.Identity, id string) (RecordResponse, error)
	Verify(ctx context.Context, caller identity.Identity, id string, req VerifyRequest) (RecordResponse, error)
	GetStats(ctx context.Context, caller identity.Identity, q StatsQuery) (StatsResponse, error)
	SweepAutoCheckouts(ctx context.Context) (SweepResult, error)
	Presence(ctx context.Context, caller identity.Identity, date string) ([]PresenceEntry, error)
}

type Option func(*service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger.Named("attendance.service")
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the timezone HH:MM values and calendar days are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithAuditLogger(a audit.Logger) Option {
	return func(s *service) {
		if a != nil {
			s.audit = a
		}
	}
}

func WithPresenceBoard(board PresenceBoard) Option {
	return func(s *service) {
		s.board = board
	}
}

type service struct {
	db     *sql.DB
	repo   Repository
	outbox kafka.OutboxRepository
	users  user.Directory
	board  PresenceBoard
	audit  audit.Logger
	now    func() time.Time
	loc    *time.Location
	logger *zap.Logger
}

func NewService(
	db *sql.DB,
	repo Repository,
	outbox kafka.OutboxRepository,
	users user.Directory,
	opts ...Option,
) Service {
	s := &service{
		db:     db,
		repo:   repo,
		outbox: outbox,
		users:  users,
		audit:  audit.Noop(),
		now:    time.Now,
		loc:    time.UTC,
		logger: zap.L().Named("attendance.service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dayMutation edits a record in place and names the lifecycle event to
// publish. An empty event type persists without publishing.
type dayMutation func(rec *Record, created bool) (string, error)

func (s *service) MarkAttendance(ctx context.Context, caller identity.Identity, req MarkAttendanceRequest) (RecordResponse, error) {
	rid := contextutil.GetRequestID(ctx)
	if caller.IsZero() {
		return RecordResponse{}, attendanceerrors.ErrUnauthenticated
	}

	checkIn := strings.TrimSpace(req.CheckIn)
	if checkIn == "" {
		return RecordResponse{}, apperror.RequiredField("check_in")
	}
	inMinutes, err := parseClock(checkIn)
	if err != nil {
		return RecordResponse{}, err
	}
	var checkOut *string
	if req.CheckOut != nil && strings.TrimSpace(*req.CheckOut) != "" {
		out := strings.TrimSpace(*req.CheckOut)
		if _, err := parseClock(out); err != nil {
			return RecordResponse{}, err
		}
		checkOut = &out
	}

	target, markedBy, err := resolveTarget(caller, req.UserID)
	if err != nil {
		s.logger.Warn("mark attendance target rejected",
			zap.String("request_id", rid),
			zap.String("caller_id", caller.UserID),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return RecordResponse{}, err
	}

	now := s.now()
	date := now.In(s.loc).Format(dateLayout)
	s.logger.Debug("mark attendance requested",
		zap.String("request_id", rid),
		zap.String("user_id", target.String()),
		zap.String("date", date),
		zap.String("marked_by", string(markedBy)),
	)

	rec, err := s.applyToDay(ctx, target, date, markedBy, func(rec *Record, _ bool) (string, error) {
		// a manual entry ends whatever was running at its start time; an entry
		// before the running session would rewrite it as an overnight shift
		if idx := rec.openSessionIndex(); idx >= 0 {
			openedAt, err := parseClock(rec.Sessions[idx].CheckIn)
			if err != nil {
				return "", err
			}
			if inMinutes < openedAt {
				return "", attendanceerrors.ErrSessionAlreadyOpen
			}
		}
		if _, _, err := rec.CloseOpenSession(checkIn, ""); err != nil {
			return "", err
		}
		if _, err := rec.AddSession(checkIn, checkOut, req.Notes); err != nil {
			return "", err
		}
		rec.UpdateActivity(now)
		if !rec.HasOpenSession() {
			rec.IsOnline = false
		}
		return events.AttendanceMarked, nil
	})
	if err != nil {
		return RecordResponse{}, err
	}

	s.logger.Info("mark attendance success",
		zap.String("request_id", rid),
		zap.String("record_id", rec.ID.String()),
		zap.Int("sessions", len(rec.Sessions)),
	)
	return mapToResponse(*rec, nil), nil
}

func (s *service) CheckIn(ctx context.Context, caller identity.Identity, req CheckInRequest) (RecordResponse, error) {
	userID, err := callerUUID(caller)
	if err != nil {
		return RecordResponse{}, err
	}

	now := s.now()
	local := now.In(s.loc)
	clock := local.Format(clockLayout)

	rec, err := s.applyToDay(ctx, userID, local.Format(dateLayout), MarkedBySelf, func(rec *Record, _ bool) (string, error) {
		if rec.HasOpenSession() {
			return "", attendanceerrors.ErrSessionAlreadyOpen
		}
		if _, err := rec.AddSession(clock, nil, req.Notes); err != nil {
			return "", err
		}
		rec.UpdateActivity(now)
		return events.AttendanceCheckedIn, nil
	})
	if err != nil {
		return RecordResponse{}, err
	}

	s.logger.Info("check in success",
		zap.String("request_id", contextutil.GetRequestID(ctx)),
		zap.String("record_id", rec.ID.String()),
		zap.String("check_in", clock),
	)
	return mapToResponse(*rec, nil), nil
}

func (s *service) CheckOut(ctx context.Context, caller identity.Identity, req CheckOutRequest) (RecordResponse, error) {
	userID, err := callerUUID(caller)
	if err != nil {
		return RecordResponse{}, err
	}

	now := s.now()
	local := now.In(s.loc)
	clock := local.Format(clockLayout)

	rec, err := s.applyToDay(ctx, userID, local.Format(dateLayout), "", func(rec *Record, _ bool) (string, error) {
		_, closed, err := rec.CloseOpenSession(clock, req.Notes)
		if err != nil {
			return "", err
		}
		if !closed {
			return "", attendanceerrors.ErrNoOpenSession
		}
		rec.Touch(now)
		rec.IsOnline = false
		return events.AttendanceCheckedOut, nil
	})
	if err != nil {
		return RecordResponse{}, err
	}

	s.logger.Info("check out success",
		zap.String("request_id", contextutil.GetRequestID(ctx)),
		zap.String("record_id", rec.ID.String()),
		zap.Float64("total_hours", rec.TotalHours),
	)
	return mapToResponse(*rec, nil), nil
}

func (s *service) Heartbeat(ctx context.Context, caller identity.Identity) (HeartbeatResponse, error) {
	userID, err := callerUUID(caller)
	if err != nil {
		return HeartbeatResponse{}, err
	}

	now := s.now()
	rec, err := s.applyToDay(ctx, userID, now.In(s.loc).Format(dateLayout), "", func(rec *Record, _ bool) (string, error) {
		// only an open session keeps presence alive; a closed day stays closed
		if rec.HasOpenSession() {
			rec.UpdateActivity(now)
		} else {
			rec.Touch(now)
		}
		return "", nil
	})
	if err != nil {
		return HeartbeatResponse{}, err
	}

	return HeartbeatResponse{IsOnline: rec.IsOnline, LastActivity: rec.LastActivity}, nil
}

func (s *service) GetStatus(ctx context.Context, caller identity.Identity, date string) (StatusResponse, error) {
	userID, err := callerUUID(caller)
	if err != nil {
		return StatusResponse{}, err
	}

	now := s.now()
	if date == "" {
		date = now.In(s.loc).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return StatusResponse{}, attendanceerrors.ErrInvalidDate
	}

	rec, err := s.repo.FindByUserAndDate(ctx, userID.String(), date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mapToStatusResponse(date, nil), nil
		}
		s.logger.Error("get status failed", zap.String("user_id", userID.String()), zap.Error(err))
		return StatusResponse{}, mapRepositoryError(err)
	}

	healed := rec.Recompute()
	wentOffline, err := rec.CheckOfflineStatus(now, s.loc)
	if err != nil {
		return StatusResponse{}, err
	}

	if healed || wentOffline {
		eventType := ""
		if wentOffline {
			eventType = events.AttendanceAutoCheckedOut
		}
		if err := s.persist(ctx, rec, eventType); err != nil {
			// the caller still gets the corrected view; the sweeper will retry the write
			s.logger.Warn("get status write back failed",
				zap.String("record_id", rec.ID.String()),
				zap.Bool("healed", healed),
				zap.Bool("went_offline", wentOffline),
				zap.Error(err),
			)
		}
	}

	return mapToStatusResponse(date, rec), nil
}

func (s *service) List(ctx context.Context, caller identity.Identity, q ListRecordsQuery) ([]RecordResponse, error) {
	requested, err := normalizeUserID(q.UserID)
	if err != nil {
		return nil, err
	}
	scope, err := ResolveScope(caller, requested)
	if err != nil {
		return nil, err
	}

	from, to, err := s.resolveRange(q.Date, q.From, q.To)
	if err != nil {
		return nil, err
	}

	var status *Status
	if q.Status != "" {
		st, err := ParseStatusFilter(q.Status)
		if err != nil {
			return nil, err
		}
		status = &st
	}

	if scope.Empty() {
		s.logger.Debug("list attendance empty scope",
			zap.String("caller_id", caller.UserID),
			zap.String("user_id", q.UserID),
		)
		return []RecordResponse{}, nil
	}

	if status != nil && *status == StatusUnmarked {
		return s.listNotMarked(ctx, scope, from, to)
	}

	rows, err := s.repo.FindAll(ctx, Filter{Scope: scope, DateFrom: from, DateTo: to, Status: status})
	if err != nil {
		s.logger.Error("list attendance failed", zap.Error(err))
		return nil, mapRepositoryError(err)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID.String())
	}
	names := s.lookupUsers(ctx, ids)

	out := make([]RecordResponse, 0, len(rows))
	for i := range rows {
		rows[i].Recompute()
		out = append(out, mapToResponse(rows[i], summaryOf(names, rows[i].UserID.String())))
	}
	return out, nil
}

// listNotMarked builds the virtual rows for users in scope who have no record
// on a day of the range.
func (s *service) listNotMarked(ctx context.Context, scope Scope, from, to string) ([]RecordResponse, error) {
	candidates := scope.UserIDs()
	if scope.Unrestricted() {
		ids, err := s.users.ActiveIDs(ctx)
		if err != nil {
			return nil, err
		}
		candidates = ids
	}
	if len(candidates) == 0 {
		return []RecordResponse{}, nil
	}

	rows, err := s.repo.FindAll(ctx, Filter{Scope: scope, DateFrom: from, DateTo: to})
	if err != nil {
		s.logger.Error("list not marked failed", zap.Error(err))
		return nil, mapRepositoryError(err)
	}
	marked := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		marked[r.Date+"|"+r.UserID.String()] = struct{}{}
	}

	names := s.lookupUsers(ctx, candidates)
	days := daysBetween(from, to)
	out := make([]RecordResponse, 0)
	for i := len(days) - 1; i >= 0; i-- {
		for _, id := range candidates {
			if _, ok := marked[days[i]+"|"+id]; ok {
				continue
			}
			out = append(out, notMarkedResponse(id, days[i], summaryOf(names, id)))
		}
	}
	return out, nil
}

func (s *service) GetByID(ctx context.Context, caller identity.Identity, id string) (RecordResponse, error) {
	if caller.IsZero() {
		return RecordResponse{}, attendanceerrors.ErrUnauthenticated
	}
	if _, err := uuid.Parse(id); err != nil {
		return RecordResponse{}, attendanceerrors.ErrInvalidRecordID
	}

	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return RecordResponse{}, mapRepositoryError(err)
	}
	if !CanAccess(caller, rec.UserID.String()) {
		s.logger.Warn("get attendance forbidden",
			zap.String("caller_id", caller.UserID),
			zap.String("record_id", id),
		)
		return RecordResponse{}, attendanceerrors.ErrForbidden
	}

	rec.Recompute()
	names := s.lookupUsers(ctx, []string{rec.UserID.String()})
	return mapToResponse(*rec, summaryOf(names, rec.UserID.String())), nil
}

func (s *service) Verify(ctx context.Context, caller identity.Identity, id string, req VerifyRequest) (RecordResponse, error) {
	rid := contextutil.GetRequestID(ctx)
	if caller.IsZero() {
		return RecordResponse{}, attendanceerrors.ErrUnauthenticated
	}
	action, err := ParseVerifyAction(req.Action)
	if err != nil {
		return RecordResponse{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return RecordResponse{}, attendanceerrors.ErrInvalidRecordID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("verify attendance begin tx failed", zap.String("request_id", rid), zap.Error(err))
		return RecordResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)
	rec, err := qtx.FindByID(ctx, id)
	if err != nil {
		return RecordResponse{}, mapRepositoryError(err)
	}

	if err := rec.Verify(caller, action, req.Notes, s.now()); err != nil {
		s.logger.Warn("verify attendance rejected",
			zap.String("request_id", rid),
			zap.String("record_id", id),
			zap.String("reviewer_id", caller.UserID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
		return RecordResponse{}, err
	}

	if err := qtx.Update(ctx, rec); err != nil {
		s.logger.Error("verify attendance persist failed", zap.String("record_id", id), zap.Error(err))
		return RecordResponse{}, mapRepositoryError(err)
	}
	if err := s.enqueue(ctx, tx, rec, events.AttendanceVerified); err != nil {
		return RecordResponse{}, err
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("verify attendance commit failed", zap.String("request_id", rid), zap.Error(err))
		return RecordResponse{}, err
	}

	s.audit.Log(ctx, audit.Entry{
		Action:  "attendance.verify",
		ActorID: caller.UserID,
		Message: "attendance record " + string(rec.Status),
		Meta: map[string]any{
			"record_id": rec.ID.String(),
			"user_id":   rec.UserID.String(),
			"date":      rec.Date,
			"action":    string(action),
		},
	})
	s.logger.Info("verify attendance success",
		zap.String("request_id", rid),
		zap.String("record_id", id),
		zap.String("status", string(rec.Status)),
	)

	names := s.lookupUsers(ctx, []string{rec.UserID.String()})
	return mapToResponse(*rec, summaryOf(names, rec.UserID.String())), nil
}

// applyToDay runs fn against the user's record for date inside one
// transaction. When createAs is empty the record must already exist. Two
// first writes of the same day race on uq_attendance_user_date; the loser
// retries once and lands on the winner's record.
func (s *service) applyToDay(ctx context.Context, userID uuid.UUID, date string, createAs MarkedBy, fn dayMutation) (*Record, error) {
	rec, err := s.applyToDayOnce(ctx, userID, date, createAs, fn)
	if errors.Is(err, attendanceerrors.ErrDuplicateRecord) {
		s.logger.Warn("attendance record created concurrently, retrying as append",
			zap.String("request_id", contextutil.GetRequestID(ctx)),
			zap.String("user_id", userID.String()),
			zap.String("date", date),
		)
		rec, err = s.applyToDayOnce(ctx, userID, date, createAs, fn)
	}
	return rec, err
}

func (s *service) applyToDayOnce(ctx context.Context, userID uuid.UUID, date string, createAs MarkedBy, fn dayMutation) (*Record, error) {
	rid := contextutil.GetRequestID(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("attendance begin tx failed", zap.String("request_id", rid), zap.Error(err))
		return nil, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)
	created := false
	rec, err := qtx.FindByUserAndDate(ctx, userID.String(), date)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound) && createAs != "":
		rec = newRecord(userID, date, createAs)
		created = true
	default:
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("attendance lookup failed", zap.String("request_id", rid), zap.Error(err))
		}
		return nil, mapRepositoryError(err)
	}

	eventType, err := fn(rec, created)
	if err != nil {
		return nil, err
	}

	if created {
		err = qtx.Create(ctx, rec)
	} else {
		err = qtx.Update(ctx, rec)
	}
	if err != nil {
		mapped := mapRepositoryError(err)
		if !errors.Is(mapped, attendanceerrors.ErrDuplicateRecord) {
			s.logger.Error("attendance persist failed",
				zap.String("request_id", rid),
				zap.String("user_id", userID.String()),
				zap.Bool("created", created),
				zap.Error(err),
			)
		}
		return nil, mapped
	}

	if eventType != "" {
		if err := s.enqueue(ctx, tx, rec, eventType); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("attendance commit failed", zap.String("request_id", rid), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// persist saves an already loaded record with its event in one transaction.
func (s *service) persist(ctx context.Context, rec *Record, eventType string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.repo.WithTx(tx).Update(ctx, rec); err != nil {
		return mapRepositoryError(err)
	}
	if eventType != "" {
		if err := s.enqueue(ctx, tx, rec, eventType); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *service) enqueue(ctx context.Context, tx *sql.Tx, rec *Record, eventType string) error {
	if s.outbox == nil {
		return nil
	}

	rid := contextutil.GetRequestID(ctx)
	event, err := kafka.NewOutboxEvent(
		events.AttendanceLifecycleTopic,
		aggregateType,
		rec.ID.String(),
		eventType,
		rid,
		lifecycleEvent(rec, eventType, rid, s.now()),
	)
	if err != nil {
		s.logger.Error("marshal attendance event failed", zap.String("request_id", rid), zap.Error(err))
		return err
	}

	if err := s.outbox.WithTx(tx).Create(ctx, event); err != nil {
		s.logger.Error("attendance outbox persist failed",
			zap.String("request_id", rid),
			zap.String("record_id", rec.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func lifecycleEvent(rec *Record, eventType, requestID string, now time.Time) events.AttendanceEvent {
	return events.AttendanceEvent{
		EventType:    eventType,
		RequestID:    requestID,
		RecordID:     rec.ID.String(),
		UserID:       rec.UserID.String(),
		Date:         rec.Date,
		Status:       string(rec.Status),
		IsOnline:     rec.IsOnline,
		TotalHours:   rec.TotalHours,
		LastActivity: rec.LastActivity.UTC(),
		OccurredAt:   now.UTC(),
	}
}

// lookupUsers degrades to an empty map when the directory is down; names are
// decoration, not part of the record.
func (s *service) lookupUsers(ctx context.Context, ids []string) map[string]user.Summary {
	if s.users == nil || len(ids) == 0 {
		return map[string]user.Summary{}
	}
	found, err := s.users.Lookup(ctx, ids)
	if err != nil {
		s.logger.Warn("user directory lookup failed", zap.Int("count", len(ids)), zap.Error(err))
		return map[string]user.Summary{}
	}
	return found
}

func summaryOf(users map[string]user.Summary, id string) *user.Summary {
	if u, ok := users[id]; ok {
		return &u
	}
	return nil
}

// resolveRange turns date or from/to into an inclusive day range, defaulting
// to today.
func (s *service) resolveRange(date, from, to string) (string, string, error) {
	today := s.now().In(s.loc).Format(dateLayout)
	switch {
	case from != "" || to != "":
		if from == "" {
			from = to
		}
		if to == "" {
			to = from
		}
	case date != "":
		from, to = date, date
	default:
		return today, today, nil
	}

	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return "", "", attendanceerrors.ErrInvalidDate
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return "", "", attendanceerrors.ErrInvalidDate
	}
	if end.Before(start) || end.Sub(start) >= maxRangeDays*24*time.Hour {
		return "", "", attendanceerrors.ErrInvalidDateRange
	}
	return from, to, nil
}

func daysBetween(from, to string) []string {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

func callerUUID(caller identity.Identity) (uuid.UUID, error) {
	if caller.IsZero() {
		return uuid.Nil, attendanceerrors.ErrUnauthenticated
	}
	id, err := uuid.Parse(caller.UserID)
	if err != nil {
		return uuid.Nil, attendanceerrors.ErrUnauthenticated
	}
	return id, nil
}

// resolveTarget decides whose record a manual mark lands on. Reviewers may
// mark for users they can access; everyone else marks for themselves.
func resolveTarget(caller identity.Identity, requested string) (uuid.UUID, MarkedBy, error) {
	self, err := callerUUID(caller)
	if err != nil {
		return uuid.Nil, "", err
	}
	if requested == "" {
		return self, MarkedBySelf, nil
	}

	target, err := uuid.Parse(requested)
	if err != nil {
		return uuid.Nil, "", attendanceerrors.ErrInvalidUserID
	}
	if target == self {
		return self, MarkedBySelf, nil
	}
	if !caller.IsReviewer() || !CanAccess(caller, target.String()) {
		return uuid.Nil, "", attendanceerrors.ErrForbidden
	}
	return target, MarkedByManager, nil
}

// normalizeUserID validates a requested user id and returns it in the
// canonical lower-case form records and team assignments are stored in.
func normalizeUserID(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", attendanceerrors.ErrInvalidUserID
	}
	return id.String(), nil
}
