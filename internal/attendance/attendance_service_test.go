package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/events"
	"go-attendance/internal/identity"
	"go-attendance/internal/messaging/kafka"
	kafkamock "go-attendance/internal/messaging/kafka/mock"
	"go-attendance/internal/user"
	usermock "go-attendance/internal/user/mock"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeRepo struct {
	withTxFn            func(tx *sql.Tx) Repository
	createFn            func(ctx context.Context, r *Record) error
	findByIDFn          func(ctx context.Context, id string) (*Record, error)
	findByUserAndDateFn func(ctx context.Context, userID, date string) (*Record, error)
	findAllFn           func(ctx context.Context, f Filter) ([]Record, error)
	findOnlineByDateFn  func(ctx context.Context, date string) ([]Record, error)
	updateFn            func(ctx context.Context, r *Record) error
}

func (f *fakeRepo) WithTx(tx *sql.Tx) Repository                 { return f.withTxFn(tx) }
func (f *fakeRepo) Create(ctx context.Context, r *Record) error   { return f.createFn(ctx, r) }
func (f *fakeRepo) Update(ctx context.Context, r *Record) error   { return f.updateFn(ctx, r) }
func (f *fakeRepo) FindByID(ctx context.Context, id string) (*Record, error) {
	return f.findByIDFn(ctx, id)
}
func (f *fakeRepo) FindByUserAndDate(ctx context.Context, userID, date string) (*Record, error) {
	return f.findByUserAndDateFn(ctx, userID, date)
}
func (f *fakeRepo) FindAll(ctx context.Context, filter Filter) ([]Record, error) {
	return f.findAllFn(ctx, filter)
}
func (f *fakeRepo) FindOnlineByDate(ctx context.Context, date string) ([]Record, error) {
	return f.findOnlineByDateFn(ctx, date)
}

func cloneRecord(r *Record) *Record {
	cp := *r
	cp.Sessions = append(datatypes.JSONSlice[Session]{}, r.Sessions...)
	return &cp
}

// newMemRepo backs the fake with a map so committed writes are visible to
// later calls. Records are copied in and out like rows.
func newMemRepo(seed ...*Record) (*fakeRepo, map[string]*Record) {
	store := map[string]*Record{}
	for _, r := range seed {
		store[r.ID.String()] = cloneRecord(r)
	}

	repo := &fakeRepo{}
	repo.withTxFn = func(*sql.Tx) Repository { return repo }
	repo.createFn = func(_ context.Context, r *Record) error {
		store[r.ID.String()] = cloneRecord(r)
		return nil
	}
	repo.updateFn = func(_ context.Context, r *Record) error {
		store[r.ID.String()] = cloneRecord(r)
		return nil
	}
	repo.findByIDFn = func(_ context.Context, id string) (*Record, error) {
		if r, ok := store[id]; ok {
			return cloneRecord(r), nil
		}
		return nil, gorm.ErrRecordNotFound
	}
	repo.findByUserAndDateFn = func(_ context.Context, userID, date string) (*Record, error) {
		for _, r := range store {
			if r.UserID.String() == userID && r.Date == date {
				return cloneRecord(r), nil
			}
		}
		return nil, gorm.ErrRecordNotFound
	}
	repo.findAllFn = func(_ context.Context, f Filter) ([]Record, error) {
		var out []Record
		for _, r := range store {
			if !f.Scope.Allows(r.UserID.String()) {
				continue
			}
			if (f.DateFrom != "" && r.Date < f.DateFrom) || (f.DateTo != "" && r.Date > f.DateTo) {
				continue
			}
			if f.Status != nil && r.Status != *f.Status {
				continue
			}
			out = append(out, *cloneRecord(r))
		}
		return out, nil
	}
	repo.findOnlineByDateFn = func(_ context.Context, date string) ([]Record, error) {
		var out []Record
		for _, r := range store {
			if r.Date == date && r.IsOnline {
				out = append(out, *cloneRecord(r))
			}
		}
		return out, nil
	}
	return repo, store
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func at(hhmm string) time.Time {
	t, _ := time.Parse("2006-01-02 15:04", "2026-03-02 "+hhmm)
	return t
}

type serviceFixture struct {
	svc    Service
	sql    sqlmock.Sqlmock
	outbox *kafkamock.MockOutboxRepository
	users  *usermock.MockDirectory
	clock  *testClock
	store  map[string]*Record
	repo   *fakeRepo
	sent   []kafka.OutboxEvent
}

func newFixture(t *testing.T, seed ...*Record) *serviceFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctrl := gomock.NewController(t)
	f := &serviceFixture{
		sql:    mock,
		outbox: kafkamock.NewMockOutboxRepository(ctrl),
		users:  usermock.NewMockDirectory(ctrl),
		clock:  &testClock{now: at("09:00")},
	}
	f.repo, f.store = newMemRepo(seed...)
	f.outbox.EXPECT().WithTx(gomock.Any()).Return(f.outbox).AnyTimes()

	f.svc = NewService(db, f.repo, f.outbox, f.users,
		WithLogger(zap.NewNop()),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *serviceFixture) expectEvents(n int) {
	f.outbox.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e kafka.OutboxEvent) error {
			f.sent = append(f.sent, e)
			return nil
		}).Times(n)
}

func (f *serviceFixture) eventTypes() []string {
	out := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		out = append(out, e.EventType)
	}
	return out
}

func worker(id uuid.UUID) identity.Identity {
	return identity.Identity{UserID: id.String(), Role: identity.RoleUser}
}

func seededRecord(userID uuid.UUID, sessions ...Session) *Record {
	rec := newRecord(userID, "2026-03-02", MarkedBySelf)
	rec.Sessions = append(rec.Sessions, sessions...)
	rec.Recompute()
	return rec
}

func TestService_CheckInAndCheckOut(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	ctx := context.Background()
	f.expectEvents(2)

	f.sql.ExpectBegin()
	f.sql.ExpectCommit()
	inResp, err := f.svc.CheckIn(ctx, worker(userID), CheckInRequest{Notes: "office"})
	require.NoError(t, err)
	assert.NotEmpty(t, inResp.ID)
	assert.True(t, inResp.IsOnline)
	assert.Equal(t, "marked", inResp.Status)
	assert.Equal(t, "self", inResp.MarkedBy)

	f.clock.now = at("17:00")
	f.sql.ExpectBegin()
	f.sql.ExpectCommit()
	outResp, err := f.svc.CheckOut(ctx, worker(userID), CheckOutRequest{})
	require.NoError(t, err)
	assert.Equal(t, 8.0, outResp.TotalHours)
	assert.False(t, outResp.IsOnline)
	assert.Equal(t, "17:00", *outResp.CheckOut)
	require.Len(t, outResp.Sessions, 1)
	assert.Equal(t, "office", outResp.Sessions[0].Notes)

	assert.Equal(t, []string{events.AttendanceCheckedIn, events.AttendanceCheckedOut}, f.eventTypes())
	assert.Equal(t, events.AttendanceLifecycleTopic, f.sent[0].Topic)
	assert.Equal(t, inResp.ID, f.sent[0].AggregateID)
	assert.NoError(t, f.sql.ExpectationsWereMet())
}

func TestService_CheckIn_SessionAlreadyOpen(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, seededRecord(userID, Session{ID: "s1", CheckIn: "08:00"}))

	f.sql.ExpectBegin()
	f.sql.ExpectRollback()
	_, err := f.svc.CheckIn(context.Background(), worker(userID), CheckInRequest{})
	assert.ErrorIs(t, err, attendanceerrors.ErrSessionAlreadyOpen)
	assert.NoError(t, f.sql.ExpectationsWereMet())
}

func TestService_CheckIn_SecondSessionSameDay(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t, seededRecord(userID, Session{ID: "s1", CheckIn: "06:00", CheckOut: strPtr("08:00")}))
	f.expectEvents(1)

	f.sql.ExpectBegin()
	f.sql.ExpectCommit()
	resp, err := f.svc.CheckIn(context.Background(), worker(userID), CheckInRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Sessions, 2)
	assert.Equal(t, 2.0, resp.TotalHours)
	assert.Nil(t, resp.CheckOut)
	assert.Len(t, f.store, 1)
}

func TestService_CheckIn_ConcurrentCreateRetriesAsAppend(t *testing.T) {
	userID := uuid.New()
	f := newFixture(t)
	f.expectEvents(1)

	winner := seededRecord(userID, Session{ID: "w", CheckIn: "07:00", CheckOut: strPtr("08:30")})
	attempts := 0
	f.repo.createFn = func(_ context.Context, r *Record) error {
		attempts++
		// another request committed the day's first record in between
		f.store[winner.ID.String()] = cloneRecord(winner)
		return &pgconn.PgError{Code: "23505", ConstraintName: uniqueUserDateConstraint}
	}

	f.sql.ExpectBegin()
	f.sql.ExpectRollback()
	f.sql.ExpectBegin()
	f.sql.ExpectCommit()

	resp, err := f.svc.CheckIn(context.Background(), worker(userID), CheckInRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, winner.ID.String(), resp.ID)
	assert.Len(t, resp.Sessions, 2)
	assert.Equal(t, 1.5, resp.TotalHours)
	assert.NoError(t, f.sql.ExpectationsWereMet())
}

func TestService_CheckOut_Errors(t *testing.T) {
	t.Run("no record today", func(t *testing.T) {
		f := newFixture(t)
		f.sql.ExpectBegin()
		f.sql.ExpectRollback()
		_, err := f.svc.CheckOut(context.Background(), worker(uuid.New()), CheckOutRequest{})
		assert.ErrorIs(t, err, attendanceerrors.ErrRecordNotFound)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("nothing open", func(t *testing.T) {
		userID := uuid.New()
		f := newFixture(t, seededRecord(userID, Session{ID: "s1", CheckIn: "07:00", CheckOut: strPtr("08:00")}))
		f.sql.ExpectBegin()
		f.sql.ExpectRollback()
		_, err := f.svc.CheckOut(context.Background(), worker(userID), CheckOutRequest{})
		assert.ErrorIs(t, err, attendanceerrors.ErrNoOpenSession)
	})

	t.Run("outbox failure rolls back", func(t *testing.T) {
		userID := uuid.New()
		f := newFixture(t, seededRecord(userID, Session{ID: "s1", CheckIn: "08:00"}))
		f.outbox.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("outbox down"))
		f.sql.ExpectBegin()
		f.sql.ExpectRollback()
		_, err := f.svc.CheckOut(context.Background(), worker(userID), CheckOutRequest{})
		assert.Error(t, err)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("anonymous caller", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CheckOut(context.Background(), identity.Identity{}, CheckOutRequest{})
		assert.ErrorIs(t, err, attendanceerrors.ErrUnauthenticated)
	})
}

func TestService_Heartbeat(t *testing.T) {
	t.Run("open session keeps presence", func(t *testing.T) {
		userID := uuid.New()
		rec := seededRecord(userID, Session{ID: "s1", CheckIn: "08:00"})
		rec.IsOnline = false
		rec.LastActivity = at("08:00")
		f := newFixture(t, rec)

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.Heartbeat(context.Background(), worker(userID))
		require.NoError(t, err)
		assert.True(t, resp.IsOnline)
		assert.Equal(t, at("09:00"), resp.LastActivity)
		assert.Empty(t, f.sent)
	})

	t.Run("closed day stays offline", func(t *testing.T) {
		userID := uuid.New()
		f := newFixture(t, seededRecord(userID, Session{ID: "s1", CheckIn: "07:00", CheckOut: strPtr("08:00")}))

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.Heartbeat(context.Background(), worker(userID))
		require.NoError(t, err)
		assert.False(t, resp.IsOnline)
	})

	t.Run("no record", func(t *testing.T) {
		f := newFixture(t)
		f.sql.ExpectBegin()
		f.sql.ExpectRollback()
		_, err := f.svc.Heartbeat(context.Background(), worker(uuid.New()))
		assert.ErrorIs(t, err, attendanceerrors.ErrRecordNotFound)
	})
}

func TestService_MarkAttendance(t *testing.T) {
	member := uuid.New()
	manager := identity.Identity{UserID: uuid.NewString(), Role: identity.RoleManager, AssignedUsers: []string{member.String()}}

	t.Run("manager closes running session and appends", func(t *testing.T) {
		rec := seededRecord(member, Session{ID: "s1", CheckIn: "08:00"})
		rec.IsOnline = true
		f := newFixture(t, rec)
		f.expectEvents(1)

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.MarkAttendance(context.Background(), manager, MarkAttendanceRequest{
			CheckIn:  "10:00",
			CheckOut: strPtr("12:00"),
			UserID:   member.String(),
		})
		require.NoError(t, err)
		require.Len(t, resp.Sessions, 2)
		assert.Equal(t, "10:00", *resp.Sessions[0].CheckOut)
		assert.Equal(t, 4.0, resp.TotalHours)
		assert.False(t, resp.IsOnline)
		assert.Equal(t, []string{events.AttendanceMarked}, f.eventTypes())
	})

	t.Run("backfill before running session is refused", func(t *testing.T) {
		userID := uuid.New()
		rec := seededRecord(userID, Session{ID: "s1", CheckIn: "10:00"})
		rec.UpdateActivity(at("10:00"))
		f := newFixture(t, rec)
		f.clock.now = at("11:00")

		f.sql.ExpectBegin()
		f.sql.ExpectRollback()
		_, err := f.svc.MarkAttendance(context.Background(), worker(userID), MarkAttendanceRequest{
			CheckIn:  "08:00",
			CheckOut: strPtr("09:30"),
		})
		assert.ErrorIs(t, err, attendanceerrors.ErrSessionAlreadyOpen)
		assert.NoError(t, f.sql.ExpectationsWereMet())

		stored := f.store[rec.ID.String()]
		require.Len(t, stored.Sessions, 1)
		assert.Nil(t, stored.Sessions[0].CheckOut)
		assert.True(t, stored.IsOnline)
		assert.Zero(t, stored.TotalHours)
	})

	t.Run("entry at running session start closes it", func(t *testing.T) {
		userID := uuid.New()
		f := newFixture(t, seededRecord(userID, Session{ID: "s1", CheckIn: "08:00"}))
		f.expectEvents(1)

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.MarkAttendance(context.Background(), worker(userID), MarkAttendanceRequest{
			CheckIn:  "08:00",
			CheckOut: strPtr("09:00"),
		})
		require.NoError(t, err)
		require.Len(t, resp.Sessions, 2)
		assert.Equal(t, 1.0, resp.TotalHours)
	})

	t.Run("upper case id of team member", func(t *testing.T) {
		f := newFixture(t)
		f.expectEvents(1)

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.MarkAttendance(context.Background(), manager, MarkAttendanceRequest{
			CheckIn: "08:30",
			UserID:  strings.ToUpper(member.String()),
		})
		require.NoError(t, err)
		assert.Equal(t, member.String(), resp.UserID)
	})

	t.Run("new record for team member is marked by manager", func(t *testing.T) {
		f := newFixture(t)
		f.expectEvents(1)

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.MarkAttendance(context.Background(), manager, MarkAttendanceRequest{
			CheckIn: "08:30",
			UserID:  member.String(),
		})
		require.NoError(t, err)
		assert.Equal(t, "manager", resp.MarkedBy)
		assert.True(t, resp.IsOnline)
	})

	t.Run("manager outside team", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.MarkAttendance(context.Background(), manager, MarkAttendanceRequest{
			CheckIn: "08:30",
			UserID:  uuid.NewString(),
		})
		assert.ErrorIs(t, err, attendanceerrors.ErrForbidden)
		assert.NoError(t, f.sql.ExpectationsWereMet())
	})

	t.Run("worker cannot mark for someone else", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.MarkAttendance(context.Background(), worker(uuid.New()), MarkAttendanceRequest{
			CheckIn: "08:30",
			UserID:  member.String(),
		})
		assert.ErrorIs(t, err, attendanceerrors.ErrForbidden)
	})

	t.Run("invalid clock", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.MarkAttendance(context.Background(), worker(uuid.New()), MarkAttendanceRequest{CheckIn: "8am"})
		assert.ErrorIs(t, err, attendanceerrors.ErrInvalidTime)
	})
}

func TestService_GetStatus(t *testing.T) {
	t.Run("no record", func(t *testing.T) {
		f := newFixture(t)
		resp, err := f.svc.GetStatus(context.Background(), worker(uuid.New()), "")
		require.NoError(t, err)
		assert.False(t, resp.HasAttendance)
		assert.Equal(t, "not_marked", resp.Status)
		assert.Equal(t, "2026-03-02", resp.Date)
	})

	t.Run("silent worker goes offline on read", func(t *testing.T) {
		userID := uuid.New()
		rec := seededRecord(userID, Session{ID: "s1", CheckIn: "09:00"})
		rec.UpdateActivity(at("09:00"))
		f := newFixture(t, rec)
		f.clock.now = at("09:45")
		f.expectEvents(1)

		f.sql.ExpectBegin()
		f.sql.ExpectCommit()
		resp, err := f.svc.GetStatus(context.Background(), worker(userID), "")
		require.NoError(t, err)
		assert.False(t, resp.IsOnline)
		assert.Equal(t, 0.75, resp.TotalHours)
		assert.Equal(t, []string{events.AttendanceAutoCheckedOut}, f.eventTypes())
		assert.False(t, f.store[rec.ID.String()].IsOnline)
	})

	t.Run("write back failure still answers", func(t *testing.T) {
		userID := uuid.New()
		rec := seededRecord(userID, Session{ID: "s1", CheckIn: "08:00", CheckOut: strPtr("09:00")})
		rec.TotalHours = 0
		f := newFixture(t, rec)

		f.sql.ExpectBegin().WillReturnError(errors.New("db down"))
		resp, err := f.svc.GetStatus(context.Background(), worker(userID), "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 1.0, resp.TotalHours)
	})

	t.Run("bad date", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.GetStatus(context.Background(), worker(uuid.New()), "02/03/2026")
		assert.ErrorIs(t, err, attendanceerrors.ErrInvalidDate)
	})
}

func TestService_List(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	manager := identity.Identity{UserID: uuid.NewString(), Role: identity.RoleManager, AssignedUsers: []string{u1.String(), u2.String()}}
	approved := seededRecord(u1, Session{ID: "s1", CheckIn: "08:00", CheckOut: strPtr("16:00")})
	approved.Status = StatusApproved

	t.Run("status filter with names", func(t *testing.T) {
		f := newFixture(t, approved, seededRecord(u2, Session{ID: "s2", CheckIn: "08:00"}))
		f.users.EXPECT().Lookup(gomock.Any(), []string{u1.String()}).
			Return(map[string]user.Summary{u1.String(): {ID: u1.String(), Name: "Ayu", Email: "ayu@example.com"}}, nil)

		rows, err := f.svc.List(context.Background(), manager, ListRecordsQuery{Status: "approved"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Ayu", rows[0].UserName)
		assert.Equal(t, "approved", rows[0].Status)
	})

	t.Run("directory down degrades to ids", func(t *testing.T) {
		f := newFixture(t, approved)
		f.users.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis: connection refused"))

		rows, err := f.svc.List(context.Background(), manager, ListRecordsQuery{Date: "2026-03-02"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Empty(t, rows[0].UserName)
	})

	t.Run("upper case user id is matched", func(t *testing.T) {
		f := newFixture(t, approved)
		f.users.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(map[string]user.Summary{}, nil).Times(2)

		rows, err := f.svc.List(context.Background(), worker(u1), ListRecordsQuery{UserID: strings.ToUpper(u1.String())})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, u1.String(), rows[0].UserID)

		rows, err = f.svc.List(context.Background(), manager, ListRecordsQuery{UserID: strings.ToUpper(u1.String())})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("not marked builds virtual rows", func(t *testing.T) {
		f := newFixture(t, approved)
		f.users.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(map[string]user.Summary{}, nil)

		rows, err := f.svc.List(context.Background(), manager, ListRecordsQuery{
			From: "2026-03-01", To: "2026-03-02", Status: "absent",
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "2026-03-02", rows[0].Date)
		assert.Equal(t, u2.String(), rows[0].UserID)
		for _, r := range rows {
			assert.Equal(t, "not_marked", r.Status)
			assert.Empty(t, r.ID)
		}
	})

	t.Run("not marked for admin uses active users", func(t *testing.T) {
		f := newFixture(t, approved)
		admin := identity.Identity{UserID: uuid.NewString(), Role: identity.RoleAdmin}
		f.users.EXPECT().ActiveIDs(gomock.Any()).Return([]string{u1.String(), u2.String()}, nil)
		f.users.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(map[string]user.Summary{}, nil)

		rows, err := f.svc.List(context.Background(), admin, ListRecordsQuery{Status: "not_marked"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, u2.String(), rows[0].UserID)
	})

	t.Run("manager asking outside team gets nothing", func(t *testing.T) {
		f := newFixture(t, approved)
		rows, err := f.svc.List(context.Background(), manager, ListRecordsQuery{UserID: uuid.NewString()})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("worker asking for another user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.List(context.Background(), worker(u1), ListRecordsQuery{UserID: u2.String()})
		assert.ErrorIs(t, err, attendanceerrors.ErrForbidden)
	})

	t.Run("range too wide", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.List(context.Background(), manager, ListRecordsQuery{From: "2026-01-01", To: "2026-06-01"})
		assert.ErrorIs(t, err, attendanceerrors.ErrInvalidDateRange)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.List(context.Background(), manager, ListRecordsQuery{Status: "late"})
		assert.ErrorIs(t, err, attendanceerrors.ErrInvalidStatus)
	})
}

func TestService_GetByID(t *testing.T) {
	owner := uuid.New()
	rec := seededRecord(owner, Session{ID: "s1", CheckIn: "08:00", CheckOut: strPtr("12:00")})

	t.Run("owner", func(t *testing.T) {
		f := newFixture(t, rec)
		f.users.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(map[string]user.Summary{}, nil)
		resp, err := f.svc.GetByID(context.Background(), worker(owner), rec.ID.String())
		require.NoError(t, err)
		assert.Equal(t, 4.0, resp.TotalHours)
	})

	t.Run("other worker", func(t *testing.T) {
		f := newFixture(t, rec)
		_, err := f.svc.GetByID(context.Background(), worker(uuid.New()), rec.ID.String())
		assert.ErrorIs(t, err, attendanceerrors.ErrForbidden)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.GetByID(context.Background(), worker(owner), uuid.NewString())
		assert.ErrorIs(t, err, attendanceerrors.ErrRecordNotFound)
	})

	t.Run("malformed id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.GetByID(context.Background(), worker(owner), "abc")
		assert.ErrorIs(t, err, attendanceerrors.ErrInvalidRecordID)
	})
}

func TestService_Verify(t *testing.T) {
	member := uuid.New()
	manager := identity.Identity{UserID: uuid.NewString(), Role: identity.RoleManager, AssignedUsers: []string{member.String()}}
	rec := seededRecord(member, Session{ID: "s1", CheckIn: "08:00", CheckOut: strPtr("16:00")})

	f := newFixture(t, rec)
	f.expectEvents(1)
	f.users.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(map[string]user.Summary{}, nil)

	f.sql.ExpectBegin()
	f.sql.ExpectCommit()
	resp, err := f.svc.Verify(context.Background(), manager, rec.ID.String(), VerifyRequest{Action: "approve", Notes: "fine"})
	require.NoError(t, err)
	assert.Equal(t, "approved", resp.Status)
	assert.True(t, resp.IsVerified)
	assert.Equal(t, manager.UserID, *resp.VerifiedBy)
	assert.Equal(t, []string{events.AttendanceVerified}, f.eventTypes())

	f.sql.ExpectBegin()
	f.sql.ExpectRollback()
	_, err = f.svc.Verify(context.Background(), manager, rec.ID.String(), VerifyRequest{Action: "reject"})
	assert.ErrorIs(t, err, attendanceerrors.ErrAlreadyVerified)
	assert.Equal(t, StatusApproved, f.store[rec.ID.String()].Status)
	assert.NoError(t, f.sql.ExpectationsWereMet())

	_, err = f.svc.Verify(context.Background(), manager, rec.ID.String(), VerifyRequest{Action: "reopen"})
	assert.ErrorIs(t, err, attendanceerrors.ErrInvalidAction)
}

func TestService_SweepAutoCheckouts(t *testing.T) {
	silent := seededRecord(uuid.New(), Session{ID: "s1", CheckIn: "09:00"})
	silent.UpdateActivity(at("09:00"))
	fresh := seededRecord(uuid.New(), Session{ID: "s2", CheckIn: "09:00"})
	fresh.UpdateActivity(at("09:40"))
	yesterday := seededRecord(uuid.New(), Session{ID: "s3", CheckIn: "09:00"})
	yesterday.Date = "2026-03-01"
	yesterday.UpdateActivity(at("09:00").AddDate(0, 0, -1))

	f := newFixture(t, silent, fresh, yesterday)
	f.clock.now = at("09:45")
	f.expectEvents(1)

	f.sql.ExpectBegin()
	f.sql.ExpectCommit()
	result, err := f.svc.SweepAutoCheckouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, silent.ID.String(), result.Results[0].RecordID)
	assert.Equal(t, "09:45", result.Results[0].CheckOut)
	assert.Equal(t, 0.75, result.Results[0].TotalHours)
	assert.Equal(t, []string{events.AttendanceAutoCheckedOut}, f.eventTypes())

	assert.False(t, f.store[silent.ID.String()].IsOnline)
	assert.True(t, f.store[fresh.ID.String()].IsOnline)
	assert.True(t, f.store[yesterday.ID.String()].IsOnline)

	// a second pass finds nothing left to do
	again, err := f.svc.SweepAutoCheckouts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.ProcessedCount)
	assert.NoError(t, f.sql.ExpectationsWereMet())
}

func TestService_SweepRereadsBeforeClosing(t *testing.T) {
	userID := uuid.New()
	stale := seededRecord(userID, Session{ID: "s1", CheckIn: "08:00"})
	stale.UpdateActivity(at("08:00"))

	// between the batch read and the write the worker checked out and back in
	current := cloneRecord(stale)
	_, _, err := current.CloseOpenSession("08:50", "")
	require.NoError(t, err)
	_, err = current.AddSession("09:00", nil, "")
	require.NoError(t, err)
	current.UpdateActivity(at("09:00"))

	f := newFixture(t, current)
	f.clock.now = at("09:10")
	f.repo.findOnlineByDateFn = func(context.Context, string) ([]Record, error) {
		return []Record{*cloneRecord(stale)}, nil
	}

	f.sql.ExpectBegin()
	f.sql.ExpectRollback()
	result, err := f.svc.SweepAutoCheckouts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.ProcessedCount)
	assert.NoError(t, f.sql.ExpectationsWereMet())

	stored := f.store[current.ID.String()]
	require.Len(t, stored.Sessions, 2)
	assert.Nil(t, stored.Sessions[1].CheckOut)
	assert.True(t, stored.IsOnline)
}

func TestService_SweepSkipsFailedWrites(t *testing.T) {
	a := seededRecord(uuid.New(), Session{ID: "s1", CheckIn: "08:00"})
	a.UpdateActivity(at("08:00"))
	b := seededRecord(uuid.New(), Session{ID: "s2", CheckIn: "08:00"})
	b.UpdateActivity(at("08:00"))

	f := newFixture(t, a, b)
	f.expectEvents(1)
	f.repo.updateFn = func(_ context.Context, r *Record) error {
		if r.ID == a.ID {
			return errors.New("deadlock detected")
		}
		f.store[r.ID.String()] = cloneRecord(r)
		return nil
	}
	f.sql.MatchExpectationsInOrder(false)
	f.sql.ExpectBegin()
	f.sql.ExpectRollback()
	f.sql.ExpectBegin()
	f.sql.ExpectCommit()

	result, err := f.svc.SweepAutoCheckouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, b.ID.String(), result.Results[0].RecordID)
}

type fakeBoard struct {
	entries []PresenceEntry
	err     error
}

func (b *fakeBoard) Apply(context.Context, events.AttendanceEvent) error { return nil }
func (b *fakeBoard) Snapshot(context.Context, string) ([]PresenceEntry, error) {
	return b.entries, b.err
}

func TestService_Presence(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	board := &fakeBoard{entries: []PresenceEntry{{UserID: "u-1", IsOnline: true}, {UserID: "u-3"}}}
	repo, _ := newMemRepo()
	svc := NewService(db, repo, nil, nil, WithPresenceBoard(board), WithClock(func() time.Time { return at("10:00") }))

	manager := identity.Identity{UserID: "m-1", Role: identity.RoleManager, AssignedUsers: []string{"u-1"}}
	got, err := svc.Presence(context.Background(), manager, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u-1", got[0].UserID)

	admin := identity.Identity{UserID: "a-1", Role: identity.RoleAdmin}
	got, err = svc.Presence(context.Background(), admin, "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.Presence(context.Background(), admin, "yesterday")
	assert.ErrorIs(t, err, attendanceerrors.ErrInvalidDate)

	noBoard := NewService(db, repo, nil, nil)
	got, err = noBoard.Presence(context.Background(), admin, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
