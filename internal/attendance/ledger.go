package attendance

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	attendanceerrors "go-attendance/internal/attendance/errors"

	"github.com/google/uuid"
)

const (
	clockLayout = "15:04"
	dateLayout  = "2006-01-02"
	minutesDay  = 24 * 60
)

// parseClock converts an HH:MM value into minutes after midnight.
func parseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", attendanceerrors.ErrInvalidTime, v)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", attendanceerrors.ErrInvalidTime, v)
	}
	return h*60 + m, nil
}

// SessionHours returns the duration between two HH:MM values in hours. A
// checkout earlier than the check-in is an overnight shift and wraps by 24h.
// No upper bound is applied.
func SessionHours(checkIn, checkOut string) (float64, error) {
	in, err := parseClock(checkIn)
	if err != nil {
		return 0, err
	}
	out, err := parseClock(checkOut)
	if err != nil {
		return 0, err
	}
	diff := out - in
	if diff < 0 {
		diff += minutesDay
	}
	return roundHours(float64(diff) / 60), nil
}

// roundHours keeps hundredths so quarter hours survive (0.75h).
func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}

func (r *Record) openSessionIndex() int {
	if n := len(r.Sessions); n > 0 && r.Sessions[n-1].IsOpen() {
		return n - 1
	}
	return -1
}

func (r *Record) HasOpenSession() bool {
	return r.openSessionIndex() >= 0
}

// AddSession appends a session and recomputes the derived totals. The caller
// must close any open session first.
func (r *Record) AddSession(checkIn string, checkOut *string, notes string) (Session, error) {
	if _, err := parseClock(checkIn); err != nil {
		return Session{}, err
	}
	if r.HasOpenSession() {
		return Session{}, attendanceerrors.ErrSessionAlreadyOpen
	}

	s := Session{
		ID:      uuid.NewString(),
		CheckIn: checkIn,
		Notes:   strings.TrimSpace(notes),
	}
	if checkOut != nil {
		hours, err := SessionHours(checkIn, *checkOut)
		if err != nil {
			return Session{}, err
		}
		out := *checkOut
		s.CheckOut = &out
		s.Hours = hours
	}

	r.Sessions = append(r.Sessions, s)
	r.Recompute()
	return s, nil
}

// CloseOpenSession stamps checkOut on the open session. The note, if any, is
// appended to the session notes. It reports false when nothing was open.
func (r *Record) CloseOpenSession(checkOut, note string) (Session, bool, error) {
	idx := r.openSessionIndex()
	if idx < 0 {
		return Session{}, false, nil
	}

	s := r.Sessions[idx]
	hours, err := SessionHours(s.CheckIn, checkOut)
	if err != nil {
		return Session{}, false, err
	}
	out := checkOut
	s.CheckOut = &out
	s.Hours = hours
	if note = strings.TrimSpace(note); note != "" {
		if s.Notes == "" {
			s.Notes = note
		} else {
			s.Notes = s.Notes + "; " + note
		}
	}
	r.Sessions[idx] = s
	r.Recompute()
	return s, true, nil
}

// Recompute re-derives session hours, totalHours and the legacy checkIn and
// checkOut mirrors from the session list, reporting whether anything moved.
// Running it on read repairs a record whose totals were left stale by a
// partial write.
func (r *Record) Recompute() bool {
	changed := false
	var total float64
	for i, s := range r.Sessions {
		hours := 0.0
		if s.CheckOut != nil {
			h, err := SessionHours(s.CheckIn, *s.CheckOut)
			if err != nil {
				h = s.Hours
			}
			hours = h
			total += h
		}
		if hours != s.Hours {
			r.Sessions[i].Hours = hours
			changed = true
		}
	}
	if t := roundHours(total); t != r.TotalHours {
		r.TotalHours = t
		changed = true
	}

	var checkIn, checkOut *string
	if n := len(r.Sessions); n > 0 {
		first := r.Sessions[0].CheckIn
		checkIn = &first
		if last := r.Sessions[n-1]; last.CheckOut != nil {
			out := *last.CheckOut
			checkOut = &out
		}
	}
	if !sameClock(r.CheckIn, checkIn) || !sameClock(r.CheckOut, checkOut) {
		changed = true
	}
	r.CheckIn, r.CheckOut = checkIn, checkOut
	return changed
}

func sameClock(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
