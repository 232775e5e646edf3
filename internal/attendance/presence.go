package attendance

import "time"

const (
	OfflineThreshold = 30 * time.Minute
	AutoCheckoutNote = "Auto checkout after 30 minutes of inactivity"
)

// UpdateActivity records a sign of life from the worker.
func (r *Record) UpdateActivity(now time.Time) {
	r.LastActivity = now
	r.IsOnline = true
}

// Touch refreshes lastActivity without reviving presence. A heartbeat on a
// record without an open session lands here.
func (r *Record) Touch(now time.Time) {
	r.LastActivity = now
}

// CheckOfflineStatus takes the record offline once lastActivity is older than
// OfflineThreshold, closing the open session at now (HH:MM in loc). It is a
// no-op for offline records and reports whether anything changed.
func (r *Record) CheckOfflineStatus(now time.Time, loc *time.Location) (bool, error) {
	if !r.IsOnline {
		return false, nil
	}
	if now.Sub(r.LastActivity) <= OfflineThreshold {
		return false, nil
	}

	if _, _, err := r.CloseOpenSession(now.In(loc).Format(clockLayout), AutoCheckoutNote); err != nil {
		return false, err
	}
	r.IsOnline = false
	return true, nil
}
