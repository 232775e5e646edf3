package attendance

import (
	"context"
	"sort"
	"time"

	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/identity"
	"go-attendance/internal/user"

	"go.uber.org/zap"
)

const (
	maxRangeDays     = 92
	defaultTrendDays = 7
	maxTrendDays     = 31
	defaultTopUsers  = 5
	maxTopUsers      = 50
	unknownRole      = "unknown"
)

func (s *service) GetStats(ctx context.Context, caller identity.Identity, q StatsQuery) (StatsResponse, error) {
	requested, err := normalizeUserID(q.UserID)
	if err != nil {
		return StatsResponse{}, err
	}
	scope, err := ResolveScope(caller, requested)
	if err != nil {
		return StatsResponse{}, err
	}

	from, to, err := s.resolveRange(q.Date, q.From, q.To)
	if err != nil {
		return StatsResponse{}, err
	}

	days, top := q.Days, q.Top
	if days == 0 {
		days = defaultTrendDays
	}
	if top == 0 {
		top = defaultTopUsers
	}
	if days < 1 || days > maxTrendDays || top < 1 || top > maxTopUsers {
		return StatsResponse{}, attendanceerrors.ErrInvalidStatsWindow
	}

	// one query covers both the requested range and the trend window ending at to
	trendFrom := shiftDate(to, -(days - 1))
	queryFrom := from
	if trendFrom < queryFrom {
		queryFrom = trendFrom
	}

	var rows []Record
	if !scope.Empty() {
		rows, err = s.repo.FindAll(ctx, Filter{Scope: scope, DateFrom: queryFrom, DateTo: to})
		if err != nil {
			s.logger.Error("get stats failed", zap.Error(err))
			return StatsResponse{}, mapRepositoryError(err)
		}
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID.String())
	}
	users := s.lookupUsers(ctx, ids)

	return buildStats(rows, from, to, days, top, users), nil
}

// buildStats aggregates records already restricted to the caller's scope.
func buildStats(rows []Record, from, to string, days, top int, users map[string]user.Summary) StatsResponse {
	resp := StatsResponse{
		From:     from,
		To:       to,
		ByRole:   []RoleBreakdown{},
		Trend:    make([]TrendPoint, 0, days),
		TopUsers: []TopUser{},
	}

	trendFrom := shiftDate(to, -(days - 1))
	trend := make(map[string]*TrendPoint, days)
	for d := 0; d < days; d++ {
		date := shiftDate(trendFrom, d)
		resp.Trend = append(resp.Trend, TrendPoint{Date: date})
	}
	for i := range resp.Trend {
		trend[resp.Trend[i].Date] = &resp.Trend[i]
	}

	roles := map[string]*RoleBreakdown{}
	roleUsers := map[string]map[string]struct{}{}
	perUser := map[string]*TopUser{}

	for i := range rows {
		r := rows[i]
		r.Recompute()

		if p, ok := trend[r.Date]; ok {
			p.Records++
			p.TotalHours += r.TotalHours
			if r.Status == StatusApproved {
				p.Approved++
			}
		}

		if r.Date < from || r.Date > to {
			continue
		}

		sum := &resp.Summary
		sum.TotalRecords++
		sum.TotalHours += r.TotalHours
		switch r.Status {
		case StatusPending:
			sum.Marked++
		case StatusApproved:
			sum.Approved++
		case StatusRejected:
			sum.Rejected++
		}
		if r.IsOnline {
			sum.Online++
		}

		uid := r.UserID.String()
		role := unknownRole
		if u, ok := users[uid]; ok && u.Role != "" {
			role = u.Role
		}
		rb, ok := roles[role]
		if !ok {
			rb = &RoleBreakdown{Role: role}
			roles[role] = rb
			roleUsers[role] = map[string]struct{}{}
		}
		rb.Records++
		rb.TotalHours += r.TotalHours
		roleUsers[role][uid] = struct{}{}

		tu, ok := perUser[uid]
		if !ok {
			tu = &TopUser{UserID: uid}
			if u, found := users[uid]; found {
				tu.UserName = u.Name
			}
			perUser[uid] = tu
		}
		tu.Days++
		tu.TotalHours += r.TotalHours
	}

	resp.Summary.TotalHours = roundHours(resp.Summary.TotalHours)
	if resp.Summary.TotalRecords > 0 {
		resp.Summary.AverageHours = roundHours(resp.Summary.TotalHours / float64(resp.Summary.TotalRecords))
	}

	for role, rb := range roles {
		rb.Users = len(roleUsers[role])
		rb.TotalHours = roundHours(rb.TotalHours)
		resp.ByRole = append(resp.ByRole, *rb)
	}
	sort.Slice(resp.ByRole, func(i, j int) bool { return resp.ByRole[i].Role < resp.ByRole[j].Role })

	for i := range resp.Trend {
		resp.Trend[i].TotalHours = roundHours(resp.Trend[i].TotalHours)
	}

	for _, tu := range perUser {
		tu.TotalHours = roundHours(tu.TotalHours)
		resp.TopUsers = append(resp.TopUsers, *tu)
	}
	sort.Slice(resp.TopUsers, func(i, j int) bool {
		a, b := resp.TopUsers[i], resp.TopUsers[j]
		if a.TotalHours != b.TotalHours {
			return a.TotalHours > b.TotalHours
		}
		return a.UserID < b.UserID
	})
	if len(resp.TopUsers) > top {
		resp.TopUsers = resp.TopUsers[:top]
	}

	return resp
}

func shiftDate(date string, days int) string {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, days).Format(dateLayout)
}
