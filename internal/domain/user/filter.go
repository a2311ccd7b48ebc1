package user

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// reserved query keys consumed by the filter itself; anything else is an
// equality filter candidate.
var reservedFilterKeys = map[string]struct{}{
	"search":     {},
	"isActive":   {},
	"startDate":  {},
	"finishDate": {},
	"page":       {},
	"limit":      {},
	"role":       {},
}

// equalityColumns is the allow-list of fields callers may filter by exact
// match. Keys outside it are dropped rather than interpolated into SQL.
var equalityColumns = map[string]struct{}{
	"name":  {},
	"email": {},
}

type ListUsersFilter struct {
	Search     string
	IsActive   *bool
	Role       *Role
	StartDate  *time.Time
	FinishDate *time.Time
	Equals     map[string]string
	Page       int
	Limit      int
}

func (f ListUsersFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// ParseListFilter turns an untrusted query-parameter bag into a filter. The
// contract is permissive on purpose: unparsable booleans, dates and paging
// values are skipped or defaulted, never rejected.
func ParseListFilter(values url.Values) ListUsersFilter {
	f := ListUsersFilter{
		Search: strings.TrimSpace(values.Get("search")),
		Page:   parseIntOrDefault(values.Get("page"), DefaultPage),
		Limit:  parseIntOrDefault(values.Get("limit"), DefaultLimit),
	}

	switch values.Get("isActive") {
	case "true":
		v := true
		f.IsActive = &v
	case "false":
		v := false
		f.IsActive = &v
	}

	if raw := values.Get("role"); raw != "" {
		role := Role(raw)
		f.Role = &role
	}

	if t, ok := parseDate(values.Get("startDate")); ok {
		f.StartDate = &t
	}

	if t, ok := parseDate(values.Get("finishDate")); ok {
		f.FinishDate = &t
	}

	for key, vals := range values {
		if _, reserved := reservedFilterKeys[key]; reserved {
			continue
		}
		if _, allowed := equalityColumns[key]; !allowed {
			continue
		}
		if len(vals) == 0 || vals[0] == "" {
			continue
		}

		if f.Equals == nil {
			f.Equals = make(map[string]string)
		}
		f.Equals[key] = vals[0]
	}

	return f
}

func parseIntOrDefault(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)

	if err != nil || n < 1 {
		return fallback
	}

	return n
}

func parseDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		t, err := time.Parse(layout, raw)

		if err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}
