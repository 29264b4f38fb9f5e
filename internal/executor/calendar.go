package executor

import (
	"context"
	"time"
)

// MarketHours decides whether the venue accepts orders at t
type MarketHours interface {
	IsOpen(t time.Time) bool
}

// AlwaysOpen is for 24/7 venues such as crypto exchanges
type AlwaysOpen struct{}

// IsOpen implements MarketHours
func (AlwaysOpen) IsOpen(time.Time) bool { return true }

// SessionCalendar is open on weekdays between Open and Close, in Location
type SessionCalendar struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
}

// RegularSession returns the 09:30-16:00 weekday session in loc
func RegularSession(loc *time.Location) SessionCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return SessionCalendar{
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
	}
}

// IsOpen implements MarketHours
func (c SessionCalendar) IsOpen(t time.Time) bool {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(midnight)
	return offset >= c.Open && offset < c.Close
}

// CorrelationChecker gates a signal on its correlation with open positions
type CorrelationChecker interface {
	Allowed(ctx context.Context, signal Signal, positions []Position, maxCorrelation float64) bool
}

// AllowAllCorrelation never blocks. There is no cross-position correlation
// estimator yet; this is the extension point for one.
type AllowAllCorrelation struct{}

// Allowed implements CorrelationChecker
func (AllowAllCorrelation) Allowed(context.Context, Signal, []Position, float64) bool {
	return true
}
