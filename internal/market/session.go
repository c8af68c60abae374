package market

import (
	"time"

	"github.com/scmhub/calendar"
)

// Session answers trading-day questions for the exchange the terminal trades on.
type Session struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

// SessionStatus is exposed by the API.
type SessionStatus struct {
	MIC        string    `json:"mic"`
	TradingDay bool      `json:"tradingDay"`
	Open       bool      `json:"open"`
	Date       string    `json:"date"`
	Time       time.Time `json:"time"`
}

// NewSession loads the calendar of mic (ISO 10383, e.g. "xnys"). When no calendar
// is available it falls back to Mon-Fri 09:30-16:00 New York time.
func NewSession(mic string) *Session {
	if mic == "" {
		mic = "xnys"
	}
	if cal := calendar.GetCalendar(mic); cal != nil {
		return &Session{cal: cal, loc: cal.Loc}
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &Session{loc: loc, fallback: true}
}

// Location is the exchange time zone.
func (s *Session) Location() *time.Location { return s.loc }

// IsTradingDay reports whether the exchange trades on t's date.
func (s *Session) IsTradingDay(t time.Time) bool {
	t = t.In(s.loc)
	if s.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return s.cal.IsBusinessDay(t)
}

// IsOpen reports whether the regular session is open at t.
func (s *Session) IsOpen(t time.Time) bool {
	t = t.In(s.loc)
	if s.fallback {
		if !s.IsTradingDay(t) {
			return false
		}
		h, m := t.Hour(), t.Minute()
		return (h > 9 || (h == 9 && m >= 30)) && h < 16
	}
	return s.cal.IsOpen(t)
}

// Day returns the exchange-local date of t; a change marks a new session.
func (s *Session) Day(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

// Status summarizes the session at t.
func (s *Session) Status(mic string, t time.Time) SessionStatus {
	return SessionStatus{
		MIC:        mic,
		TradingDay: s.IsTradingDay(t),
		Open:       s.IsOpen(t),
		Date:       s.Day(t),
		Time:       t.In(s.loc),
	}
}
