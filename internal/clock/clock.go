// Package clock provides the single injected time source the rest of the
// pipeline depends on, plus the session-calendar bucket math C3/C4 build
// candles on. The teacher never abstracted time.Now() at all (main.go and
// internal/state call it directly); this seam is new but deliberately
// small, matching the teacher's own plain-interface style.
package clock

import "time"

// Clock is the single injected time source. Production uses realClock;
// tests use a Fake that can be advanced deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real is the production wall-clock implementation.
var Real Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

// Fake is a test clock advanced explicitly by the caller. Not safe for
// concurrent mutation and reads without external synchronization beyond
// what a single test goroutine provides.
type Fake struct {
	t time.Time
}

// NewFake returns a Fake clock pinned at t.
func NewFake(t time.Time) *Fake { return &Fake{t: t} }

func (f *Fake) Now() time.Time { return f.t }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.t = f.t.Add(d) }

// Set pins the fake clock to an explicit instant.
func (f *Fake) Set(t time.Time) { f.t = t }

// SessionCalendar answers market-hours and timeframe-bucket questions
// against an injected Clock. Market hours and the pre-close suppression
// window are configurable so tests aren't tied to a specific exchange.
type SessionCalendar struct {
	clock         Clock
	marketOpen    time.Duration // offset from midnight local
	marketClose   time.Duration
	preCloseQuiet time.Duration // spec §4.5: "last 60s before close" suppression window
}

// NewSessionCalendar builds a calendar with explicit open/close offsets
// (duration since local midnight) and the pre-close quiet window.
func NewSessionCalendar(c Clock, marketOpen, marketClose, preCloseQuiet time.Duration) *SessionCalendar {
	return &SessionCalendar{clock: c, marketOpen: marketOpen, marketClose: marketClose, preCloseQuiet: preCloseQuiet}
}

func (s *SessionCalendar) dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// InMarketHours reports whether t falls within the configured trading
// session for its calendar day.
func (s *SessionCalendar) InMarketHours(t time.Time) bool {
	day := s.dayStart(t)
	open := day.Add(s.marketOpen)
	close := day.Add(s.marketClose)
	return !t.Before(open) && t.Before(close)
}

// InPreCloseQuietWindow reports whether t is within the suppression window
// immediately before market close (spec §4.5 signal-suppression rule).
func (s *SessionCalendar) InPreCloseQuietWindow(t time.Time) bool {
	day := s.dayStart(t)
	close := day.Add(s.marketClose)
	quietStart := close.Add(-s.preCloseQuiet)
	return !t.Before(quietStart) && t.Before(close)
}

// MarketOpen returns the instant the market opens on t's calendar day.
func (s *SessionCalendar) MarketOpen(t time.Time) time.Time {
	return s.dayStart(t).Add(s.marketOpen)
}

// BucketStart floors t to the start of its timeframe bucket, anchored at
// market open so that 25m/125m buckets align with 1m candle boundaries
// (spec §4.1: "25m and 125m are derived from 1m buckets starting at market
// open").
func (s *SessionCalendar) BucketStart(t time.Time, tfMinutes int) time.Time {
	if tfMinutes == int(dailyMinutes) {
		return s.dayStart(t)
	}
	open := s.MarketOpen(t)
	if t.Before(open) {
		return open
	}
	elapsed := t.Sub(open)
	tf := time.Duration(tfMinutes) * time.Minute
	bucketsElapsed := elapsed / tf
	return open.Add(bucketsElapsed * tf)
}

const dailyMinutes = 1440
