// Package ledger tracks authorized spend per agent over rolling UTC day
// and ISO week windows, backing the daily and weekly cap checks.
package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrDailyCapExceeded is returned by TryRecord when the projected day
	// total would pass the daily cap.
	ErrDailyCapExceeded = errors.New("amount would exceed the daily cap")
	// ErrWeeklyCapExceeded is returned by TryRecord when the projected week
	// total would pass the weekly cap.
	ErrWeeklyCapExceeded = errors.New("amount would exceed the weekly cap")
)

type window struct {
	key   string
	spent *big.Int
}

type agentState struct {
	day  window
	week window
}

// Ledger is an in-memory running total keyed by agent address. Windows
// reset at UTC day and ISO-week boundaries; a stale window is discarded the
// moment a newer instant touches it.
type Ledger struct {
	mu     sync.Mutex
	agents map[string]*agentState
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{agents: make(map[string]*agentState)}
}

func dayKey(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func weekKey(at time.Time) string {
	year, week := at.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (l *Ledger) state(agent string) *agentState {
	key := strings.ToLower(agent)
	st, ok := l.agents[key]
	if !ok {
		st = &agentState{
			day:  window{spent: new(big.Int)},
			week: window{spent: new(big.Int)},
		}
		l.agents[key] = st
	}
	return st
}

func (w *window) roll(key string) {
	if w.key != key {
		w.key = key
		w.spent = new(big.Int)
	}
}

// TryRecord checks the projected totals against both caps and records the
// amount only when both pass, all under one lock acquisition. Concurrent
// callers therefore serialize on the check-and-record as a unit; two
// requests can never both pass a cap the pair of them breaks. A zero cap
// is not enforced.
func (l *Ledger) TryRecord(agent string, amount, dailyCap, weeklyCap *big.Int, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(agent)
	st.day.roll(dayKey(at))
	st.week.roll(weekKey(at))

	if dailyCap.Sign() > 0 {
		projected := new(big.Int).Add(st.day.spent, amount)
		if projected.Cmp(dailyCap) > 0 {
			return ErrDailyCapExceeded
		}
	}
	if weeklyCap.Sign() > 0 {
		projected := new(big.Int).Add(st.week.spent, amount)
		if projected.Cmp(weeklyCap) > 0 {
			return ErrWeeklyCapExceeded
		}
	}

	st.day.spent.Add(st.day.spent, amount)
	st.week.spent.Add(st.week.spent, amount)
	return nil
}

// Record adds an authorized amount to the agent's running totals without a
// cap check.
func (l *Ledger) Record(agent string, amount *big.Int, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(agent)
	st.day.roll(dayKey(at))
	st.week.roll(weekKey(at))
	st.day.spent.Add(st.day.spent, amount)
	st.week.spent.Add(st.week.spent, amount)
}

// SpentToday returns the total recorded for the agent in the UTC day
// containing at.
func (l *Ledger) SpentToday(agent string, at time.Time) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(agent)
	st.day.roll(dayKey(at))
	return new(big.Int).Set(st.day.spent)
}

// SpentThisWeek returns the total recorded for the agent in the ISO week
// containing at.
func (l *Ledger) SpentThisWeek(agent string, at time.Time) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(agent)
	st.week.roll(weekKey(at))
	return new(big.Int).Set(st.week.spent)
}
