package domain

import (
	"sort"
	"time"
)

// DailyLedger is the operator view of one day of sessions.
type DailyLedger struct {
	Date         string           `json:"date"`
	Open         []ParkingSession `json:"open"`
	LatestClosed *ParkingSession  `json:"latest_closed"`
	Closed       []ParkingSession `json:"closed"`
	Totals       map[string]int64 `json:"totals"`
	GrandTotal   int64            `json:"grand_total"`
}

// Rows returns the sessions in display order: open sessions, the latest
// closure, then the remaining closures.
func (l *DailyLedger) Rows() []ParkingSession {
	rows := make([]ParkingSession, 0, len(l.Open)+len(l.Closed)+1)
	rows = append(rows, l.Open...)
	if l.LatestClosed != nil {
		rows = append(rows, *l.LatestClosed)
	}
	return append(rows, l.Closed...)
}

// BuildDailyLedger partitions the sessions of a day. Open sessions are ordered
// oldest entry first, closures most recent exit first. Ties break on ID so the
// output is stable for identical input.
func BuildDailyLedger(date string, sessions []ParkingSession, totals map[string]int64) *DailyLedger {
	ledger := &DailyLedger{
		Date:   date,
		Open:   []ParkingSession{},
		Closed: []ParkingSession{},
		Totals: map[string]int64{},
	}

	var closed []ParkingSession
	for _, s := range sessions {
		if s.IsOpen() {
			ledger.Open = append(ledger.Open, s)
		} else {
			closed = append(closed, s)
		}
	}

	sort.SliceStable(ledger.Open, func(i, j int) bool {
		a, b := ledger.Open[i], ledger.Open[j]
		if !a.EntryTime.Equal(b.EntryTime) {
			return a.EntryTime.Before(b.EntryTime)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(closed, func(i, j int) bool {
		a, b := closed[i], closed[j]
		if !a.ExitTime.Time.Equal(b.ExitTime.Time) {
			return a.ExitTime.Time.After(b.ExitTime.Time)
		}
		return a.ID > b.ID
	})

	if len(closed) > 0 {
		latest := closed[0]
		ledger.LatestClosed = &latest
		ledger.Closed = append(ledger.Closed, closed[1:]...)
	}

	for method, total := range totals {
		ledger.Totals[method] = total
		ledger.GrandTotal += total
	}
	return ledger
}

// DayWindow returns the [start, end) bounds of a calendar date in loc.
func DayWindow(date string, loc *time.Location) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return day, day.AddDate(0, 0, 1), nil
}
