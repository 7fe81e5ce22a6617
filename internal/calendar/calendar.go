// Package calendar derives the day-by-day proof submission state for a
// challenge participant. Nothing here is persisted; every view is computed
// from the challenge window, the stored submissions, and the current time,
// so day and challenge statuses can never drift from the dates that define
// them.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar days. Days are
// timezone-naive dates, not instants; all date math happens in UTC.
const DateLayout = time.DateOnly

// graceWindow is how long past a calendar day's end a missed submission can
// still be filed before that day locks permanently.
const graceWindow = 24 * time.Hour

// ReviewStatus is the moderation state of a single proof submission.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// DayStatus is the derived state of one calendar day for one participant.
type DayStatus string

const (
	DayNotSubmitted DayStatus = "not_submitted"
	DaySubmitted    DayStatus = "submitted"
	DayApproved     DayStatus = "approved"
	DayRejected     DayStatus = "rejected"
	DayLocked       DayStatus = "locked"
)

// ChallengeState is derived from the challenge window and settlement record,
// never stored.
type ChallengeState string

const (
	StateUpcoming ChallengeState = "UPCOMING"
	StateActive   ChallengeState = "ACTIVE"
	StateClosed   ChallengeState = "CLOSED_PENDING_SETTLEMENT"
	StateSettled  ChallengeState = "SETTLED"
)

// Day is one derived calendar day.
type Day struct {
	Date      string    `json:"date"`
	DayOfWeek string    `json:"dayOfWeek"`
	Status    DayStatus `json:"status"`
	IsToday   bool      `json:"isToday"`
	IsFuture  bool      `json:"isFuture"`
	CanSubmit bool      `json:"canSubmit"`
}

// Summary aggregates a built calendar into the counters the review and
// settlement flows work from.
type Summary struct {
	TotalDays      int     `json:"totalDays"`
	ApprovedDays   int     `json:"approvedDays"`
	PendingDays    int     `json:"pendingDays"`
	RejectedDays   int     `json:"rejectedDays"`
	MissedDays     int     `json:"missedDays"`
	CompletionRate float64 `json:"completionRate"`
	Progress       int     `json:"progress"`
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// TotalDays counts the days in [startDate, endDate], inclusive of both ends.
func TotalDays(startDate, endDate string) (int, error) {
	start, err := parseDate(startDate)
	if err != nil {
		return 0, err
	}
	end, err := parseDate(endDate)
	if err != nil {
		return 0, err
	}
	if end.Before(start) {
		return 0, fmt.Errorf("end date %s precedes start date %s", endDate, startDate)
	}
	return int(end.Sub(start)/(24*time.Hour)) + 1, nil
}

// CanSubmitOn reports whether a submission for the given day would still be
// accepted at time now. A day stays open until the grace window past its end
// elapses; after that it is locked for good, even mid-challenge.
func CanSubmitOn(date string, now time.Time) (bool, error) {
	day, err := parseDate(date)
	if err != nil {
		return false, err
	}
	if now.Before(day) {
		return false, nil
	}
	deadline := day.Add(24 * time.Hour).Add(graceWindow)
	return now.Before(deadline), nil
}

// Build derives the full calendar for a participant: one Day per date in the
// challenge window, with submissions keyed by date string.
func Build(startDate, endDate string, now time.Time, submissions map[string]ReviewStatus) ([]Day, error) {
	start, err := parseDate(startDate)
	if err != nil {
		return nil, err
	}
	total, err := TotalDays(startDate, endDate)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	today := now.Truncate(24 * time.Hour)

	days := make([]Day, 0, total)
	for i := 0; i < total; i++ {
		date := start.AddDate(0, 0, i)
		key := date.Format(DateLayout)
		d := Day{
			Date:      key,
			DayOfWeek: date.Weekday().String(),
			IsToday:   date.Equal(today),
			IsFuture:  date.After(today),
		}

		if status, ok := submissions[key]; ok {
			switch status {
			case ReviewApproved:
				d.Status = DayApproved
			case ReviewRejected:
				d.Status = DayRejected
			default:
				// A pending submission can be replaced until the day
				// locks.
				d.Status = DaySubmitted
				d.CanSubmit, _ = CanSubmitOn(key, now)
			}
		} else if date.After(today) {
			d.Status = DayLocked
		} else {
			d.Status = DayNotSubmitted
			d.CanSubmit, _ = CanSubmitOn(key, now)
		}
		days = append(days, d)
	}
	return days, nil
}

// Summarize folds a built calendar into its aggregate counters.
func Summarize(days []Day) Summary {
	s := Summary{TotalDays: len(days)}
	for _, d := range days {
		switch d.Status {
		case DayApproved:
			s.ApprovedDays++
		case DaySubmitted:
			s.PendingDays++
		case DayRejected:
			s.RejectedDays++
		case DayNotSubmitted:
			if !d.CanSubmit {
				s.MissedDays++
			}
		}
	}
	if s.TotalDays > 0 {
		s.CompletionRate = float64(s.ApprovedDays) / float64(s.TotalDays)
	}
	s.Progress = Progress(s.ApprovedDays, s.TotalDays)
	return s
}

// Progress is the participant's completion percentage, rounded to the
// nearest integer. Pending submissions do not count until reviewed.
func Progress(approvedDays, totalDays int) int {
	if totalDays <= 0 {
		return 0
	}
	return (200*approvedDays + totalDays) / (2 * totalDays)
}

// State derives the challenge lifecycle position from its window, the
// current time, and whether a settlement run has completed.
func State(startDate, endDate string, now time.Time, settled bool) (ChallengeState, error) {
	start, err := parseDate(startDate)
	if err != nil {
		return "", err
	}
	end, err := parseDate(endDate)
	if err != nil {
		return "", err
	}
	now = now.UTC()
	switch {
	case now.Before(start):
		return StateUpcoming, nil
	case now.Before(end.Add(24 * time.Hour)):
		// The end date itself is still inside the window.
		return StateActive, nil
	case settled:
		return StateSettled, nil
	default:
		return StateClosed, nil
	}
}
