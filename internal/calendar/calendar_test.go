package calendar

import (
	"testing"
	"time"
)

func mustBuild(t *testing.T, start, end string, now time.Time, subs map[string]ReviewStatus) []Day {
	t.Helper()
	days, err := Build(start, end, now, subs)
	if err != nil {
		t.Fatalf("Build(%s, %s): %v", start, end, err)
	}
	return days
}

func TestTotalDaysInclusive(t *testing.T) {
	cases := []struct {
		start, end string
		want       int
	}{
		{"2025-03-01", "2025-03-07", 7},
		{"2025-03-01", "2025-03-01", 1},
		{"2025-02-27", "2025-03-02", 4}, // across a month boundary
		{"2024-02-28", "2024-03-01", 3}, // leap day
	}
	for _, tc := range cases {
		got, err := TotalDays(tc.start, tc.end)
		if err != nil {
			t.Errorf("TotalDays(%s, %s): %v", tc.start, tc.end, err)
			continue
		}
		if got != tc.want {
			t.Errorf("TotalDays(%s, %s) = %d, want %d", tc.start, tc.end, got, tc.want)
		}
	}

	if _, err := TotalDays("2025-03-07", "2025-03-01"); err == nil {
		t.Error("inverted window must error")
	}
}

func TestBuildNoSubmissions(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC) // day 4 of 7
	days := mustBuild(t, "2025-03-01", "2025-03-07", now, nil)

	if len(days) != 7 {
		t.Fatalf("got %d days, want 7", len(days))
	}
	for i, d := range days {
		switch {
		case i < 4: // days up to and including today
			if d.Status != DayNotSubmitted {
				t.Errorf("day %s status = %s, want not_submitted", d.Date, d.Status)
			}
		default: // future days
			if d.Status != DayLocked {
				t.Errorf("day %s status = %s, want locked", d.Date, d.Status)
			}
			if d.CanSubmit {
				t.Errorf("future day %s is submittable", d.Date)
			}
		}
	}
	if !days[3].IsToday {
		t.Error("2025-03-04 not flagged as today")
	}
	if !days[4].IsFuture {
		t.Error("2025-03-05 not flagged as future")
	}
}

func TestBuildMirrorsReviewStatus(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	days := mustBuild(t, "2025-03-01", "2025-03-07", now, map[string]ReviewStatus{
		"2025-03-01": ReviewApproved,
		"2025-03-02": ReviewRejected,
		"2025-03-03": ReviewPending,
	})

	want := []DayStatus{DayApproved, DayRejected, DaySubmitted, DayNotSubmitted}
	for i, w := range want {
		if days[i].Status != w {
			t.Errorf("day %s status = %s, want %s", days[i].Date, days[i].Status, w)
		}
	}
	if days[0].CanSubmit || days[1].CanSubmit {
		t.Error("terminal review decisions must not be resubmittable")
	}
}

func TestGraceWindow(t *testing.T) {
	// Day 2025-03-02 ends at 2025-03-03T00:00Z and locks 24h later.
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"same day", time.Date(2025, 3, 2, 23, 0, 0, 0, time.UTC), true},
		{"inside grace", time.Date(2025, 3, 3, 23, 59, 0, 0, time.UTC), true},
		{"at lock boundary", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), false},
		{"past grace", time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), false},
		{"before the day", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanSubmitOn("2025-03-02", tc.now)
			if err != nil {
				t.Fatalf("CanSubmitOn: %v", err)
			}
			if got != tc.want {
				t.Errorf("CanSubmitOn(2025-03-02, %s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestGraceWindowLocksMidChallenge(t *testing.T) {
	// Day 1 missed and out of grace while the challenge is still running.
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	days := mustBuild(t, "2025-03-01", "2025-03-07", now, nil)

	if days[0].CanSubmit {
		t.Error("2025-03-01 should be past its grace window")
	}
	if !days[3].CanSubmit {
		t.Error("today should be submittable")
	}
}

func TestSingleDayWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	days := mustBuild(t, "2025-03-01", "2025-03-01", now, nil)
	if len(days) != 1 {
		t.Fatalf("got %d days, want 1", len(days))
	}
	if days[0].Status != DayNotSubmitted || !days[0].CanSubmit {
		t.Errorf("single day = %+v, want submittable not_submitted", days[0])
	}
}

func TestNotYetOpen(t *testing.T) {
	now := time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)
	days := mustBuild(t, "2025-03-01", "2025-03-07", now, nil)
	for _, d := range days {
		if d.Status != DayLocked || d.CanSubmit {
			t.Errorf("day %s = %+v, want locked before the challenge opens", d.Date, d)
		}
	}
}

func TestClosedWindowLeavesNothingOpen(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	days := mustBuild(t, "2025-03-01", "2025-03-07", now, map[string]ReviewStatus{
		"2025-03-02": ReviewApproved,
	})
	for _, d := range days {
		if d.CanSubmit {
			t.Errorf("day %s still submittable after the window closed", d.Date)
		}
		if d.Status == DayLocked {
			t.Errorf("past day %s reported as locked instead of its terminal state", d.Date)
		}
	}
}

func TestProgressExcludesPending(t *testing.T) {
	// 5 approved, 1 pending, 1 rejected out of 7.
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	subs := map[string]ReviewStatus{
		"2025-03-01": ReviewApproved,
		"2025-03-02": ReviewApproved,
		"2025-03-03": ReviewApproved,
		"2025-03-04": ReviewApproved,
		"2025-03-05": ReviewApproved,
		"2025-03-06": ReviewPending,
		"2025-03-07": ReviewRejected,
	}
	days := mustBuild(t, "2025-03-01", "2025-03-07", now, subs)
	s := Summarize(days)

	if s.ApprovedDays != 5 || s.PendingDays != 1 || s.RejectedDays != 1 {
		t.Fatalf("summary counts = %+v", s)
	}
	if s.Progress != 71 {
		t.Errorf("progress = %d, want 71", s.Progress)
	}
	if want := 5.0 / 7.0; s.CompletionRate != want {
		t.Errorf("completionRate = %f, want %f", s.CompletionRate, want)
	}
}

func TestProgressRounding(t *testing.T) {
	cases := []struct {
		approved, total, want int
	}{
		{0, 7, 0},
		{7, 7, 100},
		{5, 7, 71},
		{4, 5, 80},
		{1, 3, 33},
		{2, 3, 67},
		{1, 2, 50},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := Progress(tc.approved, tc.total); got != tc.want {
			t.Errorf("Progress(%d, %d) = %d, want %d", tc.approved, tc.total, got, tc.want)
		}
	}
}

func TestChallengeState(t *testing.T) {
	const start, end = "2025-03-01", "2025-03-07"
	cases := []struct {
		name    string
		now     time.Time
		settled bool
		want    ChallengeState
	}{
		{"before start", time.Date(2025, 2, 25, 0, 0, 0, 0, time.UTC), false, StateUpcoming},
		{"first day", time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), false, StateActive},
		{"last day", time.Date(2025, 3, 7, 23, 0, 0, 0, time.UTC), false, StateActive},
		{"after end", time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), false, StateClosed},
		{"after settlement", time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), true, StateSettled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := State(start, end, tc.now, tc.settled)
			if err != nil {
				t.Fatalf("State: %v", err)
			}
			if got != tc.want {
				t.Errorf("State(now=%s, settled=%v) = %s, want %s", tc.now, tc.settled, got, tc.want)
			}
		})
	}
}
