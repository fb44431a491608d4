package schedule

import (
	"testing"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseCron(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"daily at nine", "0 9 * * *", false},
		{"weekday range", "30 8 * * 1-5", false},
		{"step values", "*/15 * * * *", false},
		{"empty", "", true},
		{"too few fields", "* * * *", true},
		{"six fields", "0 * * * * *", true},
		{"minute out of range", "61 * * * *", true},
		{"garbage", "not a cron", true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCron(tc.expr)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseCron(%q) err = %v, wantErr = %v", tc.expr, err, tc.wantErr)
			}
		})
	}
}

func TestRecurringDue(t *testing.T) {
	t.Parallel()

	lastRun := ts("2026-03-01T10:05:00Z")

	cases := []struct {
		name    string
		cron    string
		created time.Time
		lastRun *time.Time
		now     time.Time
		want    bool
	}{
		{
			name:    "never run, before first boundary",
			cron:    "* * * * *",
			created: ts("2026-03-01T10:00:30Z"),
			now:     ts("2026-03-01T10:00:59Z"),
			want:    false,
		},
		{
			name:    "never run, exactly at first boundary",
			cron:    "* * * * *",
			created: ts("2026-03-01T10:00:30Z"),
			now:     ts("2026-03-01T10:01:00Z"),
			want:    true,
		},
		{
			name:    "creation on a boundary does not fire at creation",
			cron:    "* * * * *",
			created: ts("2026-03-01T10:00:00Z"),
			now:     ts("2026-03-01T10:00:00Z"),
			want:    false,
		},
		{
			name:    "creation on a boundary fires at the next one",
			cron:    "* * * * *",
			created: ts("2026-03-01T10:00:00Z"),
			now:     ts("2026-03-01T10:01:00Z"),
			want:    true,
		},
		{
			name:    "last_run anchors instead of created_at",
			cron:    "* * * * *",
			created: ts("2026-03-01T09:00:00Z"),
			lastRun: &lastRun,
			now:     ts("2026-03-01T10:05:59Z"),
			want:    false,
		},
		{
			name:    "due again one boundary after last_run",
			cron:    "* * * * *",
			created: ts("2026-03-01T09:00:00Z"),
			lastRun: &lastRun,
			now:     ts("2026-03-01T10:06:00Z"),
			want:    true,
		},
		{
			name:    "daily schedule well past its boundary",
			cron:    "0 9 * * *",
			created: ts("2026-03-01T08:00:00Z"),
			now:     ts("2026-03-01T12:00:00Z"),
			want:    true,
		},
		{
			name:    "daily schedule before its boundary",
			cron:    "0 9 * * *",
			created: ts("2026-03-01T08:00:00Z"),
			now:     ts("2026-03-01T08:59:59Z"),
			want:    false,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := Recurring{Cron: tc.cron, CreatedAt: tc.created, LastRun: tc.lastRun}
			got, err := RecurringDue(s, tc.now)
			if err != nil {
				t.Fatalf("RecurringDue: %v", err)
			}
			if got != tc.want {
				t.Fatalf("RecurringDue = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRecurringDueBadCron(t *testing.T) {
	t.Parallel()
	s := Recurring{Cron: "bogus", CreatedAt: ts("2026-03-01T10:00:00Z")}
	if _, err := RecurringDue(s, ts("2026-03-01T11:00:00Z")); err == nil {
		t.Fatal("expected error for unparseable cron expression")
	}
}

func TestOneTimeDue(t *testing.T) {
	t.Parallel()

	execAt := ts("2026-03-01T10:30:00Z")
	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before", ts("2026-03-01T10:29:59Z"), false},
		{"exactly at execute_at", execAt, true},
		{"after", ts("2026-03-01T10:30:01Z"), true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := OneTimeDue(OneTime{ExecuteAt: execAt}, tc.now); got != tc.want {
				t.Fatalf("OneTimeDue = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOneTimeDueNonUTCInput(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("plus2", 2*60*60)
	execAt := ts("2026-03-01T10:30:00Z")
	// Same instant expressed in a non-UTC zone.
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, loc)
	if !OneTimeDue(OneTime{ExecuteAt: execAt}, now) {
		t.Fatal("equal instants in different zones must compare as due")
	}
}

func TestNewConstructorsDefaults(t *testing.T) {
	t.Parallel()

	rec := NewRecurring("agent-1", "cred", "* * * * *", "hi", "")
	if rec.Role != DefaultRole {
		t.Fatalf("recurring role = %q, want %q", rec.Role, DefaultRole)
	}
	if rec.ID == "" {
		t.Fatal("recurring id must be assigned")
	}
	if rec.LastRun != nil {
		t.Fatal("fresh recurring schedule must have no last_run")
	}

	loc := time.FixedZone("plus2", 2*60*60)
	ot := NewOneTime("agent-1", "cred", time.Date(2026, 3, 1, 12, 30, 0, 0, loc), "hi", "system")
	if ot.Role != "system" {
		t.Fatalf("one-time role = %q, want system", ot.Role)
	}
	if ot.ExecuteAt.Location() != time.UTC {
		t.Fatal("execute_at must be normalized to UTC")
	}
	if got, want := ot.ExecuteAt, ts("2026-03-01T10:30:00Z"); !got.Equal(want) {
		t.Fatalf("execute_at = %v, want %v", got, want)
	}
}
