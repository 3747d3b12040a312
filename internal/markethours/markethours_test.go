package markethours

import (
	"testing"
	"time"
)

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, ET)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", et(2026, time.October, 19, 9, 29), false},
		{"at open", et(2026, time.October, 19, 9, 30), true},
		{"midday", et(2026, time.October, 19, 12, 0), true},
		{"at close", et(2026, time.October, 19, 16, 0), false},
		{"saturday", et(2026, time.October, 17, 12, 0), false},
		{"thanksgiving", et(2026, time.November, 26, 12, 0), false},
		{"early close morning", et(2026, time.November, 27, 12, 59), true},
		{"early close afternoon", et(2026, time.November, 27, 13, 0), false},
		{"utc input", time.Date(2026, time.October, 19, 14, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range tests {
		if got := IsMarketOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsMarketOpen(%v) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}

func TestNextOpen(t *testing.T) {
	// Friday evening before a Monday holiday (MLK 2027).
	got := NextOpen(et(2027, time.January, 15, 17, 0))
	want := et(2027, time.January, 19, 9, 30)
	if !got.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", got, want)
	}

	got = NextOpen(et(2026, time.October, 19, 8, 0))
	if !got.Equal(et(2026, time.October, 19, 9, 30)) {
		t.Fatalf("NextOpen before open = %v", got)
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(et(2026, time.October, 19, 15, 30)); d != 30*time.Minute {
		t.Fatalf("TimeUntilClose = %v", d)
	}
	if d := TimeUntilClose(et(2026, time.October, 19, 17, 0)); d != 0 {
		t.Fatalf("TimeUntilClose after close = %v", d)
	}
}
