package dimension

import (
	"testing"
	"time"

	"mart/internal/mart"
)

func TestBuildDateRange(t *testing.T) {
	t.Parallel()

	from := time.Date(2021, 4, 30, 15, 0, 0, 0, time.UTC)
	to := time.Date(2021, 5, 2, 3, 0, 0, 0, time.UTC)

	rows := BuildDateRange(from, to)
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}

	if rows[0].DateKey != 20210430 || rows[2].DateKey != 20210502 {
		t.Fatalf("unexpected keys: %d .. %d", rows[0].DateKey, rows[2].DateKey)
	}

	mayFirst := rows[1]
	if !mayFirst.IsHoliday {
		t.Error("2021-05-01 should be flagged as holiday")
	}
	if !mayFirst.IsWeekend {
		t.Error("2021-05-01 was a Saturday")
	}
	if mayFirst.Quarter != 2 || mayFirst.Month != 5 || mayFirst.Year != 2021 {
		t.Errorf("calendar fields wrong: %+v", mayFirst)
	}

	weekday := rows[0]
	if weekday.IsWeekend || weekday.IsHoliday {
		t.Errorf("2021-04-30 is a plain Friday: %+v", weekday)
	}
}

func TestBuildDateRangeInverted(t *testing.T) {
	t.Parallel()

	from := time.Date(2021, 5, 2, 0, 0, 0, 0, time.UTC)
	if rows := BuildDateRange(from, from.AddDate(0, 0, -1)); rows != nil {
		t.Fatalf("inverted range returned %d rows", len(rows))
	}
}

func TestBuildDateRangeSingleDay(t *testing.T) {
	t.Parallel()

	d := time.Date(2021, 9, 7, 12, 0, 0, 0, time.UTC)
	rows := BuildDateRange(d, d)
	if len(rows) != 1 {
		t.Fatalf("len = %d, want 1", len(rows))
	}
	if rows[0].DateKey != mart.DateKey(d) || !rows[0].IsHoliday {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}
