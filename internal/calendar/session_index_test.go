package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/wonny/cepfolio/internal/contracts"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewRejectsEmptyCalendar(t *testing.T) {
	_, err := New(nil)
	if err == nil {
		t.Fatal("expected error for empty calendar")
	}
	var cfgErr *contracts.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestNewSortsAndDeduplicates(t *testing.T) {
	idx, err := New([]time.Time{
		day(2020, 1, 3),
		day(2020, 1, 2),
		time.Date(2020, 1, 2, 15, 30, 0, 0, time.UTC), // same date, intraday
		day(2020, 1, 6),
	})
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 3 {
		t.Fatalf("want 3 sessions, got %d", idx.Len())
	}
	if !idx.At(0).Equal(day(2020, 1, 2)) || !idx.At(2).Equal(day(2020, 1, 6)) {
		t.Fatalf("sessions not sorted: %v", idx.Days())
	}
}

func TestIndexAndShift(t *testing.T) {
	idx, err := New([]time.Time{day(2020, 1, 2), day(2020, 1, 3), day(2020, 1, 6)})
	if err != nil {
		t.Fatal(err)
	}

	if got := idx.Index(day(2020, 1, 3)); got != 1 {
		t.Fatalf("Index = %d, want 1", got)
	}
	if got := idx.Index(day(2020, 1, 4)); got != -1 {
		t.Fatalf("Index of non-session = %d, want -1", got)
	}

	next, ok := idx.Next(day(2020, 1, 3))
	if !ok || !next.Equal(day(2020, 1, 6)) {
		t.Fatalf("Next = %v ok=%v", next, ok)
	}
	if _, ok := idx.Next(day(2020, 1, 6)); ok {
		t.Fatal("Next past calendar end should fail")
	}
	if _, ok := idx.Shift(day(2020, 1, 2), -1); ok {
		t.Fatal("Shift before calendar start should fail")
	}
}

func TestRangeAndFloorIndex(t *testing.T) {
	idx, err := New([]time.Time{day(2020, 1, 2), day(2020, 1, 3), day(2020, 1, 6), day(2020, 1, 7)})
	if err != nil {
		t.Fatal(err)
	}

	got := idx.Range(day(2020, 1, 3), day(2020, 1, 6))
	if len(got) != 2 || !got[0].Equal(day(2020, 1, 3)) || !got[1].Equal(day(2020, 1, 6)) {
		t.Fatalf("Range = %v", got)
	}

	// Bounds on non-sessions still clamp correctly.
	got = idx.Range(day(2020, 1, 4), day(2020, 1, 8))
	if len(got) != 2 || !got[0].Equal(day(2020, 1, 6)) {
		t.Fatalf("Range with non-session bounds = %v", got)
	}

	if fi := idx.FloorIndex(day(2020, 1, 5)); fi != 1 {
		t.Fatalf("FloorIndex = %d, want 1", fi)
	}
	if fi := idx.FloorIndex(day(2019, 12, 31)); fi != -1 {
		t.Fatalf("FloorIndex before calendar = %d, want -1", fi)
	}
}
