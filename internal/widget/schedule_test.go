package widget

import (
	"testing"
	"time"
)

func TestScheduleEmptyIsAlwaysOnline(t *testing.T) {
	var s Schedule
	if !s.OnlineAt(time.Now()) {
		t.Fatal("empty schedule should be online")
	}
}

func TestScheduleWithinWindow(t *testing.T) {
	s := Schedule{Hours: []OpeningHours{{Day: "mon", Open: "09:00", Close: "17:00"}}}

	// 2026-08-31 is a Monday.
	monday := time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)
	if !s.OnlineAt(monday) {
		t.Fatal("10:30 Monday should be within 09:00-17:00")
	}

	early := time.Date(2026, 8, 31, 8, 59, 0, 0, time.UTC)
	if s.OnlineAt(early) {
		t.Fatal("08:59 should be before opening")
	}

	// Close is exclusive.
	closing := time.Date(2026, 8, 31, 17, 0, 0, 0, time.UTC)
	if s.OnlineAt(closing) {
		t.Fatal("17:00 should be after closing")
	}

	tuesday := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	if s.OnlineAt(tuesday) {
		t.Fatal("Tuesday has no window")
	}
}

func TestScheduleHonorsTimezone(t *testing.T) {
	s := Schedule{
		Timezone: "Europe/Berlin",
		Hours:    []OpeningHours{{Day: "mon", Open: "09:00", Close: "17:00"}},
	}

	// 07:30 UTC on a Monday is 09:30 in Berlin during DST.
	utcMorning := time.Date(2026, 8, 31, 7, 30, 0, 0, time.UTC)
	if !s.OnlineAt(utcMorning) {
		t.Fatal("07:30 UTC should be inside Berlin business hours")
	}
}

func TestScheduleOvernightWindow(t *testing.T) {
	s := Schedule{Hours: []OpeningHours{{Day: "mon", Open: "22:00", Close: "02:00"}}}

	lateEvening := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	if !s.OnlineAt(lateEvening) {
		t.Fatal("23:00 Monday should be inside 22:00-02:00")
	}

	earlyMorning := time.Date(2026, 8, 31, 1, 0, 0, 0, time.UTC)
	if !s.OnlineAt(earlyMorning) {
		t.Fatal("01:00 Monday should be inside 22:00-02:00")
	}

	midday := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	if s.OnlineAt(midday) {
		t.Fatal("12:00 is outside the overnight window")
	}

	tuesdayNight := time.Date(2026, 9, 1, 23, 0, 0, 0, time.UTC)
	if s.OnlineAt(tuesdayNight) {
		t.Fatal("the window only covers Monday")
	}
}

func TestScheduleZeroLengthWindowIsEmpty(t *testing.T) {
	s := Schedule{Hours: []OpeningHours{{Day: "mon", Open: "09:00", Close: "09:00"}}}
	monday := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	if s.OnlineAt(monday) {
		t.Fatal("an open equal to close must never match")
	}
}

func TestScheduleSkipsUnparseableWindows(t *testing.T) {
	s := Schedule{Hours: []OpeningHours{
		{Day: "mon", Open: "garbage", Close: "17:00"},
		{Day: "mon", Open: "12:00", Close: "18:00"},
	}}
	monday := time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC)
	if !s.OnlineAt(monday) {
		t.Fatal("valid window should still apply")
	}
	morning := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if s.OnlineAt(morning) {
		t.Fatal("broken window must not match")
	}
}
