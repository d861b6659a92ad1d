package widget

import (
	"strings"
	"time"
)

// Schedule is the widget's weekly opening hours. An empty schedule
// means always online.
type Schedule struct {
	Timezone string         `yaml:"timezone,omitempty"`
	Hours    []OpeningHours `yaml:"hours,omitempty"`
}

// OpeningHours is one weekday window, times as "15:04" strings.
type OpeningHours struct {
	Day   string `yaml:"day"` // "mon", "tue", ...
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// OnlineAt reports whether the schedule considers the widget staffed
// at the given instant. Unparseable windows are skipped.
func (s Schedule) OnlineAt(t time.Time) bool {
	if len(s.Hours) == 0 {
		return true
	}

	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)

	for _, h := range s.Hours {
		day, ok := weekdays[strings.ToLower(h.Day)]
		if !ok || local.Weekday() != day {
			continue
		}
		open, err1 := time.Parse("15:04", h.Open)
		close, err2 := time.Parse("15:04", h.Close)
		if err1 != nil || err2 != nil {
			continue
		}

		minutes := local.Hour()*60 + local.Minute()
		openMin := open.Hour()*60 + open.Minute()
		closeMin := close.Hour()*60 + close.Minute()
		switch {
		case openMin == closeMin:
			// Zero-length window, treated as empty.
			continue
		case closeMin < openMin:
			// Overnight window, e.g. 22:00-02:00: matches the late
			// evening and the early hours of the same weekday.
			if minutes >= openMin || minutes < closeMin {
				return true
			}
		case minutes >= openMin && minutes < closeMin:
			return true
		}
	}
	return false
}
