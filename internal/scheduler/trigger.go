package scheduler

import "time"

// Trigger computes the next fire time strictly after a given instant.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// Daily fires once a day at Hour:Minute in Location (UTC when nil).
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

func (d Daily) Next(after time.Time) time.Time {
	t := after.In(orUTC(d.Location))
	next := time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.Hour, d.Minute, 0, 0, t.Location())
	}
	return next
}

func (d Daily) String() string {
	return "daily " + clock(d.Hour, d.Minute, d.Location)
}

// Weekly fires once a week on Weekday at Hour:Minute in Location.
type Weekly struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Location *time.Location
}

func (w Weekly) Next(after time.Time) time.Time {
	t := after.In(orUTC(w.Location))
	days := (int(w.Weekday) - int(t.Weekday()) + 7) % 7
	next := time.Date(t.Year(), t.Month(), t.Day()+days, w.Hour, w.Minute, 0, 0, t.Location())
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+days+7, w.Hour, w.Minute, 0, 0, t.Location())
	}
	return next
}

func (w Weekly) String() string {
	return "weekly " + w.Weekday.String() + " " + clock(w.Hour, w.Minute, w.Location)
}

// Every fires at a fixed interval from the previous fire.
type Every struct {
	Interval time.Duration
}

func (e Every) Next(after time.Time) time.Time {
	return after.Add(e.Interval)
}

func (e Every) String() string {
	return "every " + e.Interval.String()
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

func clock(h, m int, loc *time.Location) string {
	return time.Date(2000, 1, 1, h, m, 0, 0, time.UTC).Format("15:04") + " " + orUTC(loc).String()
}
