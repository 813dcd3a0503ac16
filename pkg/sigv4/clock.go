package sigv4

import "time"

const (
	dateFormat     = "20060102"
	dateTimeFormat = "20060102T150405Z"
)

// Clock is the instant a request is signed at. It is always UTC.
type Clock struct {
	t time.Time
}

// NewClock returns a Clock for t converted to UTC.
func NewClock(t time.Time) Clock {
	return Clock{t: t.UTC()}
}

// Unix returns a Clock for the given Unix timestamp in seconds.
func Unix(sec int64) Clock {
	return NewClock(time.Unix(sec, 0))
}

// Now returns a Clock for the current wall time.
func Now() Clock {
	return NewClock(time.Now())
}

// Time returns the underlying UTC time.
func (c Clock) Time() time.Time {
	return c.t
}

// Date returns the date as YYYYMMDD.
func (c Clock) Date() string {
	return c.t.Format(dateFormat)
}

// DateTime returns the timestamp as YYYYMMDDTHHMMSSZ.
func (c Clock) DateTime() string {
	return c.t.Format(dateTimeFormat)
}
