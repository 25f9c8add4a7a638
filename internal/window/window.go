package window

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptoledger/models"
)

var (
	ErrInvalidDateFormat = errors.New("invalid date format")
	ErrInvalidDateRange  = errors.New("invalid date range")
)

// dateLayouts are tried in order. Numeric forms are day first.
var dateLayouts = []string{
	"2-1-2006",
	"2-1-2006 15:04:05",
	"2-1-2006 15:04",
	"2/1/2006",
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2.1.2006",
	"2.1.2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ParseDate parses a human date string in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
}

// Splitter cuts a date range into windows of at most one calendar month.
type Splitter struct {
	now func() time.Time
}

// NewSplitter returns a Splitter using now for open-ended ranges. A nil
// clock uses time.Now.
func NewSplitter(now func() time.Time) *Splitter {
	if now == nil {
		now = time.Now
	}
	return &Splitter{now: now}
}

// Split walks forward from start. Each window ends one calendar month after
// it begins, clipped to the last day of a shorter month, and the next window
// begins where it ended. The last window ends at end. Both bounds nil yields
// the single unbounded window.
func (s *Splitter) Split(start, end *time.Time) ([]models.DateWindow, error) {
	if start == nil && end == nil {
		return []models.DateWindow{{}}, nil
	}
	if start == nil {
		return nil, fmt.Errorf("%w: end date given without a start date", ErrInvalidDateRange)
	}

	to := s.now().In(start.Location())
	if end != nil {
		to = *end
	}
	if to.Before(*start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidDateRange, to.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	var windows []models.DateWindow
	ws := *start
	for {
		we := AddMonths(ws, 1)
		if we.After(to) {
			we = to
		}
		wStart, wEnd := ws, we
		windows = append(windows, models.DateWindow{Start: &wStart, End: &wEnd})
		if !we.Before(to) {
			return windows, nil
		}
		ws = we
	}
}

// ParseRange parses optional start and end strings and splits the range.
func (s *Splitter) ParseRange(startStr, endStr string, loc *time.Location) ([]models.DateWindow, error) {
	var start, end *time.Time
	if strings.TrimSpace(startStr) != "" {
		t, err := ParseDate(startStr, loc)
		if err != nil {
			return nil, err
		}
		start = &t
	}
	if strings.TrimSpace(endStr) != "" {
		t, err := ParseDate(endStr, loc)
		if err != nil {
			return nil, err
		}
		end = &t
	}
	return s.Split(start, end)
}

// AddMonths adds n calendar months to t, clipping the day to the end of the
// target month, so Jan 31 plus one month is the last day of February.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	last := time.Date(y, m+time.Month(n)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(y, m+time.Month(n), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
