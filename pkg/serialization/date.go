package serialization

import "time"

// DateLayout is the wire format of dates: ISO-8601 with microseconds, UTC.
const DateLayout = "2006-01-02T15:04:05.000000Z07:00"

// StringFromDate formats t in UTC using DateLayout.
func StringFromDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DateFromString parses s using DateLayout. Offsets other than Z are accepted
// and converted to UTC.
func DateFromString(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &MalformedDateError{Value: s, Err: err}
	}
	return t.UTC(), nil
}
