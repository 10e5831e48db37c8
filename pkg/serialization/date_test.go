package serialization_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-skykit/pkg/serialization"
)

func TestDateFormat(t *testing.T) {
	t.Run("Formats in UTC with microseconds", func(t *testing.T) {
		loc := time.FixedZone("HKT", 8*60*60)
		d := time.Date(2015, 9, 1, 18, 30, 0, 123456000, loc)
		assert.Equal(t, "2015-09-01T10:30:00.123456Z", serialization.StringFromDate(d))
	})

	t.Run("Parses offsets into UTC", func(t *testing.T) {
		d, err := serialization.DateFromString("2015-09-01T18:30:00.000001+08:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2015, 9, 1, 10, 30, 0, 1000, time.UTC), d)
	})

	t.Run("Rejects malformed strings", func(t *testing.T) {
		for _, s := range []string{"", "2015-09-01", "not a date", "2015-13-01T00:00:00.000000Z"} {
			_, err := serialization.DateFromString(s)
			var dateErr *serialization.MalformedDateError
			assert.ErrorAs(t, err, &dateErr, s)
		}
	})

	t.Run("Inverse at microsecond precision", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		boundaries := []time.Time{
			time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(1999, 12, 31, 23, 59, 59, 999999000, time.UTC),
			time.Date(2000, 1, 1, 0, 0, 0, 1000, time.UTC),
			time.Date(2038, 1, 19, 3, 14, 7, 500000000, time.UTC),
		}
		for i := 0; i < 200; i++ {
			sec := rng.Int63n(4102444800) // up to 2100-01-01
			usec := rng.Int63n(1_000_000)
			boundaries = append(boundaries, time.Unix(sec, usec*1000).UTC())
		}

		for _, d := range boundaries {
			parsed, err := serialization.DateFromString(serialization.StringFromDate(d))
			require.NoError(t, err)
			assert.True(t, d.Equal(parsed), "round trip of %s gave %s", d, parsed)
		}
	})

	t.Run("Sub-microsecond precision is truncated by NewDate", func(t *testing.T) {
		d := serialization.NewDate(time.Date(2020, 5, 5, 5, 5, 5, 123456789, time.UTC))
		assert.Equal(t, 123456000, d.Nanosecond())
	})
}
