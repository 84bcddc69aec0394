package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"1 hour 30 minutes", 5400},
		{"1ժ 30ր", 5400},
		{"3ժ 20ր", 12000},
		{"2 ժամ 5 րոպե", 7500},
		{"1h 30m", 5400},
		{"1h30m10s", 5410},
		{"45 min", 2700},
		{"01:30:00", 5400},
		{"12:30", 750},
		{"90", 5400},
		{"1.5 hours", 5400},
		{"Տևողություն՝ 4ժ 2ր", 14520},
		{"<span>2ժ</span>&nbsp;15ր", 8100},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "unknown", "5 parsecs"} {
		_, err := ParseDuration(in)
		require.ErrorIs(t, err, ErrUnparsableDuration, in)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	t.Parallel()

	secs, err := ParseDuration("1 hour 30 minutes")
	require.NoError(t, err)
	require.Equal(t, 5400, secs)

	display := FormatDuration(secs)
	assert.Equal(t, "1ժ 30ր", display)

	again, err := ParseDuration(display)
	require.NoError(t, err)
	assert.Equal(t, secs, again)

	for _, n := range []int{1, 59, 60, 61, 3600, 3661, 86399} {
		back, err := ParseDuration(FormatDuration(n))
		require.NoError(t, err)
		assert.Equal(t, n, back, "round trip %d", n)
	}
}
