package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"2024-03-04T09:30:00Z", time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC), false},
		{"2024-03-04T09:30:00+02:00", time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC), false},
		{"2024-03-04", time.Date(2024, 3, 4, 0, 0, 0, 0, est), false},
		{" 2024-03-04 ", time.Date(2024, 3, 4, 0, 0, 0, 0, est), false},
		{"04.03.2024", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTimestamp(tt.input, est)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseAttrs(t *testing.T) {
	attrs, err := parseAttrs([]string{"msdyn_description=Design=Review", "msdyn_type=192350000", "billable=true", "note="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"msdyn_description": "Design=Review",
		"msdyn_type":        int64(192350000),
		"billable":          true,
		"note":              "",
	}, attrs)

	attrs, err = parseAttrs(nil)
	require.NoError(t, err)
	assert.Nil(t, attrs)

	for _, bad := range []string{"novalue", "=x", " =x"} {
		_, err := parseAttrs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestSelectRange(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC) // Friday

	from, to, err := selectRange(now, false, "", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 18, to.Day())

	from, to, err = selectRange(now, true, "", "")
	require.NoError(t, err)
	assert.Equal(t, 16, from.Day())
	assert.Equal(t, 16, to.Day())

	from, to, err = selectRange(now, false, "2026-10-01", "2026-10-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 3, to.Day())

	_, _, err = selectRange(now, false, "", "2026-10-03")
	assert.Error(t, err)
	_, _, err = selectRange(now, false, "2026-10-03", "2026-10-01")
	assert.Error(t, err)
}
