package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange(t *testing.T) {
	day := func(s string) time.Time {
		d, err := time.Parse(dateLayout, s)
		require.NoError(t, err)
		return d
	}

	start, end, err := dateRange("2026-03-01", "")
	require.NoError(t, err)
	assert.Equal(t, day("2026-03-01"), start)
	assert.Equal(t, day("2026-03-02"), end)

	start, end, err = dateRange("2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, day("2026-03-01"), start)
	assert.Equal(t, day("2026-04-01"), end)

	_, _, err = dateRange("2026-03-02", "2026-03-01")
	assert.ErrorContains(t, err, "before")

	_, _, err = dateRange("03/01/2026", "")
	assert.ErrorContains(t, err, "--from")

	_, _, err = dateRange("2026-03-01", "tomorrow")
	assert.ErrorContains(t, err, "--to")
}
