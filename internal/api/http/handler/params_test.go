package handler

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/fleetwatch/internal/events"
)

func testContext(rawQuery string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?"+rawQuery, nil)
	return c
}

func TestWindowParams(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("defaults to trailing day", func(t *testing.T) {
		w, err := windowParams(testContext(""), now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-24*time.Hour), w.From)
		assert.Equal(t, now, w.To)
	})

	t.Run("explicit bounds are normalised to UTC", func(t *testing.T) {
		w, err := windowParams(testContext("from=2026-03-01T10:00:00%2B02:00&to=2026-03-01T12:00:00Z"), now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), w.From)
		assert.Equal(t, time.UTC, w.From.Location())
	})

	t.Run("from only is relative to to", func(t *testing.T) {
		w, err := windowParams(testContext("to=2026-03-01T12:00:00Z"), now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), w.From)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := windowParams(testContext("from=yesterday"), now)
		assert.ErrorIs(t, err, events.ErrValidation)
	})
}

func TestKindsParam(t *testing.T) {
	kinds, err := kindsParam(testContext("kind=connect,disconnect&kind=heartbeat"))
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{events.KindConnect, events.KindDisconnect, events.KindHeartbeat}, kinds)

	kinds, err = kindsParam(testContext(""))
	require.NoError(t, err)
	assert.Empty(t, kinds)

	_, err = kindsParam(testContext("kind=reboot"))
	assert.ErrorIs(t, err, events.ErrValidation)
}

func TestDurationParam(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
		err   bool
	}{
		{"", 0, false},
		{"backlog=900", 15 * time.Minute, false},
		{"backlog=90s", 90 * time.Second, false},
		{"backlog=soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			d, err := durationParam(testContext(tt.query), "backlog")
			if tt.err {
				assert.ErrorIs(t, err, events.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestIntParam(t *testing.T) {
	n, err := intParam(testContext(""), "n", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = intParam(testContext("n=3"), "n", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = intParam(testContext("n=three"), "n", 10)
	assert.ErrorIs(t, err, events.ErrValidation)
}

func TestAsOfParam(t *testing.T) {
	asOf, err := asOfParam(testContext(""))
	require.NoError(t, err)
	assert.Nil(t, asOf)

	asOf, err = asOfParam(testContext("as_of=2026-03-02T11:00:00Z"))
	require.NoError(t, err)
	require.NotNil(t, asOf)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), *asOf)
}
