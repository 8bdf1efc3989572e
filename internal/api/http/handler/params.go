package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/events"
)

const defaultWindow = 24 * time.Hour

// timeParam parses an RFC3339 query parameter. A missing parameter yields
// the zero time.
func timeParam(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be RFC3339: %q", events.ErrValidation, name, raw)
	}
	return t.UTC(), nil
}

// asOfParam returns nil when as_of is absent so the engine uses its clock.
func asOfParam(c *gin.Context) (*time.Time, error) {
	t, err := timeParam(c, "as_of")
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

// windowParams reads from/to, defaulting to the trailing 24h ending at now.
func windowParams(c *gin.Context, now time.Time) (events.Window, error) {
	from, err := timeParam(c, "from")
	if err != nil {
		return events.Window{}, err
	}
	to, err := timeParam(c, "to")
	if err != nil {
		return events.Window{}, err
	}
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	return events.Window{From: from, To: to}, nil
}

// kindsParam accepts kind=a&kind=b as well as kind=a,b.
func kindsParam(c *gin.Context) ([]events.Kind, error) {
	var kinds []events.Kind
	for _, raw := range c.QueryArray("kind") {
		for part := range strings.SplitSeq(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			k, err := events.ParseKind(part)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// durationParam accepts a Go duration ("15m") or whole seconds ("900").
func durationParam(c *gin.Context, name string) (time.Duration, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a duration or seconds: %q", events.ErrValidation, name, raw)
	}
	return d, nil
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer: %q", events.ErrValidation, name, raw)
	}
	return n, nil
}
