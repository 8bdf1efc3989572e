package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/fleetwatch/internal/events"
)

// UnknownGroup stands in for events that lack the field being grouped on, so
// they are still counted.
const UnknownGroup = "unknown"

// AllGroup is the single group key used with GroupByNone.
const AllGroup = "all"

type GroupBy string

const (
	GroupByAgent   GroupBy = "agent"
	GroupByUser    GroupBy = "user"
	GroupByAddress GroupBy = "address"
	GroupByNone    GroupBy = "none"
)

func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupByAgent, GroupByUser, GroupByAddress, GroupByNone:
		return g, nil
	}
	return "", fmt.Errorf("%w: unknown group_by %q (valid: agent, user, address, none)", events.ErrValidation, s)
}

func (g GroupBy) key(ev events.Event) string {
	switch g {
	case GroupByAgent:
		return ev.Agent.String()
	case GroupByUser:
		if u := ev.Username(); u != "" {
			return u
		}
		return UnknownGroup
	case GroupByAddress:
		if a := ev.ClientAddress(); a != "" {
			return a
		}
		return UnknownGroup
	default:
		return AllGroup
	}
}

type Granularity string

const (
	Hour Granularity = "hour"
	Day  Granularity = "day"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Hour, Day:
		return g, nil
	}
	return "", fmt.Errorf("%w: unknown granularity %q (valid: hour, day)", events.ErrValidation, s)
}

// Floor returns the start of the UTC slot containing t.
func (g Granularity) Floor(t time.Time) time.Time {
	t = t.UTC()
	if g == Day {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

// Query describes one aggregation. Empty Kinds counts every kind.
type Query struct {
	Kinds       []events.Kind
	Window      events.Window
	GroupBy     GroupBy
	Granularity Granularity
	Agent       *events.AgentID
}

type TopQuery struct {
	Kinds   []events.Kind
	Window  events.Window
	GroupBy GroupBy
	N       int
}

// Bucket is the count of events falling in one (slot, group) cell.
type Bucket struct {
	Start time.Time
	Group string
	Count int64
}

type GroupCount struct {
	Group string
	Count int64
}

// Overview is the dashboard summary of authenticated sessions over a window,
// all tables derived from one pass over the same events.
type Overview struct {
	Window        events.Window
	Total         int64
	ByAgent       []GroupCount
	HourlyByAgent []Bucket
	TopUsers      []GroupCount
}

func validateKinds(kinds []events.Kind) error {
	for _, k := range kinds {
		if _, err := events.ParseKind(string(k)); err != nil {
			return err
		}
	}
	return nil
}
