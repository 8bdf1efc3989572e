package dto

import (
	"time"

	"github.com/EternisAI/fleetwatch/internal/analytics"
	"github.com/EternisAI/fleetwatch/internal/events"
)

type WindowResponse struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type BucketResponse struct {
	Start time.Time `json:"start"`
	Group string    `json:"group"`
	Count int64     `json:"count"`
}

type GroupCountResponse struct {
	Group string `json:"group"`
	Count int64  `json:"count"`
}

type AggregateResponse struct {
	Window      WindowResponse   `json:"window"`
	GroupBy     string           `json:"group_by"`
	Granularity string           `json:"granularity"`
	Buckets     []BucketResponse `json:"buckets"`
}

type TopResponse struct {
	Window  WindowResponse       `json:"window"`
	GroupBy string               `json:"group_by"`
	Groups  []GroupCountResponse `json:"groups"`
}

type OverviewResponse struct {
	Window        WindowResponse       `json:"window"`
	Total         int64                `json:"total"`
	ByAgent       []GroupCountResponse `json:"by_agent"`
	HourlyByAgent []BucketResponse     `json:"hourly_by_agent"`
	TopUsers      []GroupCountResponse `json:"top_users"`
}

func NewWindowResponse(w events.Window) WindowResponse {
	return WindowResponse{From: w.From, To: w.To}
}

func NewBucketResponses(buckets []analytics.Bucket) []BucketResponse {
	out := make([]BucketResponse, len(buckets))
	for i, b := range buckets {
		out[i] = BucketResponse{Start: b.Start, Group: b.Group, Count: b.Count}
	}
	return out
}

func NewGroupCountResponses(groups []analytics.GroupCount) []GroupCountResponse {
	out := make([]GroupCountResponse, len(groups))
	for i, g := range groups {
		out[i] = GroupCountResponse{Group: g.Group, Count: g.Count}
	}
	return out
}

func NewOverviewResponse(o *analytics.Overview) OverviewResponse {
	return OverviewResponse{
		Window:        NewWindowResponse(o.Window),
		Total:         o.Total,
		ByAgent:       NewGroupCountResponses(o.ByAgent),
		HourlyByAgent: NewBucketResponses(o.HourlyByAgent),
		TopUsers:      NewGroupCountResponses(o.TopUsers),
	}
}
