package dto

import "github.com/EternisAI/fleetwatch/internal/feed"

type SubscriptionsResponse struct {
	Subscriptions []feed.Info `json:"subscriptions"`
	Count         int         `json:"count"`
}

type IngestResponse struct {
	ID int64 `json:"id"`
}
