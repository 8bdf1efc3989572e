package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/EternisAI/fleetwatch/internal/api/http/dto"
	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
)

const keepAliveInterval = 15 * time.Second

type LiveHandler struct {
	feed      *feed.Distributor
	keepAlive time.Duration
}

func NewLiveHandler(dist *feed.Distributor) *LiveHandler {
	return &LiveHandler{
		feed:      dist,
		keepAlive: keepAliveInterval,
	}
}

// Stream serves the live feed as server-sent events. Each event is an
// "event" message whose id is the event ID; a gap is a "gap" message
// carrying the number of dropped and late events.
// GET /live/events?kind=&agent=&location=&backlog=
func (h *LiveHandler) Stream(c *gin.Context) {
	opts, err := liveOptions(c)
	if err != nil {
		respondError(c, err, "Failed to open live feed")
		return
	}

	ctx := c.Request.Context()
	sub, err := h.feed.Subscribe(ctx, opts)
	if err != nil {
		respondError(c, err, "Failed to open live feed")
		return
	}
	defer sub.Close()

	slog.Info("Live feed opened", "subscription_id", sub.ID(), "client_ip", c.ClientIP())

	header := c.Writer.Header()
	header.Set("Content-Type", sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		d, err := h.next(ctx, sub)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := c.Writer.WriteString(":keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
			continue
		case err != nil:
			slog.Info("Live feed closed", "subscription_id", sub.ID(), "reason", err)
			return
		}

		if err := sse.Encode(c.Writer, toSSE(d)); err != nil {
			slog.Debug("Live feed write failed", "subscription_id", sub.ID(), "error", err)
			return
		}
		c.Writer.Flush()
	}
}

// next waits for a delivery for at most one keep-alive period.
func (h *LiveHandler) next(ctx context.Context, sub *feed.Subscription) (feed.Delivery, error) {
	waitCtx, cancel := context.WithTimeout(ctx, h.keepAlive)
	defer cancel()
	d, err := sub.Next(waitCtx)
	if err != nil && ctx.Err() != nil {
		return feed.Delivery{}, ctx.Err()
	}
	return d, err
}

func toSSE(d feed.Delivery) sse.Event {
	if d.IsGap() {
		return sse.Event{Event: "gap", Data: gin.H{"dropped": d.Dropped, "late": d.Late}}
	}
	return sse.Event{
		Event: "event",
		Id:    strconv.FormatInt(d.Event.ID, 10),
		Data:  d.Event,
	}
}

func liveOptions(c *gin.Context) (feed.Options, error) {
	var opts feed.Options
	kinds, err := kindsParam(c)
	if err != nil {
		return opts, err
	}
	opts.Filter.Kinds = kinds
	if name := c.Query("agent"); name != "" {
		opts.Filter.Agent = &events.AgentID{Name: name, Location: c.Query("location")}
	}
	if opts.Backlog, err = durationParam(c, "backlog"); err != nil {
		return opts, err
	}
	return opts, nil
}

// Subscriptions lists open live feeds
// GET /live/subscriptions
func (h *LiveHandler) Subscriptions(c *gin.Context) {
	subs := h.feed.Active()
	c.JSON(http.StatusOK, dto.SubscriptionsResponse{Subscriptions: subs, Count: len(subs)})
}
