package server

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/feed"
	"github.com/EternisAI/fleetwatch/internal/grpc/wire"
	"github.com/EternisAI/fleetwatch/internal/ingest"
)

// StreamHandler implements the Telemetry service on top of ingest and the
// live feed.
type StreamHandler struct {
	ingest *ingest.Service
	feed   *feed.Distributor
}

func NewStreamHandler(ingestService *ingest.Service, dist *feed.Distributor) *StreamHandler {
	return &StreamHandler{
		ingest: ingestService,
		feed:   dist,
	}
}

func (sh *StreamHandler) Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var ev events.Event
	if err := wire.FromStruct(req, &ev); err != nil {
		return nil, toStatus(err)
	}
	stored, err := sh.ingest.Append(ctx, ev)
	if err != nil {
		return nil, toStatus(err)
	}
	slog.Debug("Event published", "id", stored.ID, "kind", stored.Kind, "agent", stored.Agent.String())

	reply, err := wire.ToStruct(wire.PublishReply{ID: stored.ID})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply, nil
}

func (sh *StreamHandler) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	var wr wire.WatchRequest
	if err := wire.FromStruct(req, &wr); err != nil {
		return toStatus(err)
	}
	opts, err := wr.Options()
	if err != nil {
		return toStatus(err)
	}

	ctx := stream.Context()
	sub, err := sh.feed.Subscribe(ctx, opts)
	if err != nil {
		return toStatus(err)
	}
	defer sub.Close()

	slog.Info("Watch stream opened", "subscription_id", sub.ID(), "kinds", wr.Kinds, "agent", wr.Agent)
	defer slog.Info("Watch stream closed", "subscription_id", sub.ID())

	err = sub.Deliver(ctx, func(d feed.Delivery) error {
		msg, err := wire.ToStruct(d)
		if err != nil {
			return err
		}
		return stream.SendMsg(msg)
	})
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, feed.ErrSubscriptionClosed) && ctx.Err() == nil:
		// Client went away, or the server shut the feed down.
		return nil
	}
	return toStatus(err)
}
