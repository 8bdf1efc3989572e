// Command grpc_client tails the live feed of a running server over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/EternisAI/fleetwatch/internal/events"
	"github.com/EternisAI/fleetwatch/internal/grpc/wire"
)

var (
	address  = flag.String("address", "localhost:9090", "gRPC server address")
	kinds    = flag.String("kinds", "", "Comma-separated event kinds to watch (default all)")
	agent    = flag.String("agent", "", "Only watch this agent name")
	location = flag.String("location", "", "Agent location, with -agent")
	backlog  = flag.Int64("backlog", 0, "Seconds of history to replay first")
	token    = flag.String("token", "", "Viewer JWT, required when the server has auth enabled")
)

func main() {
	flag.Parse()

	log.Printf("Connecting to gRPC server at %s", *address)

	conn, err := grpc.NewClient(*address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := wire.WatchRequest{Agent: *agent, Location: *location, BacklogSeconds: *backlog}
	for k := range strings.SplitSeq(*kinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			req.Kinds = append(req.Kinds, events.Kind(k))
		}
	}

	if *token != "" {
		ctx = wire.WithBearerToken(ctx, *token)
	}
	stream, err := wire.Watch(ctx, conn, req)
	if err != nil {
		log.Fatalf("Failed to open watch stream: %v", err)
	}
	log.Printf("Watching kinds=%v agent=%q", req.Kinds, req.Agent)

	for {
		d, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				log.Println("Stream closed")
				return
			}
			log.Fatalf("Receive error: %v", err)
		}
		if d.IsGap() {
			log.Printf("GAP dropped=%d late=%d", d.Dropped, d.Late)
			continue
		}
		log.Printf("EVENT id=%d kind=%s agent=%s ts=%s", d.Event.ID, d.Event.Kind, d.Event.Agent, d.Event.Timestamp.Format("15:04:05.000"))
	}
}
