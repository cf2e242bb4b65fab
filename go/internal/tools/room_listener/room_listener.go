package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/clients"
	"github.com/zwl098/yusic/go/internal/events"
	"github.com/zwl098/yusic/go/internal/relay"
)

// Follows a room headlessly and prints where playback is. With -nats the
// room is followed from the event relay instead of a websocket.
func main() {
	url := flag.String("url", "ws://localhost:3000/ws/room", "room websocket url")
	roomID := flag.String("room", "", "room to join (required)")
	natsURL := flag.String("nats", "", "follow the room from this NATS server instead")
	tolerance := flag.Float64("tolerance", 0.5, "seconds of drift tolerated before seeking")
	interval := flag.Duration("interval", time.Second, "how often to print the position")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *roomID == "" {
		log.Fatal().Msg("-room is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *natsURL != "" {
		followRelay(ctx, *natsURL, *roomID)
		return
	}

	clock := clockwork.NewRealClock()
	player := clients.NewVirtualPlayer(clock)

	config := clients.DefaultRoomClientConfig(*url)
	config.ReconcileTolerance = *tolerance
	config.OnEvent = func(e *events.SyncEvent) {
		log.Info().Str("event_type", string(e.Type)).RawJSON("data", e.Data).Msg("event")
	}

	client, err := clients.DialRoom(ctx, config, player, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer client.Close()

	snap, err := client.JoinRoom(ctx, *roomID)
	if err != nil {
		log.Fatal().Err(err).Str("room_id", *roomID).Msg("failed to join room")
	}
	log.Info().
		Str("room_id", snap.RoomID).
		Int("members", snap.MemberCount).
		Bool("playing", snap.IsPlaying).
		Float64("position", snap.Position).
		Msg("joined room")

	ticker := clock.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			log.Warn().Msg("connection closed")
			return
		case <-ticker.Chan():
			e := log.Info().Float64("position", player.Position()).Bool("playing", player.Playing())
			if track := player.Track(); track != nil {
				e = e.Str("track", track.String())
			}
			e.Msg("playback")
		}
	}
}

func followRelay(ctx context.Context, natsURL, roomID string) {
	config := relay.DefaultJetStreamConfig()
	config.URL = natsURL

	consumer, err := relay.NewConsumer(ctx, config, roomID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay consumer")
	}
	defer consumer.Close()

	log.Info().Str("subject", config.Subject(roomID)).Msg("following relay")
	err = consumer.Run(ctx, func(e *events.SyncEvent) {
		log.Info().
			Str("event_type", string(e.Type)).
			Time("timestamp", e.Timestamp).
			RawJSON("data", e.Data).
			Msg("event")
	})
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("relay consumer stopped")
	}
}
