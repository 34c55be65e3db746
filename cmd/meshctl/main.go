// meshctl connects to a mesh radio over a TCP serial bridge, keeps the
// contact list in sync and logs every event the device pushes. With
// -send it delivers one message and waits for the acknowledgement.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	pocketmesh "github.com/mikewren/PocketMesh-sub010"
	"github.com/mikewren/PocketMesh-sub010/config"
	"github.com/mikewren/PocketMesh-sub010/logging"
	"github.com/mikewren/PocketMesh-sub010/models"
	"github.com/mikewren/PocketMesh-sub010/transport/tcpserial"
)

func main() {
	addr := flag.String("addr", "", "TCP serial bridge address (host:port)")
	sendText := flag.String("send", "", "message text to send (requires -to)")
	sendTo := flag.String("to", "", "destination public key prefix, hex")
	flag.Parse()

	cfg, err := Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.NewLogger(cfg.GetLogLevel())

	if *addr == "" {
		log.Error("missing -addr")
		os.Exit(1)
	}
	if *sendText != "" && *sendTo == "" {
		log.Error("-send requires -to")
		os.Exit(1)
	}

	log.Info("Starting meshctl",
		slog.String("address", *addr),
		slog.String("log_level", cfg.GetLogLevel()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, log, *addr, *sendText, *sendTo); err != nil {
		log.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, addr, sendText, sendTo string) error {
	tr := tcpserial.New(addr, tcpserial.WithLogger(log))

	session, err := pocketmesh.New(pocketmesh.Config{
		Transport: tr,
		Logger:    log,
		Session:   cfg.Session,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	// Subscribe before Start so connection events are not missed.
	events, err := session.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer session.Unsubscribe(events)

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer func() {
		if err := session.Stop(context.Background()); err != nil {
			log.Error("Error stopping session", slog.String("error", err.Error()))
		}
	}()

	self := session.SelfInfo()
	log.Info("Connected", slog.String("node", self.Name))

	contacts, err := session.SyncContacts(ctx)
	if err != nil {
		log.Warn("Contact sync failed", slog.String("error", err.Error()))
	} else {
		log.Info("Contacts synced", slog.Int("count", len(contacts)))
	}

	if err := session.StartAutoFetch(ctx); err != nil {
		return fmt.Errorf("failed to start auto fetch: %w", err)
	}

	if sendText != "" {
		if err := sendOne(ctx, session, log, sendText, sendTo); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			log.Info("Received shutdown signal")
			return nil
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(log, ev)
		}
	}
}

func sendOne(ctx context.Context, session *pocketmesh.Session, log *slog.Logger, text, to string) error {
	dst, err := hex.DecodeString(to)
	if err != nil {
		return fmt.Errorf("invalid -to value: %w", err)
	}

	info, conf, err := session.SendMessageWithRetry(ctx, dst, text, pocketmesh.RetryPolicy{
		MaxAttempts: 3,
		FloodAfter:  2,
	})
	if err != nil {
		return fmt.Errorf("failed to deliver message: %w", err)
	}

	log.Info("Message delivered",
		slog.String("ack", info.ExpectedAck.String()),
		slog.Duration("round_trip", conf.RoundTrip))
	return nil
}

func logEvent(log *slog.Logger, ev models.Event) {
	switch e := ev.(type) {
	case models.ContactMessage:
		log.Info("Message received",
			slog.String("from", e.PubKeyPrefix.String()),
			slog.String("text", e.Text))
	case models.ChannelMessage:
		log.Info("Channel message received",
			slog.Int("channel", int(e.Channel)),
			slog.String("text", e.Text))
	case models.Advertisement:
		log.Info("Advertisement heard", slog.String("public_key", e.PublicKey.String()))
	case models.PathUpdated:
		log.Info("Path updated", slog.String("public_key", e.PublicKey.String()))
	case models.NewContact:
		log.Info("New contact", slog.String("public_key", e.Contact.PublicKey.String()))
	case models.Disconnected:
		log.Warn("Disconnected")
	case models.ParseFailure:
		log.Warn("Unparseable frame",
			slog.Int("code", int(e.Code)),
			slog.String("reason", e.Reason))
	}
}
