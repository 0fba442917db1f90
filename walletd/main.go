// Package main implements walletd, the daemon hosting the wallet's
// privileged zone. It owns the encrypted store and the vault service
// and exposes the operation surface over NATS request/reply:
//
//	<prefix>.op        privileged operations (ServiceRequest in, result out)
//	<prefix>.return    approval return URLs, consumed exactly once
//	<prefix>.approvals published approval requests for the UI surface
//	<prefix>.events    published terminal events for page delivery
//
// Everything outside this process only ever sees sealed blobs and
// public wallet views.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pemburu0x/Octra-Extension/chain"
	"github.com/pemburu0x/Octra-Extension/relay"
	"github.com/pemburu0x/Octra-Extension/vault"
	"github.com/pemburu0x/Octra-Extension/vault/storage"
	"github.com/pemburu0x/Octra-Extension/wire"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/octra-wallet/walletd.yaml", "Path to configuration file")
	storePath := flag.String("store", "", "Wallet store path (overrides config)")
	natsURL := flag.String("nats-url", "", "NATS server URL (overrides config)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Msg("Octra walletd starting")

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *storePath != "" {
		cfg.StorePath = *storePath
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		log.Fatal().Err(err).Msg("Failed to create store directory")
	}
	store, err := storage.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open wallet store")
	}
	defer store.Close()

	nc, err := NewNATSClient(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	prefix := cfg.NATS.SubjectPrefix

	// The approval surface listens on <prefix>.approvals and answers
	// with a return URL on <prefix>.return.
	opener := func(approval *vault.PendingApproval) {
		data, err := json.Marshal(approval)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal approval request")
			return
		}
		if err := nc.Publish(prefix+".approvals", data); err != nil {
			log.Error().Err(err).Msg("Failed to publish approval request")
		}
	}

	svc := vault.New(store, chain.NewClient(), opener)
	if err := svc.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := nc.SubscribeRequest(prefix+".op", func(data []byte) []byte {
		var req wire.ServiceRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "malformed request"))
		}
		return svc.Call(ctx, &req)
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to operations")
	}

	consumer := relay.NewReturnConsumer(svc)
	if err := nc.SubscribeRequest(prefix+".return", func(data []byte) []byte {
		delivered, err := consumer.Consume(ctx, string(data))
		if err != nil {
			return wire.FailurePayload(wire.Errf(wire.CodeUnknownOperation, "invalid return url"))
		}
		return wire.Marshal(struct {
			wire.Result
			Delivered bool `json:"delivered"`
		}{wire.OK(), delivered})
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to approval returns")
	}

	go func() {
		for {
			select {
			case ev := <-svc.Events():
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := nc.Publish(prefix+".events", data); err != nil {
					log.Warn().Err(err).Str("type", ev.Type).Msg("Failed to publish event")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Str("subject_prefix", prefix).Msg("Wallet service ready")

	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Vault service exited with error")
	}
	log.Info().Msg("Octra walletd stopped")
}
