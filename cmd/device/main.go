package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketcall/internal/apiclient"
	"marketcall/internal/callback"
	"marketcall/internal/calls"
	"marketcall/internal/config"
	"marketcall/internal/device"
	"marketcall/internal/invoice"
	"marketcall/internal/media"
	"marketcall/internal/signaling"
	"marketcall/pkg/logger"
)

// device is a headless buyer or seller client: it keeps one signaling socket
// open, joins LiveKit rooms for accepted calls and takes commands on stdin.
func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDevice()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	api, err := apiclient.New(cfg.APIBaseURL, cfg.AccessToken, cfg.HTTPTimeout, log)
	if err != nil {
		log.Error("api client init failed", "err", err)
		os.Exit(1)
	}
	ws := signaling.NewWSClient(cfg.SignalingURL, cfg.AccessToken, log)

	c := &console{out: os.Stdout, log: log}
	d, err := device.New(device.Options{
		Self:           calls.Peer{ID: cfg.UserID, DisplayName: cfg.ShopName},
		Role:           calls.Role(cfg.Role),
		Shop:           invoice.Shop{ID: cfg.ShopID, Name: cfg.ShopName},
		Signaling:      ws,
		Engine:         &media.LiveKitEngine{Log: log},
		API:            api,
		RingTimeout:    cfg.RingTimeout,
		SignalingGrace: cfg.SignalingGrace,
		Log:            log,

		Prompter:        c,
		Notifier:        c,
		OnIncoming:      c.incoming,
		OnCallbackOffer: func(*callback.Offer) { c.printf("call not answered; type 'slots' to schedule a callback") },
		OnInvoiceForm:   func(*invoice.SellerFlow) { c.printf("call finished; type 'invoice <price> <qty> <item name>' or 'skip'") },
	})
	if err != nil {
		log.Error("device init failed", "err", err)
		os.Exit(1)
	}
	c.dev = d
	if err := d.Start(); err != nil {
		log.Error("device start failed", "err", err)
		os.Exit(1)
	}
	unsubscribe := d.Calls.Subscribe(c.session)

	go func() {
		if err := ws.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("signaling stopped", "err", err)
		}
	}()
	go d.Run(rootCtx)
	go func() {
		c.loop(rootCtx, os.Stdin)
		stop()
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")
	unsubscribe()
	d.Close()
}
