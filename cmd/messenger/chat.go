// cmd/messenger/chat.go

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisionet/messaging/internal/messaging"
	"github.com/fisionet/messaging/internal/messenger"
)

// runChat signs in, serves the status API and runs the shell on stdin until
// /quit, EOF or a signal.
func runChat(parent context.Context, a *app) error {
	cfg := a.cfg

	// 4. Session
	api := a.client()
	peers := messaging.NewUsersClient(cfg.UsersAPIURL, a.tokens, cfg.RequestTimeout)
	dialer := messaging.NewWebSocketDialer(cfg.ChatWSURL, a.tokens)

	session := messaging.NewSession(api, peers, dialer, messaging.SessionConfig{
		Connection: messaging.ConnectionConfig{
			HeartbeatInterval: cfg.HeartbeatInterval,
			BaseDelay:         cfg.ReconnectBaseDelay,
			MaxAttempts:       cfg.ReconnectMaxAttempts,
		},
		UnreadInterval: cfg.UnreadPollInterval,
		Thread: messaging.ThreadConfig{
			HistoryLimit: cfg.HistoryLimit,
			Dedup:        cfg.ThreadDedup,
		},
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Login(ctx, cfg.ChatIdentity); err != nil {
		log.Printf("⚠️  Initial conversation load failed: %v", err)
	}
	defer session.Logout()

	shell := messenger.NewShell(session, a.out)
	shell.Watch(session.Bus())

	// 5. Local status server
	status := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      messenger.NewStatusHandler(session).Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("📊 Status server on http://%s", status.Addr)
		if err := status.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("⚠️  Status server stopped: %v", err)
		}
	}()

	log.Printf("💬 Signed in as %s, type /help for commands", cfg.ChatIdentity)
	if err := shell.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("❌ Input error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := status.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Status server shutdown: %v", err)
	}
	log.Println("👋 Bye")
	return nil
}
