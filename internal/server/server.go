package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shepherdbot/shepherd/internal/agent"
	"github.com/shepherdbot/shepherd/internal/checkout"
	"github.com/shepherdbot/shepherd/internal/config"
	"github.com/shepherdbot/shepherd/internal/engine"
	"github.com/shepherdbot/shepherd/internal/provider/github"
)

// RunServer wires the engine from config and runs it alongside a small
// status HTTP endpoint until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config) error {
	if cfg.GitHub.Token == "" {
		return fmt.Errorf("no GitHub token configured; set github.token or GITHUB_TOKEN")
	}
	if cfg.GitHub.Owner == "" || len(cfg.GitHub.Repos) == 0 {
		return fmt.Errorf("no repositories configured; set github.owner and github.repos")
	}

	host := github.NewBackend(cfg.GitHub.Token)
	runner := &agent.ExecRunner{Bin: cfg.Agent.Bin, Args: cfg.Agent.Args}
	checkouts := &checkout.Manager{
		Root:     cfg.Checkout.Root,
		Retain:   cfg.Checkout.Retain,
		Token:    cfg.GitHub.Token,
		BotName:  cfg.Bot.Name,
		BotEmail: cfg.Bot.Email,
	}

	eng := engine.New(cfg, host, runner, engine.WrapManager(checkouts))

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- eng.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"owner":         cfg.GitHub.Owner,
			"repos":         cfg.GitHub.Repos,
			"poll_interval": cfg.Server.ParsePollInterval().String(),
		})
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		eng.TriggerPoll()
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, "poll triggered")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		slog.Info("status endpoint listening", "addr", srv.Addr)
		httpErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		<-engineErr
		return nil
	case err := <-engineErr:
		srv.Close()
		return fmt.Errorf("engine stopped: %w", err)
	case err := <-httpErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
