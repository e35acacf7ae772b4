package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/0himera/neraAIchat/internal/dotenv"
	"github.com/0himera/neraAIchat/pkg/server/config"
	"github.com/0himera/neraAIchat/pkg/server/providers"
	"github.com/0himera/neraAIchat/pkg/server/rag"
	neraserver "github.com/0himera/neraAIchat/pkg/server/server"
	"github.com/0himera/neraAIchat/pkg/server/store"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(context.Context, config.Config, *slog.Logger) (store.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured; sessions are in-memory")
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.DatabaseURL)
}

func buildStreamer(cfg config.Config, logger *slog.Logger) providers.ChatStreamer {
	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey != "" {
			return providers.NewGeminiStreamer(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		}
		logger.Warn("GEMINI_API_KEY missing; falling back to echo streamer")
	case "openrouter":
		if cfg.OpenRouterAPIKey != "" {
			return providers.NewOpenRouterStreamer(cfg.OpenRouterAPIKey, cfg.OpenRouterAPIURL, cfg.LLMModel, logger)
		}
		logger.Warn("OPENROUTER_API_KEY missing; falling back to echo streamer")
	}
	return &providers.EchoStreamer{}
}

func buildEmbedder(cfg config.Config, logger *slog.Logger) rag.Embedder {
	if cfg.JinaAPIKey != "" {
		return rag.NewJinaEmbedder(cfg.JinaAPIKey, cfg.JinaAPIURL, cfg.JinaEmbedModel, logger)
	}
	logger.Warn("JINA_API_KEY missing; document search degrades to token overlap")
	return rag.HashEmbedder{}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv := neraserver.New(cfg, neraserver.Deps{
		Store:       st,
		Transcriber: providers.NewWhisperTranscriber(cfg.FFmpegPath, cfg.WhisperPath, cfg.WhisperModel, logger),
		Streamer:    buildStreamer(cfg, logger),
		Synthesizer: providers.NewPiperSynthesizer(cfg.PiperPath, cfg.PiperVoicePath, logger),
		Documents:   rag.NewEngine(buildEmbedder(cfg, logger), cfg.MaxDocumentBytes, cfg.MaxDocuments, logger),
	}, logger)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting server", "addr", cfg.Addr, "llm_provider", cfg.LLMProvider)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "nera-server: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "nera-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
