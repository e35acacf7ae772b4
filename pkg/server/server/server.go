// Package server assembles the nera HTTP surface: the REST sessions API and
// the three streaming websocket channels.
package server

import (
	"log/slog"
	"net/http"

	"github.com/0himera/neraAIchat/pkg/server/config"
	"github.com/0himera/neraAIchat/pkg/server/handlers"
	"github.com/0himera/neraAIchat/pkg/server/mw"
	"github.com/0himera/neraAIchat/pkg/server/providers"
	"github.com/0himera/neraAIchat/pkg/server/rag"
	"github.com/0himera/neraAIchat/pkg/server/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store       store.Store
	documents   *rag.Engine
	transcriber providers.Transcriber
	streamer    providers.ChatStreamer
	synthesizer providers.Synthesizer
}

// Deps are the backends the server routes requests to.
type Deps struct {
	Store       store.Store
	Documents   *rag.Engine
	Transcriber providers.Transcriber
	Streamer    providers.ChatStreamer
	Synthesizer providers.Synthesizer
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		mux:         http.NewServeMux(),
		store:       deps.Store,
		documents:   deps.Documents,
		transcriber: deps.Transcriber,
		streamer:    deps.Streamer,
		synthesizer: deps.Synthesizer,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})

	sessions := handlers.SessionsHandler{Store: s.store, Logger: s.logger}
	s.mux.HandleFunc("GET /sessions", sessions.List)
	s.mux.HandleFunc("POST /sessions", sessions.Create)
	s.mux.HandleFunc("GET /sessions/{id}", sessions.Get)
	s.mux.HandleFunc("PATCH /sessions/{id}", sessions.Rename)
	s.mux.HandleFunc("DELETE /sessions/{id}", sessions.Delete)
	s.mux.HandleFunc("POST /sessions/{id}/messages", sessions.AppendMessage)

	if s.documents != nil {
		documents := handlers.DocumentsHandler{
			Engine:         s.documents,
			Logger:         s.logger,
			MaxUploadBytes: s.cfg.MaxDocumentBytes,
		}
		s.mux.HandleFunc("POST /documents", documents.Upload)
		s.mux.HandleFunc("GET /documents", documents.List)
		s.mux.HandleFunc("GET /documents/search", documents.Search)
		s.mux.HandleFunc("PATCH /documents/{id}", documents.SetEnabled)
		s.mux.HandleFunc("DELETE /documents/{id}", documents.Delete)
	}

	s.mux.Handle("/ws/asr", handlers.ASRHandler{
		Transcriber:     s.transcriber,
		Logger:          s.logger,
		MaxBufferBytes:  s.cfg.MaxAudioBufferBytes,
		MaxMessageBytes: s.cfg.WSMaxMessageBytes,
		IdleTimeout:     s.cfg.WSIdleTimeout,
	})
	s.mux.Handle("/ws/llm", handlers.LLMHandler{
		Store:           s.store,
		Streamer:        s.streamer,
		SystemPrompt:    s.cfg.SystemPrompt,
		Logger:          s.logger,
		MaxMessageBytes: s.cfg.WSMaxMessageBytes,
		IdleTimeout:     s.cfg.WSIdleTimeout,
	})
	s.mux.Handle("/ws/tts", handlers.TTSHandler{
		Synthesizer:     s.synthesizer,
		DefaultVoice:    s.cfg.TTSVoiceDefault,
		Logger:          s.logger,
		MaxMessageBytes: s.cfg.WSMaxMessageBytes,
		IdleTimeout:     s.cfg.WSIdleTimeout,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
