package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/organix/organix-go/internal/bus"
	"github.com/organix/organix-go/internal/chat"
	"github.com/organix/organix-go/internal/command"
	"github.com/organix/organix-go/internal/config"
	"github.com/organix/organix-go/internal/history"
	"github.com/organix/organix-go/internal/llm"
	"github.com/organix/organix-go/internal/logger"
	"github.com/organix/organix-go/internal/protocol"
	"github.com/organix/organix-go/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.LogLevel)

	b := bus.New()

	var store *history.Store
	store, err = history.Open(cfg.History.DBPath, cfg.Chat.PersistLimit)
	if err != nil {
		logger.L.Warn("history store unavailable; continuing without persistence", "error", err)
		store = nil
	}

	exec := command.NewExecutor(
		command.NewBusDispatcher(b),
		time.Duration(cfg.Queue.CommandGapMS)*time.Millisecond,
		nil,
	)

	codec := protocol.NewCodec()
	tp := transport.New(b, codec, nil, nil, transport.ReconnectPolicy{
		MaxAttempts: cfg.MCP.MaxReconnectAttempts,
		Base:        cfg.MCP.ReconnectBase(),
		Growth:      cfg.MCP.ReconnectGrowth,
		Cap:         cfg.MCP.ReconnectCap(),
	}, cfg.MCP.ClientID)

	var llmClient llm.Client
	if cfg.Mode == config.ModeLLM {
		llmClient = llm.NewClient(cfg.LLM)
	}

	session := chat.New(chat.Options{
		Bus:          b,
		Executor:     exec,
		Mode:         cfg.Mode,
		Simulator:    chat.NewSimulator(time.Duration(cfg.Chat.MinResponseMS)*time.Millisecond, time.Duration(cfg.Chat.MaxResponseMS)*time.Millisecond),
		Transport:    tp,
		LLM:          llmClient,
		LLMModel:     cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Store:        store,
	})

	wireProtocol(codec, session, exec)
	wireBus(b, cfg, tp, session)

	if cfg.Mode == config.ModeMCP {
		go func() {
			if err := tp.Connect(context.Background(), cfg.MCP.URL, cfg.MCP.Credential); err != nil {
				logger.L.Error("initial connect failed", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	registerHandlers(mux, cfg, tp, session)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting bridge", "address", addr, "mode", string(cfg.Mode))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.L.Error("failed to start server", "error", err)
	}
}

// wireProtocol routes server notifications into the chat session and the
// command queue.
func wireProtocol(codec *protocol.Codec, session *chat.Chat, exec *command.Executor) {
	codec.Handle(protocol.MethodAgentMessage, session.HandleAgentMessage)
	codec.Handle(protocol.MethodAgentTyping, session.HandleTyping)
	codec.Handle(protocol.MethodSceneCommand, func(params json.RawMessage) {
		cmd, err := command.Decode(params)
		if err != nil {
			logger.L.Warn("unparseable scene/command notification", "error", err)
			return
		}
		exec.Enqueue(cmd)
	})
	codec.Handle(protocol.MethodStatusUpdate, func(params json.RawMessage) {
		logger.L.Info("server status update", "params", string(params))
	})
}

// wireBus connects bus topics to components. The scene:* subscribers stand in
// for the renderer, which lives outside this subsystem.
func wireBus(b *bus.Bus, cfg *config.Config, tp *transport.Transport, session *chat.Chat) {
	b.Subscribe(bus.TopicUISendMessage, func(payload any) {
		text, ok := payload.(string)
		if !ok {
			return
		}
		if _, err := session.SendUserMessage(context.Background(), text); err != nil {
			logger.L.Warn("send rejected", "error", err)
		}
	})
	b.Subscribe(bus.TopicMCPConnect, func(any) {
		go func() {
			if err := tp.Connect(context.Background(), cfg.MCP.URL, cfg.MCP.Credential); err != nil {
				logger.L.Warn("connect failed", "error", err)
			}
		}()
	})
	b.Subscribe(bus.TopicMCPDisconnect, func(any) {
		tp.Disconnect()
	})
	b.Subscribe(bus.TopicSceneInteraction, func(payload any) {
		if err := tp.Notify(protocol.MethodSceneInteraction, payload); err != nil {
			logger.L.Debug("interaction notify skipped", "error", err)
		}
	})

	for _, topic := range []bus.Topic{
		bus.TopicSceneHighlight,
		bus.TopicScenePulse,
		bus.TopicSceneMoveCamera,
		bus.TopicSceneCreateObject,
	} {
		topic := topic
		b.Subscribe(topic, func(payload any) {
			logger.L.Info("scene command", "topic", string(topic), "command", payload)
		})
	}
}

func registerHandlers(mux *http.ServeMux, cfg *config.Config, tp *transport.Transport, session *chat.Chat) {
	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		reply, err := session.SendUserMessage(r.Context(), string(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, ok := <-reply
		if !ok {
			http.Error(w, "no response from backend", http.StatusBadGateway)
			return
		}
		writeJSON(w, msg)
	})

	mux.HandleFunc("POST /connect", func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if err := tp.Connect(context.Background(), cfg.MCP.URL, cfg.MCP.Credential); err != nil {
				logger.L.Warn("connect failed", "error", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /disconnect", func(w http.ResponseWriter, r *http.Request) {
		tp.Disconnect()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"mode":   string(cfg.Mode),
			"typing": session.Typing(),
			"mcp":    tp.Snapshot(),
		})
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, session.History())
	})

	mux.HandleFunc("DELETE /history", func(w http.ResponseWriter, r *http.Request) {
		if err := session.Clear(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("response encode failed", "error", err)
	}
}
