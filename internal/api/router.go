package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ataleck/sage/internal/engine"
	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/pipeline"
	"github.com/ataleck/sage/internal/storage"
)

// Chatter is the reply-generation capability of the chat endpoint.
// engine.Engine satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store      *storage.Store
	Episodic   memory.Module
	Structured memory.Module
	Semantic   memory.Module
	Assembler  *pipeline.Assembler
	Engine     Chatter
	ChatModel  string
	Token      string
	HTTPClient *http.Client
}

// NewHandler builds the API router. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))
		r.Get("/conversations/{id}/messages", handleListMessages(deps))

		r.Get("/entities", handleListEntities(deps))
		r.Delete("/entities/{id}", handleDeleteEntity(deps))

		r.Get("/contacts", handleListContacts(deps))
		r.Post("/contacts", handleCreateContact(deps))
		r.Delete("/contacts/{id}", handleDeleteContact(deps))

		r.Post("/knowledge", handleIngestKnowledge(deps))
		r.Get("/knowledge/search", handleSearchKnowledge(deps))

		r.Get("/runs", handleListRuns(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
