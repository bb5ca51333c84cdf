package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ataleck/sage/internal/engine"
	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/pipeline"
)

const chatSystemPreamble = "You are a personal assistant with long-term memory. " +
	"Use the following remembered context when it is relevant to the user's message.\n\n"

type ChatRequest struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message"`
	ContactIDs     []string `json:"contact_ids"`
}

type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	RunID          string `json:"run_id,omitempty"`
}

/// handleChat runs one conversation turn: persist the user message, assemble
// memory context, generate the reply, persist it, and queue memory
// extraction for the exchange. Extraction runs in the background; its
// failures never become chat errors.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		conversationID := req.ConversationID
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		// The user turn must be durable before anything else happens:
		// losing conversation state silently is worse than failing the turn.
		err := deps.Episodic.Store(r.Context(), memory.Record{Kind: memory.KindMessage, Message: &memory.Message{
			ConversationID: conversationID,
			Role:           "user",
			Content:        req.Message,
		}})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store message: %v", err)
			return
		}

		contacts, err := mentionedContacts(deps, req.ContactIDs)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load contacts: %v", err)
			return
		}

		contextStr, asmErr := deps.Assembler.Assemble(r.Context(), pipeline.Request{
			ConversationID:    conversationID,
			UserQuery:         req.Message,
			MentionedContacts: contacts,
		})
		if asmErr != nil {
			slog.Warn("context assembly degraded", "conversation_id", conversationID, "error", asmErr)
		}

		messages, err := chatMessages(deps, r, conversationID, contextStr)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		reply, err := deps.Engine.Chat(r.Context(), deps.ChatModel, messages, nil)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "chat completion failed: %v", err)
			return
		}

		err = deps.Episodic.Store(r.Context(), memory.Record{Kind: memory.KindMessage, Message: &memory.Message{
			ConversationID: conversationID,
			Role:           "model",
			Content:        reply,
		}})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store reply: %v", err)
			return
		}

		// Fire-and-forget: an extraction queueing failure is logged, the
		// reply still goes out.
		exchange := fmt.Sprintf("User: %s\nAssistant: %s", req.Message, reply)
		runID, err := pipeline.Enqueue(deps.Store, exchange)
		if err != nil {
			slog.Warn("failed to queue memory extraction", "conversation_id", conversationID, "error", err)
			runID = ""
		}

		writeJSON(w, ChatResponse{
			ConversationID: conversationID,
			Reply:          reply,
			RunID:          runID,
		})
	}
}

// chatMessages builds the engine message list: optional memory-context
// system message, then the conversation history including the turn just
// stored.
func chatMessages(deps Deps, r *http.Request, conversationID, contextStr string) ([]engine.Message, error) {
	var messages []engine.Message
	if contextStr != "" {
		messages = append(messages, engine.Message{
			Role:    "system",
			Content: chatSystemPreamble + contextStr,
		})
	}

	history, err := deps.Episodic.Query(r.Context(), memory.Filter{
		Kind:           memory.KindMessage,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range history {
		role := rec.Message.Role
		if role == "model" {
			role = "assistant"
		}
		messages = append(messages, engine.Message{Role: role, Content: rec.Message.Content})
	}
	return messages, nil
}

func mentionedContacts(deps Deps, ids []string) ([]memory.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := deps.Store.GetContactsByIDs(ids)
	if err != nil {
		return nil, err
	}
	contacts := make([]memory.Contact, 0, len(rows))
	for _, c := range rows {
		contacts = append(contacts, memory.Contact{
			ID:      c.ID,
			Name:    c.Name,
			Email:   c.Email,
			Company: c.Company,
			Phone:   c.Phone,
			Notes:   c.Notes,
			Tags:    c.Tags,
		})
	}
	return contacts, nil
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "id")

		records, err := deps.Episodic.Query(r.Context(), memory.Filter{
			Kind:           memory.KindMessage,
			ConversationID: conversationID,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}

		type messageView struct {
			ID        string `json:"id"`
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]messageView, 0, len(records))
		for _, rec := range records {
			m := rec.Message
			out = append(out, messageView{
				ID:        m.ID,
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, out)
	}
}
