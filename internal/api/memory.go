package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/storage"
)

type entityView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Details   string `json:"details"`
	CreatedAt string `json:"created_at"`
}

type contactView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Company   string `json:"company,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
}

func handleListEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Structured.Query(r.Context(), memory.Filter{Kind: memory.KindEntity})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entities: %v", err)
			return
		}

		out := make([]entityView, 0, len(records))
		for _, rec := range records {
			e := rec.Entity
			out = append(out, entityView{
				ID:        e.ID,
				Name:      e.Name,
				Type:      e.Type,
				Details:   e.Details,
				CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, out)
	}
}

func handleDeleteEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Structured.Delete(r.Context(), memory.Filter{Kind: memory.KindEntity, ID: id})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entity not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete entity: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleListContacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Structured.Query(r.Context(), memory.Filter{
			Kind: memory.KindContact,
			Name: r.URL.Query().Get("name"),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list contacts: %v", err)
			return
		}

		out := make([]contactView, 0, len(records))
		for _, rec := range records {
			c := rec.Contact
			out = append(out, contactView{
				ID:        c.ID,
				Name:      c.Name,
				Email:     c.Email,
				Company:   c.Company,
				Phone:     c.Phone,
				Notes:     c.Notes,
				CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, out)
	}
}

func handleCreateContact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Name    string `json:"name"`
			Email   string `json:"email"`
			Company string `json:"company"`
			Phone   string `json:"phone"`
			Notes   string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Structured.Store(r.Context(), memory.Record{Kind: memory.KindContact, Contact: &memory.Contact{
			Name:    req.Name,
			Email:   req.Email,
			Company: req.Company,
			Phone:   req.Phone,
			Notes:   req.Notes,
		}})
		if errors.Is(err, memory.ErrValidation) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store contact: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "stored"})
	}
}

func handleDeleteContact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Structured.Delete(r.Context(), memory.Filter{Kind: memory.KindContact, ID: id})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "contact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete contact: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
