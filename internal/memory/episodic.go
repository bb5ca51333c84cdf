package memory

import (
	"context"
	"fmt"

	"github.com/ataleck/sage/internal/storage"
	"github.com/google/uuid"
)

// Episodic persists ordered conversation turns keyed by conversation.
// Turns are append-only; the core has no edit or delete operation.
type Episodic struct {
	store *storage.Store
}

var _ Module = (*Episodic)(nil)

func NewEpisodic(store *storage.Store) *Episodic {
	return &Episodic{store: store}
}

// Store appends one turn to its conversation.
func (e *Episodic) Store(ctx context.Context, rec Record) error {
	if rec.Kind != KindMessage || rec.Message == nil {
		return fmt.Errorf("%w: episodic store requires a message record", ErrValidation)
	}
	m := rec.Message
	if m.ConversationID == "" || m.Role == "" || m.Content == "" {
		return fmt.Errorf("%w: message requires conversationId, role, and content", ErrValidation)
	}

	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	err := e.store.AppendMessage(storage.Message{
		ID:             id,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	})
	if err != nil {
		return storageErr("appending message", err)
	}
	return nil
}

// Query returns all turns for a conversation in chronological order.
func (e *Episodic) Query(ctx context.Context, f Filter) ([]Record, error) {
	if f.Kind != KindMessage {
		return nil, fmt.Errorf("%w: episodic query requires kind %q", ErrValidation, KindMessage)
	}
	if f.ConversationID == "" {
		return nil, fmt.Errorf("%w: episodic query requires conversationId", ErrValidation)
	}

	messages, err := e.store.ListMessages(f.ConversationID)
	if err != nil {
		return nil, storageErr("listing messages", err)
	}

	records := make([]Record, 0, len(messages))
	for _, m := range messages {
		records = append(records, Record{Kind: KindMessage, Message: &Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}})
	}
	return records, nil
}

// Delete is not supported: conversation turns are append-only.
func (e *Episodic) Delete(ctx context.Context, f Filter) error {
	return fmt.Errorf("%w: episodic memory does not support delete", ErrValidation)
}
