// Package pipeline implements the two memory pipelines: context assembly
// (read path) and memory extraction (write path), plus the run/step
// recorder and the background worker that executes extraction jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ataleck/sage/internal/memory"
)

const defaultAssemblyTopK = 3

// Request carries the inputs for one context assembly.
type Request struct {
	ConversationID    string
	UserQuery         string
	MentionedContacts []memory.Contact
}

// Assembler builds the memory-context string injected ahead of a chat turn.
// It performs no writes and is safe to call concurrently.
type Assembler struct {
	structured memory.Module
	semantic   memory.Module
	topK       int
	logger     *slog.Logger
}

// NewAssembler creates an Assembler over the structured and semantic
// modules. If topK <= 0 the default (3) is used.
func NewAssembler(structured, semantic memory.Module, topK int) *Assembler {
	if topK <= 0 {
		topK = defaultAssemblyTopK
	}
	return &Assembler{
		structured: structured,
		semantic:   semantic,
		topK:       topK,
		logger:     slog.Default(),
	}
}

// Assemble renders the context sections in fixed order: known entities,
// relevant knowledge, mentioned contacts. Non-empty sections are joined by
// one blank line; if every section is empty the result is "".
//
// The entity and knowledge sources are independent stores and are queried
// concurrently. A failing source degrades: its section is omitted whole and
// the failure is reported in the returned error while the remaining sections
// are still rendered. Callers that can proceed with partial context should
// log the error and use the string; a section is never half-rendered.
func (a *Assembler) Assemble(ctx context.Context, req Request) (string, error) {
	var (
		entities, knowledge string
		entityErr, knowErr  error
	)

	// Plain Group, not WithContext: one source failing must not cancel
	// the other.
	var g errgroup.Group
	g.Go(func() error {
		entities, entityErr = a.entitySection(ctx)
		return nil
	})
	g.Go(func() error {
		knowledge, knowErr = a.knowledgeSection(ctx, req.UserQuery)
		return nil
	})
	g.Wait()

	var sections []string
	var sourceErrs []error

	if entityErr != nil {
		a.logger.Warn("context assembly: entity source failed", "error", entityErr)
		sourceErrs = append(sourceErrs, fmt.Errorf("entity source: %w", entityErr))
	} else if entities != "" {
		sections = append(sections, entities)
	}

	if knowErr != nil {
		a.logger.Warn("context assembly: knowledge source failed", "error", knowErr)
		sourceErrs = append(sourceErrs, fmt.Errorf("knowledge source: %w", knowErr))
	} else if knowledge != "" {
		sections = append(sections, knowledge)
	}

	if s := contactSection(req.MentionedContacts); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, "\n\n"), errors.Join(sourceErrs...)
}

func (a *Assembler) entitySection(ctx context.Context) (string, error) {
	records, err := a.structured.Query(ctx, memory.Filter{Kind: memory.KindEntity})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("[Known Entities]")
	for _, rec := range records {
		e := rec.Entity
		fmt.Fprintf(&sb, "\n- %s (%s): %s", e.Name, e.Type, e.Details)
	}
	return sb.String(), nil
}

func (a *Assembler) knowledgeSection(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", nil
	}
	records, err := a.semantic.Query(ctx, memory.Filter{
		Kind:      memory.KindKnowledge,
		QueryText: query,
		TopK:      a.topK,
	})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	chunks := make([]string, 0, len(records))
	for _, rec := range records {
		chunks = append(chunks, rec.Knowledge.Text)
	}
	return "[Relevant Knowledge]\n" + strings.Join(chunks, "\n\n"), nil
}

func contactSection(contacts []memory.Contact) string {
	if len(contacts) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(contacts))
	for _, c := range contacts {
		blocks = append(blocks, fmt.Sprintf("Name: %s\nEmail: %s\nCompany: %s\nNotes: %s",
			orNA(c.Name), orNA(c.Email), orNA(c.Company), orNA(c.Notes)))
	}
	return "[Mentioned Contacts]\n" + strings.Join(blocks, "\n\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
