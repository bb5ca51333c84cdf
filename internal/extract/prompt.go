package extract

import (
	"github.com/ataleck/sage/internal/engine"
)

const systemPrompt = `You are a memory extraction engine. Analyze the text and identify information worth remembering long-term. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Extract:
- "entities": named entities (people, companies, projects, places, technologies) as objects with "name", "type", and "details". The type is a short category like "Person" or "Company". Put any attributes or relationships mentioned about the entity in "details".
- "knowledge": distinct, self-contained factual statements from the text, each understandable without the surrounding conversation.

Rules:
- Exclude trivial statements, greetings, and conversational filler.
- Do not invent facts that are not stated in the text.
- Return empty arrays when the text contains nothing worth remembering.`

// BuildPrompt constructs the chat messages for memory extraction.
func BuildPrompt(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: text},
	}
}
