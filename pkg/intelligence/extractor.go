package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/recallmem/recall-go/pkg/llm"
)

// Default extraction values used when the completion omits a self-reported
// confidence or importance.
const (
	defaultCandidateConfidence = 0.6
	defaultCandidateImportance = 1.0
	maxCandidateImportance     = 5.0
)

// TurnExtractor turns a single conversation turn into zero or more candidate
// memories using the completion provider.
//
// Extraction failure is never fatal to the conversation: a malformed or
// unparseable completion yields zero candidates, and only transport-level
// provider errors are surfaced.
//
// Example usage:
//
//	extractor := NewTurnExtractor(llmProvider)
//	candidates, err := extractor.Extract(ctx, userInput, assistantResponse)
type TurnExtractor struct {
	// llm is the completion provider for extraction.
	llm llm.Provider

	// customPrompt is an optional custom system prompt. If empty, uses the
	// default prompt.
	customPrompt string
}

// NewTurnExtractor creates a new turn extractor with the default prompt.
func NewTurnExtractor(llm llm.Provider) *TurnExtractor {
	return &TurnExtractor{
		llm:          llm,
		customPrompt: "",
	}
}

// NewTurnExtractorWithPrompt creates a new turn extractor with a custom
// system prompt.
func NewTurnExtractorWithPrompt(llm llm.Provider, customPrompt string) *TurnExtractor {
	return &TurnExtractor{
		llm:          llm,
		customPrompt: customPrompt,
	}
}

// Extract extracts candidate memories from a conversation turn.
//
// The extraction process:
//  1. Formats the turn as a user/assistant exchange
//  2. Calls the completion provider with the extraction prompt
//  3. Parses the structured JSON response into candidates
//
// Each atomic fact or preference becomes its own candidate; unrelated
// statements are never merged into one item. Returns an empty slice when the
// turn carries nothing worth remembering or when the response is malformed.
func (e *TurnExtractor) Extract(ctx context.Context, userInput, assistantResponse string) ([]Candidate, error) {
	turn := formatTurn(userInput, assistantResponse)
	if strings.TrimSpace(turn) == "" {
		return nil, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: e.getSystemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Input:\n%s", turn)},
	}

	response, err := e.llm.GenerateWithMessages(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract candidates: %w", err)
	}

	return parseExtractionResponse(response), nil
}

// formatTurn formats a turn as a two-line exchange, omitting empty sides.
func formatTurn(userInput, assistantResponse string) string {
	var parts []string
	if strings.TrimSpace(userInput) != "" {
		parts = append(parts, fmt.Sprintf("user: %s", userInput))
	}
	if strings.TrimSpace(assistantResponse) != "" {
		parts = append(parts, fmt.Sprintf("assistant: %s", assistantResponse))
	}
	return strings.Join(parts, "\n")
}

// getSystemPrompt returns the system prompt for candidate extraction.
func (e *TurnExtractor) getSystemPrompt() string {
	if e.customPrompt != "" {
		return e.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract discrete facts and preferences about the user from the conversation turn below.

Definitions:
- A "fact" is an objective, self-contained statement about the user or their world (names, relationships, jobs, events, dates, health).
- A "preference" is a like, dislike, habit, or standing choice of the user.

CRITICAL Rules:
1. ATOMIC: Extract each distinct fact or preference as its own entry. Never merge unrelated statements.
2. COMPLETE: Each entry must be self-contained with who/what/when/where when available.
3. TEMPORAL: ALWAYS preserve time info (dates, relative refs like "yesterday", "last week") inside the entry text.
4. ENTITIES: List the people, places, and things each entry mentions.
5. Do not extract greetings, small talk, or assistant-only statements.

Examples:
Input: user: Hi there.
Output: {"facts": [], "preferences": [], "entities": [], "confidence": 0.0, "importance": 1.0}

Input: user: I'm Sarah, I work as a software engineer at Google.
Output: {"facts": [{"content": "Sarah works as a software engineer at Google", "entities": ["Sarah", "Google"], "confidence": 0.95, "importance": 1.5}], "preferences": [], "entities": ["Sarah", "Google"], "confidence": 0.95, "importance": 1.5}

Input: user: I prefer moderate hiking trails, nothing too steep.
Output: {"facts": [], "preferences": [{"content": "Prefers moderate hiking trails, nothing too steep", "entities": [], "confidence": 0.9, "importance": 1.0}], "entities": [], "confidence": 0.9, "importance": 1.0}

Rules:
- Today: %s
- Return JSON with exactly these fields: facts, preferences, entities, importance, confidence
- Each fact/preference entry: {"content": "...", "entities": [...], "confidence": 0.0-1.0, "importance": 0.1-5.0}
- If nothing worth remembering, return empty lists
- Preserve input language

Extract from the conversation turn below:`, today)
}

// extractionEntry is one fact or preference in the completion's response.
// Entries may also arrive as bare strings; see parseEntry.
type extractionEntry struct {
	Content    string   `json:"content"`
	Entities   []string `json:"entities"`
	Confidence *float64 `json:"confidence"`
	Importance *float64 `json:"importance"`
}

// extractionResponse is the structured result requested from the completion
// provider. The top-level confidence/importance/entities act as defaults for
// entries that omit their own.
type extractionResponse struct {
	Facts       []json.RawMessage `json:"facts"`
	Preferences []json.RawMessage `json:"preferences"`
	Entities    []string          `json:"entities"`
	Confidence  *float64          `json:"confidence"`
	Importance  *float64          `json:"importance"`
}

// parseExtractionResponse parses the completion response into candidates.
// Malformed output yields zero candidates rather than an error.
func parseExtractionResponse(response string) []Candidate {
	response = removeCodeBlocks(response)

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil
	}

	var candidates []Candidate
	for _, raw := range parsed.Facts {
		if c, ok := parseEntry(raw, "fact", &parsed); ok {
			candidates = append(candidates, c)
		}
	}
	for _, raw := range parsed.Preferences {
		if c, ok := parseEntry(raw, "preference", &parsed); ok {
			candidates = append(candidates, c)
		}
	}

	return candidates
}

// parseEntry parses one fact/preference entry, which may be an object or a
// bare string, applying response-level defaults and clamping.
func parseEntry(raw json.RawMessage, memoryType string, defaults *extractionResponse) (Candidate, bool) {
	var entry extractionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Some models return plain strings instead of objects.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Candidate{}, false
		}
		entry.Content = s
	}

	content := strings.TrimSpace(entry.Content)
	if content == "" {
		return Candidate{}, false
	}

	confidence := defaultCandidateConfidence
	if entry.Confidence != nil {
		confidence = *entry.Confidence
	} else if defaults.Confidence != nil && *defaults.Confidence > 0 {
		confidence = *defaults.Confidence
	}

	importance := defaultCandidateImportance
	if entry.Importance != nil {
		importance = *entry.Importance
	} else if defaults.Importance != nil && *defaults.Importance > 0 {
		importance = *defaults.Importance
	}

	entities := entry.Entities
	if entities == nil {
		entities = defaults.Entities
	}

	importance = clamp(importance, 0, maxCandidateImportance)
	if importance == 0 {
		importance = defaultCandidateImportance
	}

	return Candidate{
		Content:    content,
		MemoryType: memoryType,
		Confidence: clamp(confidence, 0, 1),
		Importance: importance,
		Entities:   entities,
	}, true
}

// removeCodeBlocks removes code blocks (```json ... ```) from a response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
