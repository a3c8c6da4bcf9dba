// Package writer implements the response writer (C8): composes a final
// answer and a reference list from the chosen strategy's ranked contexts,
// LLM-backed with a deterministic templated fallback.
package writer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/foohm71/cuttlefish4/internal/llm"
	"github.com/foohm71/cuttlefish4/internal/ragtypes"
)

// MaxContexts bounds how many ranked contexts are shown to the writer
// (and to the LLM prompt), per spec: capped to the first N=10 by score.
const MaxContexts = 10

// Writer composes final answers from retrieved contexts.
type Writer struct {
	llmClient *llm.Client
}

// New builds a Writer. llmClient may be unconfigured; Compose then falls
// back to a deterministic templated answer.
func New(llmClient *llm.Client) *Writer {
	return &Writer{llmClient: llmClient}
}

const composeSystemPrompt = `You are a support engineer's assistant writing a final answer from retrieved ticket/log/web context.
Rules:
- If the request is a production incident, lead with the single most actionable item. Do not open with background discussion.
- Cite every ticket you rely on by its key exactly as given in the context (e.g. "ABC-123"). Never invent a key that was not in the context.
- Keep the answer focused and concrete.`

// Compose produces the final answer and reference list for one request.
// contexts is expected pre-capped to MaxContexts by the caller (the
// orchestrator), but Compose caps again defensively.
func (w *Writer) Compose(ctx context.Context, query string, strategy ragtypes.StrategyName, hints ragtypes.Hints, contexts []ragtypes.RetrievedContext) (string, []ragtypes.Reference) {
	if len(contexts) > MaxContexts {
		contexts = contexts[:MaxContexts]
	}

	if len(contexts) == 0 {
		return noContextAnswer(), nil
	}

	refs := referencesFrom(contexts)

	if w.llmClient.Configured() {
		if answer, ok := w.composeWithLLM(ctx, query, strategy, hints, contexts, refs); ok {
			return answer, refs
		}
	}
	return templatedAnswer(hints, contexts, refs), refs
}

func (w *Writer) composeWithLLM(ctx context.Context, query string, strategy ragtypes.StrategyName, hints ragtypes.Hints, contexts []ragtypes.RetrievedContext, refs []ragtypes.Reference) (string, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "Strategy: %s\n", strategy)
	fmt.Fprintf(&b, "production_incident: %v\n\n", hints.ProductionIncident)
	for i, c := range contexts {
		key, _ := c.Metadata[ragtypes.MetaKey].(string)
		fmt.Fprintf(&b, "[%d] key=%s score=%.3f\n%s\n\n", i+1, key, c.Score, c.Content)
	}

	text, err := w.llmClient.Complete(ctx, llm.TierStrong, composeSystemPrompt, b.String(), 0.3)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return ensureCitedKeysAreKnown(text, refs), true
}

// citedKeyPattern matches the same identifier shape the supervisor's rule 2
// uses, so any key the model cites but that never appeared in context is
// caught the same way a human reviewer would spot it.
var citedKeyPattern = regexp.MustCompile(`[A-Z]{2,}-\d+`)

// ensureCitedKeysAreKnown removes any cited key the LLM invented that is not
// present in refs, so the style contract ("must not hallucinate ticket
// identifiers") holds even when the model doesn't follow instructions. The
// invented key is deleted outright rather than annotated, since an annotated
// key still names a ticket that was never actually retrieved.
func ensureCitedKeysAreKnown(text string, refs []ragtypes.Reference) string {
	known := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		known[r.Key] = struct{}{}
	}
	return citedKeyPattern.ReplaceAllStringFunc(text, func(match string) string {
		if _, ok := known[match]; ok {
			return match
		}
		return ""
	})
}

func referencesFrom(contexts []ragtypes.RetrievedContext) []ragtypes.Reference {
	seen := make(map[string]struct{})
	var refs []ragtypes.Reference
	for _, c := range contexts {
		key, _ := c.Metadata[ragtypes.MetaKey].(string)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		title, _ := c.Metadata[ragtypes.MetaTitle].(string)
		refs = append(refs, ragtypes.Reference{Key: key, Title: title})
	}
	return refs
}

func noContextAnswer() string {
	return "No relevant information was found for this query. Try reformulating it: " +
		"(1) include a specific ticket key or service name, " +
		"(2) narrow the time window or error message, or " +
		"(3) broaden the query if it was too specific."
}

func templatedAnswer(hints ragtypes.Hints, contexts []ragtypes.RetrievedContext, refs []ragtypes.Reference) string {
	var b strings.Builder
	if hints.ProductionIncident {
		fmt.Fprintf(&b, "Most relevant: %s\n\n", summarize(contexts[0].Content))
	}
	b.WriteString("Related items found:\n")
	for _, c := range contexts {
		key, _ := c.Metadata[ragtypes.MetaKey].(string)
		if key == "" {
			key = c.Source
		}
		fmt.Fprintf(&b, "- %s: %s\n", key, summarize(c.Content))
	}
	if len(refs) > 0 {
		fmt.Fprintf(&b, "\nCited: %s\n", joinKeys(refs))
	}
	return b.String()
}

func summarize(content string) string {
	const maxLen = 200
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}

func joinKeys(refs []ragtypes.Reference) string {
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.Key
	}
	return strings.Join(keys, ", ")
}
