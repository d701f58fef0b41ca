package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/modelchain/modelchain/pkg/store"
)

// factWorkers bounds the fan-out of per-fact memory decisions.
const factWorkers = 4

// runPipeline is the background long-term stage for one stored
// exchange: extract salient facts, decide an operation per fact against
// the nearest existing memories, then refresh the rolling summary.
// Every failure degrades to a log line.
func (m *Manager) runPipeline(ctx context.Context, conversationID, summary string, recent []store.Message, userContent, assistantContent string) {
	facts, err := m.extractFacts(ctx, summary, recent, userContent, assistantContent)
	if err != nil {
		slog.Warn("Fact extraction failed, skipping long-term update", "conversation", conversationID, "error", err)
	} else if len(facts) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(factWorkers)
		for _, fact := range facts {
			fact := fact
			g.Go(func() error {
				if err := m.applyFact(gctx, fact); err != nil {
					slog.Warn("Failed to apply memory fact", "conversation", conversationID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	m.refreshSummary(ctx, conversationID, summary, userContent, assistantContent)
}

// extractFacts asks the LLM for the salient facts of the latest
// exchange as a JSON list of strings.
func (m *Manager) extractFacts(ctx context.Context, summary string, recent []store.Message, userContent, assistantContent string) ([]string, error) {
	var recentLines strings.Builder
	for _, msg := range recent {
		fmt.Fprintf(&recentLines, "%s: %s\n", msg.Role, msg.Content)
	}

	prompt := fmt.Sprintf(
		"Summary: %s\nRecent: %s\n\nCurrent Exchange:\nUser: %s\nAssistant: %s\n\n"+
			"Task: Extract salient facts worth remembering long-term from the current exchange. "+
			"Output as a JSON list of facts.",
		summary, recentLines.String(), userContent, assistantContent)

	response, _, err := m.llm.Generate(ctx, "", prompt)
	if err != nil {
		return nil, err
	}
	return parseFactList(response)
}

// parseFactList decodes a JSON string array, tolerating a markdown
// code fence around it.
func parseFactList(response string) ([]string, error) {
	text := strings.TrimSpace(response)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var facts []string
	if err := json.Unmarshal([]byte(text), &facts); err != nil {
		return nil, fmt.Errorf("failed to parse fact list: %w", err)
	}

	out := facts[:0]
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

// applyFact embeds a candidate fact, finds its nearest stored memories
// across the whole collection and executes the LLM's
// ADD/UPDATE/DELETE/NOOP decision. UPDATE and DELETE degrade to NOOP
// when there is no neighbour to act on.
func (m *Manager) applyFact(ctx context.Context, fact string) error {
	vector, err := m.embedder.EmbedWithContext(ctx, fact)
	if err != nil {
		return fmt.Errorf("failed to embed fact: %w", err)
	}

	neighbours, err := m.vectors.Search(ctx, m.collection, vector, m.topK)
	if err != nil {
		return fmt.Errorf("neighbour search failed: %w", err)
	}

	existing := make([]string, 0, len(neighbours))
	for _, n := range neighbours {
		existing = append(existing, n.Content)
	}

	prompt := fmt.Sprintf(
		"Candidate Fact: %s\nExisting Similar Memories: %s\n\n"+
			"Decide operation: ADD, UPDATE, DELETE, or NOOP. Output only the operation word.",
		fact, strings.Join(existing, "; "))

	decision, _, err := m.llm.Generate(ctx, "", prompt)
	if err != nil {
		return fmt.Errorf("memory decision failed: %w", err)
	}

	op := parseOperation(decision)
	switch op {
	case "ADD":
		return m.addMemory(ctx, fact, vector)
	case "UPDATE":
		if len(neighbours) == 0 {
			return nil
		}
		if err := m.vectors.Delete(ctx, m.collection, neighbours[0].ID); err != nil {
			return fmt.Errorf("failed to replace memory: %w", err)
		}
		return m.addMemory(ctx, fact, vector)
	case "DELETE":
		if len(neighbours) == 0 {
			return nil
		}
		return m.vectors.Delete(ctx, m.collection, neighbours[0].ID)
	default:
		return nil
	}
}

func parseOperation(decision string) string {
	op := strings.ToUpper(strings.TrimSpace(decision))
	for _, known := range []string{"ADD", "UPDATE", "DELETE", "NOOP"} {
		if strings.HasPrefix(op, known) {
			return known
		}
	}
	return "NOOP"
}

func (m *Manager) addMemory(ctx context.Context, fact string, vector []float32) error {
	return m.vectors.Upsert(ctx, m.collection, uuid.NewString(), vector, map[string]interface{}{
		"content": fact,
	})
}

// refreshSummary folds the latest exchange into the rolling summary
// and opportunistically persists it.
func (m *Manager) refreshSummary(ctx context.Context, conversationID, summary, userContent, assistantContent string) {
	prompt := fmt.Sprintf(
		"Current Summary: %s\n\nNew Exchange:\nUser: %s\nAssistant: %s\n\n"+
			"Task: Produce an updated concise summary of the conversation incorporating the new exchange. "+
			"Output only the summary.",
		summary, userContent, assistantContent)

	updated, _, err := m.llm.Generate(ctx, "", prompt)
	if err != nil {
		slog.Warn("Summary refresh failed", "conversation", conversationID, "error", err)
		return
	}
	updated = strings.TrimSpace(updated)
	if updated == "" {
		return
	}

	st := m.state(conversationID)
	st.mu.Lock()
	st.summary = updated
	st.mu.Unlock()

	if err := m.store.UpdateConversationSummary(ctx, conversationID, updated); err != nil {
		slog.Warn("Failed to persist conversation summary", "conversation", conversationID, "error", err)
	}
}
