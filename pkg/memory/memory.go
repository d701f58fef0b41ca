package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelchain/modelchain/pkg/config"
	"github.com/modelchain/modelchain/pkg/databases"
	"github.com/modelchain/modelchain/pkg/embedders"
	"github.com/modelchain/modelchain/pkg/llms"
	"github.com/modelchain/modelchain/pkg/store"
)

// noMemoriesLine is appended to the context block when long-term
// retrieval returns nothing.
const noMemoriesLine = "No relevant long term memories found."

// conversationState is the short-term tier: the rolling message window
// and the current summary, both process-local.
type conversationState struct {
	mu      sync.Mutex
	window  []store.Message
	summary string
}

// Manager coordinates the three memory tiers: a short-term rolling
// window per conversation, a rolling LLM summary, and a long-term
// vector store of extracted facts shared across all conversations.
// Writes to the long-term tier run in the background and never fail
// the request path.
type Manager struct {
	store    *store.Store
	vectors  databases.DatabaseProvider
	embedder embedders.EmbedderProvider
	llm      llms.Provider

	windowSize int
	topK       int
	collection string

	mu            sync.Mutex
	conversations map[string]*conversationState

	bg sync.WaitGroup
}

func NewManager(st *store.Store, vectors databases.DatabaseProvider, embedder embedders.EmbedderProvider, llm llms.Provider, cfg *config.MemoryConfig) (*Manager, error) {
	m := &Manager{
		store:         st,
		vectors:       vectors,
		embedder:      embedder,
		llm:           llm,
		windowSize:    cfg.WindowSize,
		topK:          cfg.TopK,
		collection:    cfg.Collection,
		conversations: make(map[string]*conversationState),
	}

	if err := vectors.CreateCollection(context.Background(), cfg.Collection, uint64(embedder.GetDimension())); err != nil {
		return nil, fmt.Errorf("failed to ensure memory collection: %w", err)
	}
	return m, nil
}

// Wait blocks until in-flight background memory work completes. Used
// by shutdown and tests.
func (m *Manager) Wait() {
	m.bg.Wait()
}

func (m *Manager) state(conversationID string) *conversationState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.conversations[conversationID]
	if !ok {
		st = &conversationState{}
		m.conversations[conversationID] = st
	}
	return st
}

// NewConversation creates and persists an empty conversation. When
// userID is non-empty the conversation is linked to that user.
func (m *Manager) NewConversation(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	if err := m.store.CreateConversation(ctx, id); err != nil {
		return "", err
	}
	if userID != "" {
		if err := m.store.LinkConversationToUser(ctx, id, userID); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	m.conversations[id] = &conversationState{}
	m.mu.Unlock()

	return id, nil
}

// Load returns the full persisted history of a conversation and seeds
// the in-memory window with the most recent messages.
func (m *Manager) Load(ctx context.Context, conversationID string) ([]store.Message, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := m.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	window := messages
	if max := 2 * m.windowSize; len(window) > max {
		window = window[len(window)-max:]
	}

	st := m.state(conversationID)
	st.mu.Lock()
	st.window = append([]store.Message(nil), window...)
	st.summary = conv.Summary
	st.mu.Unlock()

	return messages, nil
}

// Rewrite builds the memory context block for a query and asks the LLM
// to produce a self-contained rewritten query. Transient LLM failures
// are retried once; a failure after the retry is returned so the caller
// can fail the turn.
func (m *Manager) Rewrite(ctx context.Context, conversationID, query string) (string, error) {
	block, err := m.contextBlock(ctx, conversationID, query)
	if err != nil {
		return "", fmt.Errorf("failed to build memory context: %w", err)
	}

	prompt := "You rewrite user queries to be self-contained using conversation context.\n" +
		"Output ONLY the rewritten query. If the query needs no context (e.g. a greeting), output it unchanged. No markdown.\n\n" +
		block

	rewritten, _, err := m.llm.Generate(ctx, "", prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		slog.Warn("Query rewrite failed, retrying once", "conversation", conversationID, "error", err)
		time.Sleep(200 * time.Millisecond)

		rewritten, _, err = m.llm.Generate(ctx, "", prompt)
		if err != nil {
			return "", fmt.Errorf("query rewrite failed: %w", err)
		}
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}

// contextBlock assembles the summary, recent window and long-term hits
// into the fixed context layout consumed by the rewrite prompt.
func (m *Manager) contextBlock(ctx context.Context, conversationID, query string) (string, error) {
	st := m.state(conversationID)
	st.mu.Lock()
	summary := st.summary
	recent := append([]store.Message(nil), st.window...)
	st.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation Summary: %s\n\n", summary)
	b.WriteString("Recent Messages:\n")
	for _, msg := range recent {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	hits, err := m.searchLongTerm(ctx, query)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		b.WriteString(noMemoriesLine + "\n")
	} else {
		for _, hit := range hits {
			b.WriteString(hit + "\n")
		}
	}

	fmt.Fprintf(&b, "User Query: %s", query)
	return b.String(), nil
}

// searchLongTerm queries the shared long-term collection. Facts are
// global: a memory stored during one conversation is retrievable from
// every other.
func (m *Manager) searchLongTerm(ctx context.Context, query string) ([]string, error) {
	vector, err := m.embedder.EmbedWithContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := m.vectors.Search(ctx, m.collection, vector, m.topK)
	if err != nil {
		return nil, fmt.Errorf("long-term search failed: %w", err)
	}

	facts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Content != "" {
			facts = append(facts, r.Content)
		}
	}
	return facts, nil
}

// StorePair appends one user/assistant exchange to the window and the
// relational store, then kicks off the background long-term pipeline.
// The pipeline is best-effort; its failures are logged, never returned.
func (m *Manager) StorePair(ctx context.Context, conversationID, userContent, assistantContent string) error {
	if err := m.store.AppendMessagePair(ctx, conversationID, userContent, assistantContent); err != nil {
		return err
	}

	st := m.state(conversationID)
	st.mu.Lock()
	st.window = append(st.window,
		store.Message{Role: "user", Content: userContent},
		store.Message{Role: "assistant", Content: assistantContent},
	)
	if max := 2 * m.windowSize; len(st.window) > max {
		st.window = st.window[len(st.window)-max:]
	}
	summary := st.summary
	recent := append([]store.Message(nil), st.window...)
	st.mu.Unlock()

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		m.runPipeline(context.Background(), conversationID, summary, recent, userContent, assistantContent)
	}()

	return nil
}

// DeleteConversation removes the relational rows and the in-memory
// state. Long-term memories are global, not owned by a conversation,
// so they survive the delete.
func (m *Manager) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := m.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.conversations, conversationID)
	m.mu.Unlock()

	return nil
}

// Summary returns the current rolling summary for a conversation.
func (m *Manager) Summary(conversationID string) string {
	st := m.state(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.summary
}

// Window returns a copy of the current short-term window.
func (m *Manager) Window(conversationID string) []store.Message {
	st := m.state(conversationID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]store.Message(nil), st.window...)
}
