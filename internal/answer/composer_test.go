package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acmetech/docchat/internal/llm"
	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/store"
)

type stubGenerator struct {
	calls    int
	messages []llm.Message
	reply    string
	err      error
}

func (s *stubGenerator) Generate(_ context.Context, messages []llm.Message) (string, error) {
	s.calls++
	s.messages = messages
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func TestComposerPromptShape(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "Berlin is the capital."}
	composer := New(gen, Config{}, log.NewNop())

	matches := []store.Match{
		{DocumentName: "geo.txt", Content: "Berlin is the capital of Germany.", Similarity: 0.91},
		{DocumentName: "cities.md", Content: "Berlin has 3.7 million inhabitants.", Similarity: 0.54},
	}

	answer, err := composer.Compose(context.Background(), "What is the capital of Germany?", matches, nil)
	require.NoError(t, err)
	assert.Equal(t, "Berlin is the capital.", answer)
	assert.Equal(t, 1, gen.calls)

	require.Len(t, gen.messages, 2)
	assert.Equal(t, llm.RoleSystem, gen.messages[0].Role)
	assert.Contains(t, gen.messages[0].Content, NotFoundSentinel)
	assert.Contains(t, gen.messages[0].Content, "ONLY on the provided context")

	user := gen.messages[1]
	assert.Equal(t, llm.RoleUser, user.Role)
	assert.Contains(t, user.Content, "[Source 1: geo.txt]\nBerlin is the capital of Germany.")
	assert.Contains(t, user.Content, "[Source 2: cities.md]\nBerlin has 3.7 million inhabitants.")
	assert.Contains(t, user.Content, "Current Question: What is the capital of Germany?")

	// Blocks are separated by the delimiter, ranked in match order.
	first := strings.Index(user.Content, "[Source 1:")
	second := strings.Index(user.Content, "[Source 2:")
	delim := strings.Index(user.Content, sourceDelimiter)
	assert.Less(t, first, delim)
	assert.Less(t, delim, second)
}

func TestComposerHistoryWindow(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "ok"}
	composer := New(gen, Config{HistoryWindow: 3}, log.NewNop())

	history := make([]Turn, 5)
	for i := range history {
		history[i] = Turn{
			Question: fmt.Sprintf("q%d", i+1),
			Answer:   fmt.Sprintf("a%d", i+1),
		}
	}

	_, err := composer.Compose(context.Background(), "current", []store.Match{{DocumentName: "d.txt", Content: "c"}}, history)
	require.NoError(t, err)

	// system + 3 replayed turns (2 messages each) + current user message.
	require.Len(t, gen.messages, 8)

	// Only the last three turns survive, oldest first.
	wantPairs := []struct{ q, a string }{
		{"q3", "a3"},
		{"q4", "a4"},
		{"q5", "a5"},
	}
	for i, want := range wantPairs {
		userMsg := gen.messages[1+2*i]
		assistantMsg := gen.messages[2+2*i]
		assert.Equal(t, llm.RoleUser, userMsg.Role)
		assert.Equal(t, want.q, userMsg.Content)
		assert.Equal(t, llm.RoleAssistant, assistantMsg.Role)
		assert.Equal(t, want.a, assistantMsg.Content)
	}

	assert.Equal(t, llm.RoleUser, gen.messages[7].Role)
	assert.Contains(t, gen.messages[7].Content, "Current Question: current")
}

func TestComposerShortHistory(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "ok"}
	composer := New(gen, Config{HistoryWindow: 3}, log.NewNop())

	history := []Turn{{Question: "q1", Answer: "a1"}}
	_, err := composer.Compose(context.Background(), "current", nil, history)
	require.NoError(t, err)

	require.Len(t, gen.messages, 4)
	assert.Equal(t, "q1", gen.messages[1].Content)
	assert.Equal(t, "a1", gen.messages[2].Content)
}

func TestComposerZeroHistoryWindow(t *testing.T) {
	t.Parallel()

	// Window 0 is a real configuration (no history replay), not "unset":
	// prior turns must never reach the model.
	gen := &stubGenerator{reply: "ok"}
	composer := New(gen, Config{HistoryWindow: 0}, log.NewNop())

	history := []Turn{{Question: "q1", Answer: "a1"}, {Question: "q2", Answer: "a2"}}
	_, err := composer.Compose(context.Background(), "current", nil, history)
	require.NoError(t, err)

	require.Len(t, gen.messages, 2)
	assert.Equal(t, llm.RoleSystem, gen.messages[0].Role)
	assert.Equal(t, llm.RoleUser, gen.messages[1].Role)
	assert.NotContains(t, gen.messages[1].Content, "q1")
}

func TestComposerGeneratorFailure(t *testing.T) {
	t.Parallel()

	genErr := errors.New("model unavailable")
	gen := &stubGenerator{err: genErr}
	composer := New(gen, Config{}, log.NewNop())

	_, err := composer.Compose(context.Background(), "q", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, genErr)
}

func TestWindowed(t *testing.T) {
	t.Parallel()

	turns := []Turn{{Question: "1"}, {Question: "2"}, {Question: "3"}}

	assert.Equal(t, turns, windowed(turns, 5))
	assert.Equal(t, turns[1:], windowed(turns, 2))
	assert.Empty(t, windowed(turns, 0))
	assert.Empty(t, windowed(nil, 3))
}
