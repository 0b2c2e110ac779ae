// Package answer assembles the grounded prompt and produces the final answer
// text: a fixed system instruction, a bounded window of conversation history,
// and the retrieved fragments labeled per source so the model can cite them.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/acmetech/docchat/internal/llm"
	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/store"
)

// NotFoundSentinel is the exact reply the system instruction demands when the
// answer is absent from the supplied context. Enforcement is delegated to the
// instructed model, not checked mechanically here.
const NotFoundSentinel = "Not found in documents."

// systemInstruction constrains the model to the retrieved context. History is
// allowed only for resolving follow-up references, never as a source of facts.
const systemInstruction = `You are a helpful assistant that answers questions based ONLY on the provided context from documents.

IMPORTANT RULES:
1. Answer ONLY using information from the provided context
2. If the answer is not found in the context, respond with "` + NotFoundSentinel + `"
3. Cite which document(s) you used to answer the question
4. Be concise and accurate
5. Do not make up information or use external knowledge
6. Use conversation history to understand follow-up questions and references`

// sourceDelimiter separates labeled context blocks.
const sourceDelimiter = "\n\n---\n\n"

// Turn is one prior question/answer exchange supplied by the caller.
type Turn struct {
	Question string
	Answer   string
}

// Generator produces a completion for a prepared message sequence.
type Generator interface {
	Generate(ctx context.Context, messages []llm.Message) (string, error)
}

// Config holds the composer knobs.
type Config struct {
	// HistoryWindow is the maximum number of most-recent turns replayed to
	// the model. 0 disables history replay entirely; the 3-turn default
	// lives in the config layer.
	HistoryWindow int

	// GenerateTimeout bounds the model call.
	GenerateTimeout time.Duration
}

// Composer builds grounded prompts and calls the generation backend once per
// request.
type Composer struct {
	generator Generator
	cfg       Config
	logger    log.Logger
}

// New creates a Composer. A non-positive timeout falls back to 60s; the
// history window is taken as configured, negative treated as 0.
func New(generator Generator, cfg Config, logger log.Logger) *Composer {
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Composer{
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Compose produces the answer text for a question given the retrieved matches
// and the caller-supplied conversation history.
func (c *Composer) Compose(ctx context.Context, question string, matches []store.Match, history []Turn) (string, error) {
	messages := make([]llm.Message, 0, 2+2*c.cfg.HistoryWindow)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemInstruction})

	// Sliding suffix: the last HistoryWindow turns, replayed oldest-first in
	// their original order.
	for _, turn := range windowed(history, c.cfg.HistoryWindow) {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turn.Question},
			llm.Message{Role: llm.RoleAssistant, Content: turn.Answer},
		)
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userPrompt(question, matches)})

	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	text, err := c.generator.Generate(genCtx, messages)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	c.logger.Debug("answer composed",
		"sources", len(matches),
		"history_turns", min(len(history), c.cfg.HistoryWindow),
		"answer_length", len(text))
	return text, nil
}

// windowed returns the trailing n turns of history in original order.
func windowed(history []Turn, n int) []Turn {
	if n < 0 {
		n = 0
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// userPrompt assembles the final user message: the labeled context blocks
// followed by the current question.
func userPrompt(question string, matches []store.Match) string {
	return fmt.Sprintf(`Context from documents:

%s

---

Current Question: %s

Please answer the current question based on the context above.`, contextText(matches), question)
}

// contextText concatenates a labeled block per match, in order. The 1-based
// rank in each label is what lets the model attribute statements to sources.
func contextText(matches []store.Match) string {
	blocks := make([]string, len(matches))
	for i, m := range matches {
		blocks[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, m.DocumentName, m.Content)
	}
	return strings.Join(blocks, sourceDelimiter)
}
