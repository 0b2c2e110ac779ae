package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/acmetech/docchat/internal/answer"
	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/rag"
)

// maxChatBodyBytes caps the chat request body.
const maxChatBodyBytes = 1 << 20

// ChatEngine answers one question with caller-supplied history.
type ChatEngine interface {
	Chat(ctx context.Context, question string, history []answer.Turn) (rag.Result, error)
}

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Question string        `json:"question"`
	History  []historyTurn `json:"conversation_history"`
}

type historyTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type chatHandler struct {
	engine ChatEngine
	logger log.Logger
}

// send handles POST /api/chat. Soft pipeline outcomes (nothing indexed,
// nothing relevant) come back as 200 with success=false; malformed input is
// 400; infrastructure failures are a generic 500.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON", h.logger)
		return
	}

	history := make([]answer.Turn, len(req.History))
	for i, t := range req.History {
		history[i] = answer.Turn{Question: t.Question, Answer: t.Answer}
	}

	result, err := h.engine.Chat(r.Context(), req.Question, history)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, "empty_question", "question must not be empty", h.logger)
			return
		}
		h.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to process question", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}
