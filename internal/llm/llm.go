// Package llm generates grounded answers from retrieved context via a
// chat model.
package llm

import (
	"context"
	"errors"

	"github.com/tomibot/ragserver/internal/vectorindex"
)

// ErrInvocation indicates the model call failed or returned no usable
// answer.
var ErrInvocation = errors.New("model invocation failed")

// BaseInstruction is always appended to the system prompt. It pins the
// model to the retrieved context so answers stay grounded in the tenant's
// documents.
const BaseInstruction = "Answer using only the information in the provided context. " +
	"If the context does not contain the information needed, say that you do not know. " +
	"Do not invent facts or draw on outside knowledge."

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string
	Content string
}

// Request carries everything the model needs for one answer. SystemPrompt
// is the tenant's custom prompt and may be empty; BaseInstruction is
// applied either way.
type Request struct {
	Query        string
	SystemPrompt string
	History      []Turn
	Context      []vectorindex.Match
}

// Responder produces an answer for a request.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}
