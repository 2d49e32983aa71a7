package domain

import "context"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat-completion prompt.
type Message struct {
	Role    Role
	Content string
}

// ChatOptions tunes a single completion call.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
}

// Completion is the result of a non-streaming chat call.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TokenStream yields answer fragments. Recv returns io.EOF after the last fragment.
// Close must be called once the caller stops reading.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatModel is the chat-completion contract between layers.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message, opts ChatOptions) (Completion, error)
	Stream(ctx context.Context, messages []Message, opts ChatOptions) (TokenStream, error)
}

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	// StreamSources is emitted once, before any token, with the retrieved context.
	StreamSources StreamEventType = "sources"
	// StreamToken carries one answer fragment.
	StreamToken StreamEventType = "token"
	// StreamDone is emitted after the last token with the full answer.
	StreamDone StreamEventType = "done"
	// StreamError terminates the stream with an error.
	StreamError StreamEventType = "error"
)

// StreamEvent is one element of a streamed answer.
type StreamEvent struct {
	Type    StreamEventType
	Token   string
	Answer  string
	Sources []ScoredChunk
	Err     error
}

// Turn is one question/answer exchange together with the context used to answer it.
type Turn struct {
	Question     string
	Answer       string
	Context      []ScoredChunk
	Insufficient bool // true when no chunk survived retrieval and the LLM was not called
}

// Sources returns the distinct source file names of the turn's context, in order.
func (t Turn) Sources() []string {
	return SourceNames(t.Context)
}

// SourceNames returns the distinct file names of chunks, preserving first occurrence order.
func SourceNames(chunks []ScoredChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		name := c.Chunk.SourceName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
