package chat

// Event is one JSON frame sent to the client. Every concrete event
// carries an "event" discriminator field.
type Event interface {
	Kind() string
}

// Sink delivers events to the client in emission order. A Send error
// is treated as client disconnect.
type Sink interface {
	Send(Event) error
}

// RAGDoc is one retrieval snippet shown to the client.
type RAGDoc struct {
	Path    string  `json:"path"`
	Score   float64 `json:"score"`
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
}

type ChatCreatedEvent struct {
	Event  string `json:"event"`
	ChatID string `json:"chat_id"`
}

type StageEvent struct {
	Event string `json:"event"`
	Stage string `json:"stage"`
}

type RAGEvent struct {
	Event string   `json:"event"`
	Docs  []RAGDoc `json:"docs"`
}

type ThinkStartEvent struct {
	Event string `json:"event"`
}

type ThinkTokenEvent struct {
	Event string `json:"event"`
	Token string `json:"token"`
}

type ThinkEndEvent struct {
	Event   string `json:"event"`
	ThinkMS int64  `json:"think_ms"`
}

type AnswerTokenEvent struct {
	Event string `json:"event"`
	Token string `json:"token"`
}

type DoneEvent struct {
	Event   string `json:"event"`
	ChatID  string `json:"chat_id"`
	ThinkMS int64  `json:"think_ms"`
	TotalMS int64  `json:"total_ms"`
}

type ErrorEvent struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

func (e ChatCreatedEvent) Kind() string { return e.Event }
func (e StageEvent) Kind() string       { return e.Event }
func (e RAGEvent) Kind() string         { return e.Event }
func (e ThinkStartEvent) Kind() string  { return e.Event }
func (e ThinkTokenEvent) Kind() string  { return e.Event }
func (e ThinkEndEvent) Kind() string    { return e.Event }
func (e AnswerTokenEvent) Kind() string { return e.Event }
func (e DoneEvent) Kind() string        { return e.Event }
func (e ErrorEvent) Kind() string       { return e.Event }

func chatCreated(chatID string) Event { return ChatCreatedEvent{Event: "chat_created", ChatID: chatID} }
func stage(name string) Event         { return StageEvent{Event: "stage", Stage: name} }
func thinkStart() Event               { return ThinkStartEvent{Event: "think_start"} }
func thinkToken(tok string) Event     { return ThinkTokenEvent{Event: "think_token", Token: tok} }
func thinkEnd(ms int64) Event         { return ThinkEndEvent{Event: "think_end", ThinkMS: ms} }
func answerToken(tok string) Event    { return AnswerTokenEvent{Event: "answer_token", Token: tok} }

func ragDocs(docs []RAGDoc) Event {
	if docs == nil {
		docs = []RAGDoc{}
	}
	return RAGEvent{Event: "rag", Docs: docs}
}

func done(chatID string, thinkMS, totalMS int64) Event {
	return DoneEvent{Event: "done", ChatID: chatID, ThinkMS: thinkMS, TotalMS: totalMS}
}

// NewErrorEvent builds the terminal error frame. Exposed for the
// transport layer, which owns error frame emission.
func NewErrorEvent(msg string) Event { return ErrorEvent{Event: "error", Error: msg} }
