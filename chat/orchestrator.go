package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	mobilerag "github.com/lavandejoey/MobileRAG"
	"github.com/lavandejoey/MobileRAG/budget"
	"github.com/lavandejoey/MobileRAG/history"
	"github.com/lavandejoey/MobileRAG/llm"
	"github.com/lavandejoey/MobileRAG/rag"
)

// streamQueueCap bounds the producer/consumer queue between the model
// stream and the event loop. Back-pressure here is the only flow
// control between the model and the client.
const streamQueueCap = 256

// ragSnippetMaxChars caps snippet text in the rag event frame.
const ragSnippetMaxChars = 800

// Request is the init frame of one turn.
type Request struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id,omitempty"`
	Message   string `json:"message"`
}

// Retriever is the slice of the retrieval pipeline a turn needs.
type Retriever interface {
	Enabled() bool
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Snippet, error)
}

// Orchestrator drives one turn through retrieval, prompt assembly,
// model streaming, and persistence.
type Orchestrator struct {
	history  *history.Store
	rag      Retriever
	provider llm.Provider
	cfg      mobilerag.Config
	budgeter *budget.Orchestrator
}

// New wires an orchestrator. rag may be nil when retrieval is off.
func New(hist *history.Store, retriever Retriever, provider llm.Provider, cfg mobilerag.Config) *Orchestrator {
	return &Orchestrator{
		history:  hist,
		rag:      retriever,
		provider: provider,
		cfg:      cfg,
		budgeter: budget.New(budget.Limits{
			ModelContextWindow: cfg.Budget.ModelContextWindow,
			SummaryTokenLimit:  cfg.Budget.SummaryTokenLimit,
			MemoryTokenLimit:   cfg.Budget.MemoryTokenLimit,
			EvidenceTokenLimit: cfg.Budget.EvidenceTokenLimit,
			RecentMessageLimit: cfg.Budget.RecentMessageLimit,
		}, nil),
	}
}

// HandleTurn runs one turn and emits events to the sink. On error the
// caller owns the error frame; on cancellation nothing further is sent
// and the assistant turn is not persisted.
func (o *Orchestrator) HandleTurn(ctx context.Context, req Request, sink Sink) error {
	t0 := time.Now()

	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: empty message", mobilerag.ErrBadRequest)
	}

	chatID, created, err := o.history.EnsureChat(ctx, req.ChatID, history.TitleFromFirstMessage(req.Message))
	if err != nil {
		return err
	}
	if created {
		if err := sink.Send(chatCreated(chatID)); err != nil {
			return err
		}
	}

	if _, err := o.history.AddMessage(ctx, chatID, history.RoleUser, req.Message); err != nil {
		return err
	}

	if err := sink.Send(stage("retrieval")); err != nil {
		return err
	}
	snips, err := o.retrieve(ctx, req.Message)
	if err != nil {
		return err
	}
	if err := sink.Send(ragDocs(snippetDocs(snips))); err != nil {
		return err
	}

	messages, err := o.buildPrompt(ctx, chatID, req.Message, snips)
	if err != nil {
		return err
	}

	if err := sink.Send(stage("generation")); err != nil {
		return err
	}
	stream, err := o.provider.StreamChat(ctx, messages, llm.GenerationParams{
		Temperature:  o.cfg.Model.Temperature,
		TopP:         o.cfg.Model.TopP,
		MaxNewTokens: o.cfg.Model.MaxNewTokens,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	turn, err := o.consume(ctx, stream, sink)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if strings.TrimSpace(turn.answer) == "" {
		return fmt.Errorf("%w: model produced no answer", mobilerag.ErrGenerationFailed)
	}

	totalMS := time.Since(t0).Milliseconds()
	err = o.history.PersistTurn(ctx, chatID, turn.answer, turn.think, history.TurnMeta{
		ThinkMS: turn.thinkMS,
		TotalMS: totalMS,
	})
	if err != nil {
		return err
	}
	slog.Info("chat: turn complete", "chat_id", chatID,
		"think_ms", turn.thinkMS, "total_ms", totalMS, "snippets", len(snips))
	return sink.Send(done(chatID, turn.thinkMS, totalMS))
}

func (o *Orchestrator) retrieve(ctx context.Context, query string) ([]rag.Snippet, error) {
	if o.rag == nil || !o.rag.Enabled() {
		return nil, nil
	}
	return o.rag.Retrieve(ctx, query, o.cfg.RAG.TopK)
}

// buildPrompt runs the budget orchestrator over summary, evidence, and
// recent history, then renders the model messages.
func (o *Orchestrator) buildPrompt(ctx context.Context, chatID, query string, snips []rag.Snippet) ([]llm.Message, error) {
	var summaryText string
	sum, err := o.history.GetSummary(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sum != nil {
		summaryText = sum.Summary
	}

	recent, err := o.history.GetRecentMessages(ctx, chatID, o.cfg.Budget.RecentMessageLimit)
	if err != nil {
		return nil, err
	}
	// The just-persisted user message is the query itself; drop it from
	// the recent window so it is not duplicated in the prompt.
	if n := len(recent); n > 0 && recent[n-1].Role == history.RoleUser && recent[n-1].Content == query {
		recent = recent[:n-1]
	}

	b := o.budgeter.Orchestrate(query, summaryText, evidenceBlocks(snips, o.cfg.RAG.PromptMaxChars), nil, recent)
	return buildMessages(query, b), nil
}

// evidenceBlocks renders snippets as numbered citation blocks, stopping
// before maxChars would be exceeded.
func evidenceBlocks(snips []rag.Snippet, maxChars int) []string {
	blocks := make([]string, 0, len(snips))
	total := 0
	for i, s := range snips {
		block := fmt.Sprintf("[%d] %s (score=%.4f)\n%s", i+1, s.Path, s.Score, s.Text)
		if maxChars > 0 && total+len(block) > maxChars {
			break
		}
		total += len(block)
		blocks = append(blocks, block)
	}
	return blocks
}

func snippetDocs(snips []rag.Snippet) []RAGDoc {
	docs := make([]RAGDoc, len(snips))
	for i, s := range snips {
		text := s.Text
		if r := []rune(text); len(r) > ragSnippetMaxChars {
			text = string(r[:ragSnippetMaxChars])
		}
		docs[i] = RAGDoc{Path: s.Path, Score: s.Score, ChunkID: s.ChunkID, Text: text}
	}
	return docs
}

// turnResult accumulates the demuxed output of one generation.
type turnResult struct {
	think   string
	answer  string
	thinkMS int64
}

// consume bridges the model stream to the event sink through a bounded
// queue, demuxing think and answer text and tracking think timing.
func (o *Orchestrator) consume(ctx context.Context, stream llm.Stream, sink Sink) (turnResult, error) {
	chunks := make(chan string, streamQueueCap)
	errc := make(chan error, 1)
	go func() {
		defer close(chunks)
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				errc <- err
				return
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		res          turnResult
		demux        Demux
		thinkStarted bool
		thinkClosed  bool
		thinkT0      time.Time
	)
	emit := func(think, answer string) error {
		if think != "" {
			if !thinkStarted {
				thinkStarted = true
				thinkT0 = time.Now()
				if err := sink.Send(thinkStart()); err != nil {
					return err
				}
			}
			res.think += think
			if err := sink.Send(thinkToken(think)); err != nil {
				return err
			}
		}
		if answer != "" {
			if thinkStarted && !thinkClosed {
				thinkClosed = true
				res.thinkMS = time.Since(thinkT0).Milliseconds()
				if err := sink.Send(thinkEnd(res.thinkMS)); err != nil {
					return err
				}
			}
			res.answer += answer
			if err := sink.Send(answerToken(answer)); err != nil {
				return err
			}
		}
		return nil
	}

loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			think, answer := demux.Feed(chunk)
			if err := emit(think, answer); err != nil {
				return res, err
			}
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
	select {
	case err := <-errc:
		return res, err
	default:
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	think, answer := demux.Flush()
	if err := emit(think, answer); err != nil {
		return res, err
	}
	// Think span never closed by an answer token: close it at stream end.
	if thinkStarted && !thinkClosed {
		res.thinkMS = time.Since(thinkT0).Milliseconds()
		if err := sink.Send(thinkEnd(res.thinkMS)); err != nil {
			return res, err
		}
	}
	return res, nil
}
