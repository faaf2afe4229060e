package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
	"github.com/vibingu/vibingu/pkg/store"
)

const (
	titleMaxRunes       = 30
	historyMessages     = 6 // three prior user+assistant pairs
	historyMessageRunes = 300
	replyMaxTokens      = 2000
	replyTemperature    = 0.7
	persistTimeout      = 10 * time.Second
)

// ErrEmptyMessage rejects blank utterances before any persistence.
var ErrEmptyMessage = errors.New("message must not be empty")

// Gateway is the model slice the chat core needs.
type Gateway interface {
	ChatComplete(ctx context.Context, messages []llms.Message, opts gateway.CallOptions) (*gateway.Result, error)
	StreamChatComplete(ctx context.Context, messages []llms.Message, opts gateway.CallOptions) (*gateway.StreamResult, error)
	Roster() gateway.Roster
}

// Meta is the pre-stream frame identifying the conversation.
type Meta struct {
	ConversationID string `json:"conversation_id"`
	IsNew          bool   `json:"is_new"`
	Title          string `json:"title"`
}

// Token is one streamed frame of the assistant reply. The final frame has
// empty content and done=true.
type Token struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Streamer runs conversational turns: it persists the user message, streams
// the model reply, and persists whatever the stream produced.
type Streamer struct {
	store     *store.Store
	assembler *Assembler
	gw        Gateway
	now       func() time.Time
}

func NewStreamer(st *store.Store, asm *Assembler, gw Gateway) *Streamer {
	return &Streamer{store: st, assembler: asm, gw: gw, now: time.Now}
}

// Stream handles one streamed turn. An empty conversationID opens a fresh
// conversation titled after the utterance. The user message commits before
// the model call; the assistant message commits after the stream drains, on
// a fresh context so a dropped client cannot lose the reply.
func (s *Streamer) Stream(ctx context.Context, conversationID, message string) (*Meta, <-chan Token, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, nil, ErrEmptyMessage
	}

	conv, isNew, err := s.resolveConversation(ctx, conversationID, message)
	if err != nil {
		return nil, nil, err
	}

	history, err := s.history(ctx, conv.ID)
	if err != nil {
		slog.Warn("history load failed", "conversation_id", conv.ID, "error", err)
	}

	if _, err := s.store.AppendMessage(ctx, conv.ID, "user", message); err != nil {
		return nil, nil, fmt.Errorf("persisting user message: %w", err)
	}

	messages := s.prompt(ctx, message, history)
	res, err := s.gw.StreamChatComplete(ctx, messages, gateway.CallOptions{
		TaskTag:     ledger.TaskChat,
		MaxTokens:   replyMaxTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Token, 16)
	go func() {
		defer close(out)
		var reply strings.Builder
		for chunk := range res.Chunks {
			switch chunk.Type {
			case llms.ChunkText:
				if chunk.Text == "" {
					continue
				}
				reply.WriteString(chunk.Text)
				select {
				case out <- Token{Content: chunk.Text}:
				case <-ctx.Done():
				}
			case llms.ChunkError:
				slog.Warn("chat stream failed mid-reply", "conversation_id", conv.ID, "error", chunk.Err)
				select {
				case out <- Token{Content: fmt.Sprintf("generation failed: %v", chunk.Err), Done: true}:
				case <-ctx.Done():
				}
				s.persistReply(conv.ID, reply.String())
				return
			case llms.ChunkDone:
			}
		}
		s.persistReply(conv.ID, reply.String())
		select {
		case out <- Token{Done: true}:
		case <-ctx.Done():
		}
	}()

	return &Meta{ConversationID: conv.ID, IsNew: isNew, Title: conv.Title}, out, nil
}

// HistoryPair is one prior exchange supplied by legacy stateless clients.
type HistoryPair struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message is the non-streaming, stateless turn: nothing is persisted and the
// caller supplies any history it wants replayed.
func (s *Streamer) Message(ctx context.Context, message string, history []HistoryPair) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	var prior []*store.ChatMessage
	for _, h := range history {
		prior = append(prior, &store.ChatMessage{Role: h.Role, Content: h.Content})
	}
	res, err := s.gw.ChatComplete(ctx, s.prompt(ctx, message, prior), gateway.CallOptions{
		Model:       s.gw.Roster().Smart,
		TaskTag:     ledger.TaskRAGQuery,
		MaxTokens:   replyMaxTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (s *Streamer) resolveConversation(ctx context.Context, id, message string) (*store.ChatConversation, bool, error) {
	if id == "" {
		conv, err := s.store.CreateConversation(ctx, conversationTitle(message))
		if err != nil {
			return nil, false, err
		}
		return conv, true, nil
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func (s *Streamer) history(ctx context.Context, conversationID string) ([]*store.ChatMessage, error) {
	prior, err := s.store.RecentMessages(ctx, conversationID, historyMessages)
	if err != nil {
		return nil, err
	}
	for _, m := range prior {
		m.Content = truncateRunes(m.Content, historyMessageRunes)
	}
	return prior, nil
}

// prompt builds the full message list: a terse system turn carrying only the
// wall clock and output rules, replayed history, and the context-laden user
// turn.
func (s *Streamer) prompt(ctx context.Context, message string, history []*store.ChatMessage) []llms.Message {
	now := s.now()
	blob := s.assembler.Assemble(ctx, message, now, len(history) > 0)

	system := fmt.Sprintf(`你是个人生活数据分析助手，根据用户的历史生活记录回答问题。
当前时间：%s
规则：
1. 只基于提供的记录回答，没有相关记录就直说
2. 回答简洁、有洞察力
3. 发现模式时可以给出建议
4. 用中文回答`, now.In(s.assembler.loc).Format("2006-01-02 15:04"))

	messages := []llms.Message{llms.SystemMessage(system)}
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, llms.AssistantMessage(m.Content))
		default:
			messages = append(messages, llms.UserMessage(m.Content))
		}
	}

	user := message
	if blob != "" {
		user = blob + "\n\n用户问题：" + message
	}
	return append(messages, llms.UserMessage(user))
}

// persistReply commits the accumulated assistant text on a fresh context so
// client disconnects cannot drop it. Empty replies are not persisted.
func (s *Streamer) persistReply(conversationID, reply string) {
	if reply == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if _, err := s.store.AppendMessage(ctx, conversationID, "assistant", reply); err != nil {
		slog.Error("persisting assistant message failed", "conversation_id", conversationID, "error", err)
	}
}

func conversationTitle(message string) string {
	return truncateRunes(strings.TrimSpace(message), titleMaxRunes)
}
