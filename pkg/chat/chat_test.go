package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibingu/vibingu/pkg/gateway"
	"github.com/vibingu/vibingu/pkg/ledger"
	"github.com/vibingu/vibingu/pkg/llms"
	"github.com/vibingu/vibingu/pkg/store"
	"github.com/vibingu/vibingu/pkg/vector"
)

type fakeGateway struct {
	chunks       []llms.StreamChunk
	streamErr    error
	chatRes      *gateway.Result
	chatErr      error
	lastMessages []llms.Message
	lastOpts     gateway.CallOptions
	onStream     func()
}

func (f *fakeGateway) Roster() gateway.Roster {
	return gateway.Roster{Smart: "smart-model", TextFlash: "flash-model"}
}

func (f *fakeGateway) ChatComplete(_ context.Context, msgs []llms.Message, opts gateway.CallOptions) (*gateway.Result, error) {
	f.lastMessages, f.lastOpts = msgs, opts
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatRes, nil
}

func (f *fakeGateway) StreamChatComplete(_ context.Context, msgs []llms.Message, opts gateway.CallOptions) (*gateway.StreamResult, error) {
	f.lastMessages, f.lastOpts = msgs, opts
	if f.onStream != nil {
		f.onStream()
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan llms.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return &gateway.StreamResult{Model: "smart-model", Chunks: ch}, nil
}

type fakeSearcher struct {
	hits      []vector.SearchHit
	err       error
	lastQuery string
	lastTopK  int
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int, _ string) ([]vector.SearchHit, error) {
	f.lastQuery, f.lastTopK = query, topK
	return f.hits, f.err
}

type chatFixture struct {
	st     *store.Store
	gw     *fakeGateway
	search *fakeSearcher
	asm    *Assembler
	str    *Streamer
}

// 14:30 Beijing time on 2026-03-10.
var chatNow = time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	st, err := store.New(db, "sqlite3")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &chatFixture{
		st:     st,
		gw:     &fakeGateway{chunks: []llms.StreamChunk{{Type: llms.ChunkDone}}},
		search: &fakeSearcher{},
	}
	f.asm = NewAssembler(st, f.search)
	f.str = NewStreamer(st, f.asm, f.gw)
	f.str.now = func() time.Time { return chatNow }
	return f
}

func (f *chatFixture) seedRecord(t *testing.T, category, content string, recordTime time.Time, dims map[string]int, meta map[string]any) *store.LifeRecord {
	t.Helper()
	rec := &store.LifeRecord{
		RawContent: content,
		Content:    content,
		Category:   category,
		Dimensions: dims,
		MetaData:   meta,
		InputType:  store.InputText,
		RecordTime: recordTime,
	}
	require.NoError(t, f.st.CreateRecord(context.Background(), rec))
	return rec
}

func drain(t *testing.T, ch <-chan Token) []Token {
	t.Helper()
	var out []Token
	deadline := time.After(2 * time.Second)
	for {
		select {
		case tok, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, tok)
		case <-deadline:
			t.Fatal("stream did not finish")
		}
	}
}

func TestAssemble_OverviewAndToday(t *testing.T) {
	f := newChatFixture(t)
	f.seedRecord(t, store.CategoryActivity, "晨跑5公里", chatNow.Add(-5*time.Hour), map[string]int{"body": 80}, nil)
	f.seedRecord(t, store.CategoryDiet, "午餐吃了沙拉", chatNow.Add(-1*time.Hour), nil, nil)
	f.seedRecord(t, store.CategoryWork, "写周报", chatNow.AddDate(0, 0, -3), nil, nil)

	blob := f.asm.Assemble(context.Background(), "今天状态怎么样", chatNow, false)

	assert.Contains(t, blob, "【数据概览】共 3 条记录，最近7天 3 条")
	assert.Contains(t, blob, "【今日记录】2 条")
	assert.Contains(t, blob, "[运动] 晨跑5公里")
	assert.Contains(t, blob, "[饮食] 午餐吃了沙拉")
	assert.NotContains(t, blob, "写周报")
}

func TestAssemble_KeywordRouting(t *testing.T) {
	f := newChatFixture(t)
	f.seedRecord(t, store.CategorySleep, "睡得不错", chatNow.AddDate(0, 0, -1),
		map[string]int{"body": 85}, map[string]any{"duration_hours": 7.5, "quality": "good"})

	blob := f.asm.Assemble(context.Background(), "最近睡眠怎么样", chatNow, false)
	assert.Contains(t, blob, "【睡眠】最近14天 1 条记录")
	assert.Contains(t, blob, "时长7.5小时")
	assert.Contains(t, blob, "质量good")

	blob = f.asm.Assemble(context.Background(), "随便聊聊", chatNow, false)
	assert.NotContains(t, blob, "【睡眠】")
	assert.Contains(t, blob, "【数据概览】")
}

func TestAssemble_SemanticBlock(t *testing.T) {
	f := newChatFixture(t)
	f.search.hits = []vector.SearchHit{
		{RecordID: "r1", Document: "时间: 23:00\n内容: 早睡", Category: store.CategorySleep, Date: "2026-03-08"},
		{RecordID: "r2", Document: "内容: 晚睡", Category: store.CategorySleep, Date: "2026-03-07"},
	}

	blob := f.asm.Assemble(context.Background(), "我一般几点睡", chatNow, false)

	assert.Contains(t, blob, "[semantic 1] (2026-03-08 SLEEP) 时间: 23:00 内容: 早睡")
	assert.Contains(t, blob, "[semantic 2] (2026-03-07 SLEEP)")
	assert.Equal(t, "我一般几点睡", f.search.lastQuery)
	assert.Equal(t, semanticTopK, f.search.lastTopK)
}

func TestAssemble_SearchFailureTolerated(t *testing.T) {
	f := newChatFixture(t)
	f.search.err = errors.New("collection offline")

	blob := f.asm.Assemble(context.Background(), "你好", chatNow, false)
	assert.Contains(t, blob, "【数据概览】")
	assert.NotContains(t, blob, "semantic")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "短句", truncateRunes("短句", 10))
	got := truncateRunes(strings.Repeat("长", 40), 30)
	assert.Equal(t, 30, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestStream_NewConversation(t *testing.T) {
	f := newChatFixture(t)
	f.gw.chunks = []llms.StreamChunk{
		{Type: llms.ChunkText, Text: "你"},
		{Type: llms.ChunkText, Text: "好"},
		{Type: llms.ChunkDone},
	}
	userPersistedFirst := false
	f.gw.onStream = func() {
		convs, err := f.st.ListConversations(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		msgs, err := f.st.Messages(context.Background(), convs[0].ID)
		require.NoError(t, err)
		userPersistedFirst = len(msgs) == 1 && msgs[0].Role == "user"
	}

	meta, ch, err := f.str.Stream(context.Background(), "", "今天状态怎么样？")
	require.NoError(t, err)
	assert.True(t, meta.IsNew)
	assert.Equal(t, "今天状态怎么样？", meta.Title)

	tokens := drain(t, ch)
	require.Len(t, tokens, 3)
	assert.Equal(t, Token{Content: "你"}, tokens[0])
	assert.Equal(t, Token{Content: "好"}, tokens[1])
	assert.Equal(t, Token{Done: true}, tokens[2])
	assert.True(t, userPersistedFirst)

	msgs, err := f.st.Messages(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "今天状态怎么样？", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "你好", msgs[1].Content)

	assert.Equal(t, ledger.TaskChat, f.gw.lastOpts.TaskTag)
	assert.Equal(t, replyMaxTokens, f.gw.lastOpts.MaxTokens)
	assert.InDelta(t, replyTemperature, f.gw.lastOpts.Temperature, 0.001)
}

func TestStream_TitleTruncated(t *testing.T) {
	f := newChatFixture(t)
	long := strings.Repeat("问", 40)
	meta, ch, err := f.str.Stream(context.Background(), "", long)
	require.NoError(t, err)
	drain(t, ch)

	assert.Equal(t, titleMaxRunes, len([]rune(meta.Title)))
	assert.True(t, strings.HasSuffix(meta.Title, "…"))

	conv, err := f.st.GetConversation(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, meta.Title, conv.Title)
}

func TestStream_HistoryReplayedAndTruncated(t *testing.T) {
	f := newChatFixture(t)
	conv, err := f.st.CreateConversation(context.Background(), "旧对话")
	require.NoError(t, err)
	for i, content := range []string{"u1", "a1", "u2", "a2", "u3", "a3", "u4", strings.Repeat("长", 400)} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := f.st.AppendMessage(context.Background(), conv.ID, role, content)
		require.NoError(t, err)
	}

	meta, ch, err := f.str.Stream(context.Background(), conv.ID, "继续")
	require.NoError(t, err)
	drain(t, ch)
	assert.False(t, meta.IsNew)

	// system + six replayed turns + the context-laden user turn.
	require.Len(t, f.gw.lastMessages, 8)
	assert.Equal(t, "system", f.gw.lastMessages[0].Role)
	assert.Contains(t, f.gw.lastMessages[0].Text, "当前时间：2026-03-10 14:30")

	assert.Equal(t, "u2", f.gw.lastMessages[1].Text)
	assert.Equal(t, "a2", f.gw.lastMessages[2].Text)
	assert.Equal(t, "u4", f.gw.lastMessages[5].Text)
	replayed := f.gw.lastMessages[6].Text
	assert.Equal(t, historyMessageRunes, len([]rune(replayed)))
	assert.True(t, strings.HasSuffix(replayed, "…"))

	final := f.gw.lastMessages[7]
	assert.Equal(t, "user", final.Role)
	assert.Contains(t, final.Text, "用户问题：继续")
}

func TestStream_MidStreamError(t *testing.T) {
	f := newChatFixture(t)
	f.gw.chunks = []llms.StreamChunk{
		{Type: llms.ChunkText, Text: "部分回答"},
		{Type: llms.ChunkError, Err: errors.New("upstream reset")},
	}

	meta, ch, err := f.str.Stream(context.Background(), "", "问题")
	require.NoError(t, err)
	tokens := drain(t, ch)

	require.Len(t, tokens, 2)
	assert.Equal(t, Token{Content: "部分回答"}, tokens[0])
	assert.True(t, tokens[1].Done)
	assert.Contains(t, tokens[1].Content, "generation failed: upstream reset")

	// The partial accumulation is still worth keeping.
	msgs, err := f.st.Messages(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "部分回答", msgs[1].Content)
}

func TestStream_EmptyReplyNotPersisted(t *testing.T) {
	f := newChatFixture(t)
	f.gw.chunks = []llms.StreamChunk{{Type: llms.ChunkDone}}

	meta, ch, err := f.str.Stream(context.Background(), "", "问题")
	require.NoError(t, err)
	drain(t, ch)

	msgs, err := f.st.Messages(context.Background(), meta.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestStream_BadInput(t *testing.T) {
	f := newChatFixture(t)

	_, _, err := f.str.Stream(context.Background(), "", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, _, err = f.str.Stream(context.Background(), "no-such-conversation", "问题")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStream_GatewayErrorKeepsUserMessage(t *testing.T) {
	f := newChatFixture(t)
	f.gw.streamErr = errors.New("no api key")

	_, _, err := f.str.Stream(context.Background(), "", "问题")
	require.Error(t, err)

	convs, err := f.st.ListConversations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := f.st.Messages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestMessage_Stateless(t *testing.T) {
	f := newChatFixture(t)
	f.gw.chatRes = &gateway.Result{Content: "根据记录，你最近状态不错。", Model: "smart-model"}

	reply, err := f.str.Message(context.Background(), "最近怎么样", []HistoryPair{
		{Role: "user", Content: "你好"},
		{Role: "assistant", Content: "你好，有什么可以帮你？"},
	})
	require.NoError(t, err)
	assert.Equal(t, "根据记录，你最近状态不错。", reply)

	assert.Equal(t, "smart-model", f.gw.lastOpts.Model)
	assert.Equal(t, ledger.TaskRAGQuery, f.gw.lastOpts.TaskTag)
	require.Len(t, f.gw.lastMessages, 4)
	assert.Equal(t, "你好", f.gw.lastMessages[1].Text)
	assert.Equal(t, "assistant", f.gw.lastMessages[2].Role)

	// Nothing touched the conversation store.
	convs, err := f.st.ListConversations(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, convs)
}
