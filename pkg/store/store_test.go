package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	s, err := New(db, "sqlite3")
	require.NoError(t, err)
	return s
}

func TestNew_RejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, "oracle")
	assert.ErrorContains(t, err, "unsupported dialect")
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &LifeRecord{
		RawContent:    "午餐吃了鸡胸肉沙拉",
		Content:       "午餐吃了鸡胸肉沙拉",
		AIInsight:     "蛋白质摄入充足",
		Category:      CategoryDiet,
		SubCategories: []string{"BODY"},
		Tags:          []string{"#饮食/健康餐", "#time/noon"},
		Dimensions:    map[string]int{"body": 80, "mood": 60},
		MetaData:      map[string]any{"food_type": "healthy"},
		InputType:     InputText,
	}
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NotEmpty(t, rec.ID)

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, CategoryDiet, got.Category)
	assert.Equal(t, []string{"BODY"}, got.SubCategories)
	assert.Equal(t, []string{"#饮食/健康餐", "#time/noon"}, got.Tags)
	assert.Equal(t, map[string]int{"body": 80, "mood": 60}, got.Dimensions)
	assert.Equal(t, "healthy", got.MetaData["food_type"])
	assert.False(t, got.RecordTime.IsZero())
}

func TestGetRecord_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &LifeRecord{Content: "原始", Category: CategoryMood, InputType: InputText}
	require.NoError(t, s.CreateRecord(ctx, rec))

	rec.Content = "改写后"
	rec.AIInsight = "新的洞察"
	rec.Tags = []string{"#心情/平静"}
	rec.Dimensions = map[string]int{"mood": 70}
	require.NoError(t, s.UpdateRecord(ctx, rec))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "改写后", got.Content)
	assert.Equal(t, "新的洞察", got.AIInsight)
	assert.Equal(t, []string{"#心情/平静"}, got.Tags)
}

func TestSoftDeleteRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &LifeRecord{Content: "x", Category: CategoryMood, InputType: InputText}
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NoError(t, s.SoftDeleteRecord(ctx, rec.ID))

	_, err := s.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Second delete reports not found.
	assert.ErrorIs(t, s.SoftDeleteRecord(ctx, rec.ID), ErrNotFound)
}

func TestVisibilityAndBookmark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &LifeRecord{Content: "x", Category: CategoryMood, InputType: InputText}
	require.NoError(t, s.CreateRecord(ctx, rec))

	require.NoError(t, s.SetVisibility(ctx, rec.ID, true))
	require.NoError(t, s.SetBookmarked(ctx, rec.ID, true))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublic)
	assert.True(t, got.IsBookmarked)

	assert.ErrorIs(t, s.SetVisibility(ctx, "missing", true), ErrNotFound)
}

func TestHistoryPagingAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		cat := CategoryDiet
		if i%2 == 1 {
			cat = CategorySleep
		}
		rec := &LifeRecord{
			Content:    "记录",
			Category:   cat,
			InputType:  InputText,
			RecordTime: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	records, total, err := s.History(ctx, HistoryFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, records, 2)
	// Newest first.
	assert.True(t, records[0].RecordTime.After(records[1].RecordTime))

	records, total, err = s.History(ctx, HistoryFilter{Category: CategorySleep})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, records, 2)

	records, total, err = s.History(ctx, HistoryFilter{Date: base})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, records, 5)

	_, total, err = s.History(ctx, HistoryFilter{Date: base.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecordsBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-2 * time.Hour, time.Hour, 26 * time.Hour} {
		rec := &LifeRecord{
			Content:    "x",
			Category:   CategoryMood,
			InputType:  InputText,
			RecordTime: base.Add(offset),
		}
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	records, err := s.RecordsBetween(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, base.Add(time.Hour), records[0].RecordTime.UTC())
}

func TestTrendingTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tagSets := [][]string{
		{"#饮食/健康餐", "#time/noon"},
		{"#饮食/健康餐", "#运动/跑步"},
		{"#饮食/健康餐"},
		{"#运动/跑步"},
	}
	for _, tags := range tagSets {
		rec := &LifeRecord{
			Content:    "x",
			Category:   CategoryDiet,
			InputType:  InputText,
			Tags:       tags,
			RecordTime: now.Add(-time.Hour),
		}
		require.NoError(t, s.CreateRecord(ctx, rec))
	}

	// An old record outside the window must not count.
	old := &LifeRecord{
		Content: "x", Category: CategoryDiet, InputType: InputText,
		Tags: []string{"#饮食/健康餐"}, RecordTime: now.AddDate(0, 0, -30),
	}
	require.NoError(t, s.CreateRecord(ctx, old))

	trending, err := s.TrendingTags(ctx, now.AddDate(0, 0, -7), 2)
	require.NoError(t, err)
	require.Len(t, trending, 2)
	assert.Equal(t, TagCount{Tag: "#饮食/健康餐", Count: 3}, trending[0])
	assert.Equal(t, TagCount{Tag: "#运动/跑步", Count: 2}, trending[1])
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConversationTitle, conv.Title)

	_, err = s.AppendMessage(ctx, conv.ID, "user", "我今天睡得怎么样？")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "assistant", "你昨晚睡了7小时。")
	require.NoError(t, err)

	require.NoError(t, s.SetConversationTitle(ctx, conv.ID, "我今天睡得怎么样？"))

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)

	convs, err := s.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "我今天睡得怎么样？", convs[0].Title)

	require.NoError(t, s.SoftDeleteConversation(ctx, conv.ID))
	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	convs, err = s.ListConversations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestRecentMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "t")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		_, err := s.AppendMessage(ctx, conv.ID, role, string(rune('a'+i)))
		require.NoError(t, err)
	}

	msgs, err := s.RecentMessages(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Chronological order, covering the most recent three.
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "e", msgs[2].Content)
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	val, err := s.GetSetting(ctx, SettingNickname)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetSetting(ctx, SettingNickname, "小明"))
	require.NoError(t, s.SetSetting(ctx, SettingNickname, "小红"))

	val, err = s.GetSetting(ctx, SettingNickname)
	require.NoError(t, err)
	assert.Equal(t, "小红", val)
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory(CategorySleep))
	assert.False(t, ValidCategory("UNKNOWN"))
}
