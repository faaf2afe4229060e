package store

import "time"

// Life record categories.
const (
	CategorySleep    = "SLEEP"
	CategoryDiet     = "DIET"
	CategoryActivity = "ACTIVITY"
	CategoryScreen   = "SCREEN"
	CategoryMood     = "MOOD"
	CategorySocial   = "SOCIAL"
	CategoryWork     = "WORK"
	CategoryGrowth   = "GROWTH"
	CategoryLeisure  = "LEISURE"
)

// Categories lists every valid life record category.
var Categories = []string{
	CategorySleep, CategoryDiet, CategoryActivity, CategoryScreen,
	CategoryMood, CategorySocial, CategoryWork, CategoryGrowth, CategoryLeisure,
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Input types, by how the record entered the system.
const (
	InputText       = "TEXT"
	InputImage      = "IMAGE"
	InputScreenshot = "SCREENSHOT"
)

// DimensionKeys are the eight life dimensions scored per record, 0-100.
var DimensionKeys = []string{
	"body", "mood", "social", "work", "growth", "meaning", "digital", "leisure",
}

// LifeRecord is one entry of the life stream.
type LifeRecord struct {
	ID            string         `json:"id"`
	RawContent    string         `json:"raw_content"`
	Content       string         `json:"content"`
	AIInsight     string         `json:"ai_insight"`
	Category      string         `json:"category"`
	SubCategories []string       `json:"sub_categories"`
	Tags          []string       `json:"tags"`
	Dimensions    map[string]int `json:"dimension_scores"`
	MetaData      map[string]any `json:"meta_data"`

	InputType     string `json:"input_type"`
	ImageType     string `json:"image_type,omitempty"`
	ImagePath     string `json:"image_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	ImageSaved    bool   `json:"image_saved"`

	RecordTime   time.Time `json:"record_time"`
	IsPublic     bool      `json:"is_public"`
	IsBookmarked bool      `json:"is_bookmarked"`
	IsDeleted    bool      `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatConversation groups chat messages under a title.
type ChatConversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one turn of a conversation. Role is "user" or "assistant".
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TagCount is a tag with its usage count, used for trending tags.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}
