// internal/catalog/types.go
package catalog

// QuestionKind discriminates how a question is presented and answered.
type QuestionKind string

const (
	KindColor     QuestionKind = "color"
	KindCharacter QuestionKind = "character"
	KindText      QuestionKind = "text"
	KindYear      QuestionKind = "year"
)

// Media is a song reference that a question is asked about.
type Media struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	ReleaseYear *int   `json:"release_year,omitempty"`
	YoutubeID   string `json:"youtube_id"`
	SpotifyURI  string `json:"spotify_uri,omitempty"`
}

// Question is a single quiz question bound to a media entry.
type Question struct {
	ID         string       `json:"id"`
	Kind       QuestionKind `json:"kind"`
	PromptText string       `json:"prompt_text,omitempty"`
	ImageURL   string       `json:"image_url,omitempty"`
	MediaID    string       `json:"media_id"`
	Active     bool         `json:"active"`
}

// QuestionOption is one selectable answer for a question.
type QuestionOption struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct"`
}

// QuestionSet is a named, ordered selection of questions.
type QuestionSet struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	QuestionIDs []string `json:"question_ids"`
}

// SetInfo is the listing view of a question set.
type SetInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
}

// Blob is the persisted catalog layout: one JSON document holding everything.
// Writes are whole-document replace.
type Blob struct {
	Media     []Media          `json:"media"`
	Questions []Question       `json:"questions"`
	Options   []QuestionOption `json:"options"`
	Sets      []QuestionSet    `json:"sets"`
}

// Colors is the enumerated vocabulary color alternatives are normalized to.
var Colors = []string{
	"Red", "Green", "Blue", "Yellow", "Purple", "Gold", "Silver",
	"Pink", "Black", "White", "Brown", "Orange", "Gray",
}
