// internal/catalog/catalog.go
//
// The catalog is loaded once from a blob source and is immutable afterwards.
// Reload replaces the whole snapshot behind a Holder; lobbies keep the
// snapshot pointer they started with, so a mid-game reload never changes a
// running quiz.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

var (
	// ErrQuestionNotFound is returned when a question id is not in the snapshot.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrSetNotFound is returned when a question-set id is not in the snapshot.
	ErrSetNotFound = errors.New("question set not found")
	// ErrInvalidCatalog wraps all blob validation failures.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// Snapshot is an immutable, indexed view of one loaded catalog blob.
type Snapshot struct {
	blob      Blob
	questions map[string]*Question
	options   map[string][]QuestionOption // question id -> ordered options
	sets      map[string]*QuestionSet
	media     map[string]*Media
}

// New parses and validates a catalog blob, returning an indexed snapshot.
func New(raw []byte) (*Snapshot, error) {
	var blob Blob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return FromBlob(blob)
}

// FromBlob validates an already-decoded blob and returns an indexed snapshot.
func FromBlob(blob Blob) (*Snapshot, error) {
	s := &Snapshot{
		blob:      blob,
		questions: make(map[string]*Question, len(blob.Questions)),
		options:   make(map[string][]QuestionOption, len(blob.Questions)),
		sets:      make(map[string]*QuestionSet, len(blob.Sets)),
		media:     make(map[string]*Media, len(blob.Media)),
	}
	for i := range blob.Media {
		m := &blob.Media[i]
		s.media[m.ID] = m
	}
	for i := range blob.Questions {
		q := &blob.Questions[i]
		if q.ID == "" {
			return nil, fmt.Errorf("%w: question %d has empty id", ErrInvalidCatalog, i)
		}
		if _, dup := s.questions[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidCatalog, q.ID)
		}
		s.questions[q.ID] = q
	}
	for _, opt := range blob.Options {
		if _, ok := s.questions[opt.QuestionID]; !ok {
			return nil, fmt.Errorf("%w: option %q references unknown question %q", ErrInvalidCatalog, opt.ID, opt.QuestionID)
		}
		s.options[opt.QuestionID] = append(s.options[opt.QuestionID], opt)
	}
	for i := range blob.Sets {
		set := &blob.Sets[i]
		for _, qid := range set.QuestionIDs {
			if _, ok := s.questions[qid]; !ok {
				return nil, fmt.Errorf("%w: set %q references unknown question %q", ErrInvalidCatalog, set.ID, qid)
			}
		}
		s.sets[set.ID] = set
	}
	for id, q := range s.questions {
		opts := s.options[id]
		correct := 0
		for _, o := range opts {
			if o.IsCorrect {
				correct++
			}
		}
		if correct == 0 {
			return nil, fmt.Errorf("%w: question %q has no correct option", ErrInvalidCatalog, id)
		}
		if q.Kind == KindCharacter && (len(opts) != 6 || correct != 1) {
			return nil, fmt.Errorf("%w: character question %q must have 6 options with exactly 1 correct", ErrInvalidCatalog, id)
		}
	}
	return s, nil
}

// Blob returns the underlying blob, e.g. for re-serialization by the admin API.
func (s *Snapshot) Blob() Blob { return s.blob }

// QuestionByID looks up a question by id.
func (s *Snapshot) QuestionByID(id string) (*Question, error) {
	q, ok := s.questions[id]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	return q, nil
}

// MediaByID looks up the media entry a question points at.
func (s *Snapshot) MediaByID(id string) (*Media, bool) {
	m, ok := s.media[id]
	return m, ok
}

// OptionsFor returns the ordered options of a question.
func (s *Snapshot) OptionsFor(questionID string) ([]QuestionOption, error) {
	if _, ok := s.questions[questionID]; !ok {
		return nil, ErrQuestionNotFound
	}
	return s.options[questionID], nil
}

// CorrectOptions returns the texts of the correct options of a question,
// normalized for color questions.
func (s *Snapshot) CorrectOptions(questionID string) ([]string, error) {
	q, ok := s.questions[questionID]
	if !ok {
		return nil, ErrQuestionNotFound
	}
	var out []string
	for _, o := range s.options[questionID] {
		if !o.IsCorrect {
			continue
		}
		text := o.Text
		if q.Kind == KindColor {
			if c := NormalizeColor(text); c != "" {
				text = c
			}
		}
		out = append(out, text)
	}
	return out, nil
}

// ListSets returns the listing view of all sets, in blob order.
func (s *Snapshot) ListSets() []SetInfo {
	out := make([]SetInfo, 0, len(s.blob.Sets))
	for _, set := range s.blob.Sets {
		out = append(out, SetInfo{ID: set.ID, Name: set.Name, QuestionCount: len(set.QuestionIDs)})
	}
	return out
}

// RandomOrder returns a random permutation of the playable (active) question
// ids of the given set, or of the whole catalog when setID is empty.
func (s *Snapshot) RandomOrder(setID string, rng *rand.Rand) ([]string, error) {
	var ids []string
	if setID == "" {
		for _, q := range s.blob.Questions {
			if q.Active {
				ids = append(ids, q.ID)
			}
		}
	} else {
		set, ok := s.sets[setID]
		if !ok {
			return nil, ErrSetNotFound
		}
		for _, qid := range set.QuestionIDs {
			if s.questions[qid].Active {
				ids = append(ids, qid)
			}
		}
	}
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids, nil
}

// SampleAlternatives builds the displayed alternatives for a round: every
// correct option (up to total), padded with the question's own distractors,
// then with distractors of the same kind with disjoint text. Color questions
// draw padding from the color vocabulary instead. The result is a
// Fisher-Yates permutation.
func (s *Snapshot) SampleAlternatives(questionID string, total int, rng *rand.Rand) ([]string, error) {
	q, ok := s.questions[questionID]
	if !ok {
		return nil, ErrQuestionNotFound
	}

	seen := make(map[string]bool)
	var out []string
	add := func(text string) {
		if q.Kind == KindColor {
			if c := NormalizeColor(text); c != "" {
				text = c
			}
		}
		key := strings.ToLower(strings.TrimSpace(text))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, text)
	}

	for _, o := range s.options[questionID] {
		if o.IsCorrect && len(out) < total {
			add(o.Text)
		}
	}
	for _, o := range s.options[questionID] {
		if !o.IsCorrect && len(out) < total {
			add(o.Text)
		}
	}

	if len(out) < total {
		if q.Kind == KindColor {
			pool := make([]string, len(Colors))
			copy(pool, Colors)
			rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
			for _, c := range pool {
				if len(out) >= total {
					break
				}
				add(c)
			}
		} else {
			pool := s.distractorPool(q)
			rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
			for _, text := range pool {
				if len(out) >= total {
					break
				}
				add(text)
			}
		}
	}

	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out, nil
}

// distractorPool gathers option texts from other questions of the same kind.
func (s *Snapshot) distractorPool(q *Question) []string {
	var pool []string
	for _, other := range s.blob.Questions {
		if other.ID == q.ID || other.Kind != q.Kind {
			continue
		}
		for _, o := range s.options[other.ID] {
			pool = append(pool, o.Text)
		}
	}
	return pool
}

// NormalizeColor maps free-form color text onto the enumerated vocabulary.
// Returns "" when the text is not a recognized color.
func NormalizeColor(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "grey" {
		t = "gray"
	}
	for _, c := range Colors {
		if strings.ToLower(c) == t {
			return c
		}
	}
	return ""
}

// Holder publishes the live snapshot and allows atomic replacement on reload.
type Holder struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewHolder wraps an initial snapshot.
func NewHolder(snap *Snapshot) *Holder {
	return &Holder{snap: snap}
}

// Get returns the current snapshot.
func (h *Holder) Get() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Swap replaces the live snapshot. In-flight lobbies keep their old pointer.
func (h *Holder) Swap(snap *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = snap
}
