// internal/catalog/catalog_test.go
package catalog

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlob() Blob {
	return Blob{
		Media: []Media{
			{ID: "m1", Title: "Song One", Artist: "Artist A", YoutubeID: "yt1"},
			{ID: "m2", Title: "Song Two", Artist: "Artist B", YoutubeID: "yt2"},
		},
		Questions: []Question{
			{ID: "q-color", Kind: KindColor, MediaID: "m1", Active: true},
			{ID: "q-char", Kind: KindCharacter, MediaID: "m2", Active: true},
			{ID: "q-text", Kind: KindText, MediaID: "m2", Active: true},
			{ID: "q-text-2", Kind: KindText, MediaID: "m1", Active: true},
			{ID: "q-inactive", Kind: KindText, MediaID: "m1", Active: false},
		},
		Options: []QuestionOption{
			{ID: "o1", QuestionID: "q-color", Text: "red", IsCorrect: true},
			{ID: "o2", QuestionID: "q-color", Text: "Blue", IsCorrect: false},

			{ID: "c1", QuestionID: "q-char", Text: "Mario", IsCorrect: true},
			{ID: "c2", QuestionID: "q-char", Text: "Luigi", IsCorrect: false},
			{ID: "c3", QuestionID: "q-char", Text: "Peach", IsCorrect: false},
			{ID: "c4", QuestionID: "q-char", Text: "Bowser", IsCorrect: false},
			{ID: "c5", QuestionID: "q-char", Text: "Toad", IsCorrect: false},
			{ID: "c6", QuestionID: "q-char", Text: "Yoshi", IsCorrect: false},

			{ID: "t1", QuestionID: "q-text", Text: "Answer A", IsCorrect: true},
			{ID: "t2", QuestionID: "q-text", Text: "Wrong B", IsCorrect: false},
			{ID: "t3", QuestionID: "q-text-2", Text: "Other C", IsCorrect: true},
			{ID: "t4", QuestionID: "q-text-2", Text: "Other D", IsCorrect: false},
			{ID: "t5", QuestionID: "q-inactive", Text: "Dead", IsCorrect: true},
		},
		Sets: []QuestionSet{
			{ID: "s1", Name: "First Set", QuestionIDs: []string{"q-color", "q-char"}},
			{ID: "s2", Name: "Texts", QuestionIDs: []string{"q-text", "q-text-2", "q-inactive"}},
		},
	}
}

func TestFromBlobValidation(t *testing.T) {
	_, err := FromBlob(testBlob())
	require.NoError(t, err)

	t.Run("no correct option", func(t *testing.T) {
		blob := testBlob()
		blob.Options[0].IsCorrect = false
		_, err := FromBlob(blob)
		require.ErrorIs(t, err, ErrInvalidCatalog)
	})

	t.Run("character question must have 6 options", func(t *testing.T) {
		blob := testBlob()
		blob.Options = blob.Options[:7] // drop one character option
		_, err := FromBlob(blob)
		require.ErrorIs(t, err, ErrInvalidCatalog)
	})

	t.Run("option referencing unknown question", func(t *testing.T) {
		blob := testBlob()
		blob.Options = append(blob.Options, QuestionOption{ID: "x", QuestionID: "nope", Text: "t", IsCorrect: true})
		_, err := FromBlob(blob)
		require.ErrorIs(t, err, ErrInvalidCatalog)
	})

	t.Run("set referencing unknown question", func(t *testing.T) {
		blob := testBlob()
		blob.Sets[0].QuestionIDs = append(blob.Sets[0].QuestionIDs, "nope")
		_, err := FromBlob(blob)
		require.ErrorIs(t, err, ErrInvalidCatalog)
	})
}

func TestLookup(t *testing.T) {
	snap, err := FromBlob(testBlob())
	require.NoError(t, err)

	q, err := snap.QuestionByID("q-color")
	require.NoError(t, err)
	assert.Equal(t, KindColor, q.Kind)

	_, err = snap.QuestionByID("missing")
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	opts, err := snap.OptionsFor("q-char")
	require.NoError(t, err)
	require.Len(t, opts, 6)
	assert.Equal(t, "Mario", opts[0].Text)

	correct, err := snap.CorrectOptions("q-color")
	require.NoError(t, err)
	// Color corrects are normalized to the vocabulary.
	assert.Equal(t, []string{"Red"}, correct)
}

func TestListSets(t *testing.T) {
	snap, err := FromBlob(testBlob())
	require.NoError(t, err)

	sets := snap.ListSets()
	require.Len(t, sets, 2)
	assert.Equal(t, SetInfo{ID: "s1", Name: "First Set", QuestionCount: 2}, sets[0])
	assert.Equal(t, 3, sets[1].QuestionCount)
}

func TestRandomOrder(t *testing.T) {
	snap, err := FromBlob(testBlob())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	t.Run("whole catalog skips inactive", func(t *testing.T) {
		order, err := snap.RandomOrder("", rng)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"q-color", "q-char", "q-text", "q-text-2"}, order)
	})

	t.Run("set order skips inactive", func(t *testing.T) {
		order, err := snap.RandomOrder("s2", rng)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"q-text", "q-text-2"}, order)
	})

	t.Run("unknown set", func(t *testing.T) {
		_, err := snap.RandomOrder("nope", rng)
		assert.ErrorIs(t, err, ErrSetNotFound)
	})
}

func TestSampleAlternatives(t *testing.T) {
	snap, err := FromBlob(testBlob())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(42))

	t.Run("character question uses its own options", func(t *testing.T) {
		alts, err := snap.SampleAlternatives("q-char", 6, rng)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"Mario", "Luigi", "Peach", "Bowser", "Toad", "Yoshi"}, alts)
	})

	t.Run("color question pads from the vocabulary", func(t *testing.T) {
		alts, err := snap.SampleAlternatives("q-color", 6, rng)
		require.NoError(t, err)
		require.Len(t, alts, 6)
		assert.Contains(t, alts, "Red") // correct, normalized from "red"
		seen := map[string]bool{}
		for _, a := range alts {
			assert.Contains(t, Colors, a, "color alternatives stay in the vocabulary")
			assert.False(t, seen[a], "no duplicate alternatives")
			seen[a] = true
		}
	})

	t.Run("text question pads from same-kind distractors", func(t *testing.T) {
		alts, err := snap.SampleAlternatives("q-text", 4, rng)
		require.NoError(t, err)
		assert.Contains(t, alts, "Answer A")
		assert.Contains(t, alts, "Wrong B")
		assert.LessOrEqual(t, len(alts), 4)
		for _, a := range alts {
			assert.NotEqual(t, "", a)
		}
	})

	t.Run("unknown question", func(t *testing.T) {
		_, err := snap.SampleAlternatives("missing", 6, rng)
		assert.ErrorIs(t, err, ErrQuestionNotFound)
	})
}

func TestNormalizeColor(t *testing.T) {
	assert.Equal(t, "Red", NormalizeColor(" red "))
	assert.Equal(t, "Gray", NormalizeColor("grey"))
	assert.Equal(t, "Gold", NormalizeColor("GOLD"))
	assert.Equal(t, "", NormalizeColor("chartreuse"))
}

func TestHolderSwapKeepsOldSnapshot(t *testing.T) {
	first, err := FromBlob(testBlob())
	require.NoError(t, err)
	holder := NewHolder(first)

	captured := holder.Get()

	blob := testBlob()
	blob.Sets = blob.Sets[:1]
	second, err := FromBlob(blob)
	require.NoError(t, err)
	holder.Swap(second)

	assert.Same(t, second, holder.Get())
	assert.Len(t, captured.ListSets(), 2, "captured snapshot is unaffected by the swap")
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "questions.json")
	store := NewFileStore(path)

	raw, err := json.Marshal(testBlob())
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), raw))

	got, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(got))

	// Save is whole-file replace.
	require.NoError(t, store.Save(t.Context(), []byte(`{"media":[],"questions":[],"options":[],"sets":[]}`)))
	got, err = store.Load(t.Context())
	require.NoError(t, err)
	assert.NotContains(t, string(got), "q-color")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
