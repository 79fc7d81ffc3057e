package services

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygen/internal/extract"
)

func TestCreateStoresFileAndDerivesTitle(t *testing.T) {
	env := newTestEnv(t, nil)

	doc := env.upload(t, "cell-biology_primer.txt", "some text")

	assert.NotZero(t, doc.ID)
	assert.Equal(t, "cell-biology_primer.txt", doc.OriginalName)
	assert.Equal(t, "cell biology primer", doc.Title)
	assert.False(t, doc.Content.Valid)

	data, err := os.ReadFile(doc.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, "some text", string(data))

	got, err := env.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.StoredPath, got.StoredPath)
	assert.Zero(t, got.PageCount)
}

func TestGetByIDUnknownDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.docs.GetByID(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsAllDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.upload(t, "a.txt", "alpha")
	b := env.upload(t, "b.txt", "beta")

	docs, err := env.docs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, []int64{docs[0].ID, docs[1].ID})
}

func TestEnsureContentExtractsOnceAndCaches(t *testing.T) {
	env := newTestEnv(t, nil)
	doc := env.upload(t, "biology.txt", bioSource)

	text, err := env.docs.EnsureContent(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, bioSource, text)
	assert.True(t, doc.Content.Valid)
	assert.Equal(t, 1, doc.PageCount)

	// The cached copy must survive the stored file going away.
	require.NoError(t, os.Remove(doc.StoredPath))

	fresh, err := env.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Content.Valid)

	text, err = env.docs.EnsureContent(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, bioSource, text)
}

func TestEnsureContentRejectsTinyFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	doc := env.upload(t, "tiny.txt", "hi")

	_, err := env.docs.EnsureContent(context.Background(), doc)
	require.ErrorIs(t, err, extract.ErrNoUsableText)
}

func TestTitleFromFilename(t *testing.T) {
	cases := map[string]string{
		"cell-biology_primer.pdf":  "cell biology primer",
		"Budget Report 2024.docx":  "Budget Report 2024",
		"notes.txt":                "notes",
		"/uploads/deep/my_file.md": "my file",
		"___.txt":                  "Untitled document",
		"":                         "Untitled document",
	}
	for name, want := range cases {
		assert.Equal(t, want, titleFromFilename(name), "filename %q", name)
	}
}
