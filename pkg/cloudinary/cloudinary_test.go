package cloudinary

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.New(io.Discard))
	require.Error(t, err)
}

func TestUploadRejectsNonPDFPrompt(t *testing.T) {
	// Validation happens before any network call, so no client is needed.
	store := &PromptStore{logger: zerolog.New(io.Discard)}

	_, err := store.Upload(context.Background(), "prompt.docx", bytes.NewReader([]byte("not a pdf")))
	require.ErrorIs(t, err, ErrUnsupportedPromptType)
}

func TestPromptIDSlugsFilename(t *testing.T) {
	id := promptID("Tugas Akhir (Final).pdf")
	require.True(t, strings.HasPrefix(id, "tugas-akhir--final-"), id)
	require.NotEqual(t, promptID("essay.pdf"), promptID("essay.pdf"))
}

func TestPromptIDFallsBackOnEmptySlug(t *testing.T) {
	id := promptID("!!!.pdf")
	require.True(t, strings.HasPrefix(id, "prompt-"), id)
}
