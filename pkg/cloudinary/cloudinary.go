// Package cloudinary stores assignment prompt documents on Cloudinary and
// hands back the delivery URL that gets persisted on the assignment. Student
// work never goes through here; graded documents stay on the blobstore.
package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUnsupportedPromptType rejects prompt uploads that are not PDF documents.
var ErrUnsupportedPromptType = errors.New("prompt must be a PDF document")

// Config carries the Cloudinary credentials and the folder prompts land in.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// PromptStore implements the assignment service's FileUploader against
// Cloudinary. Prompts are delivered as raw assets so clients download the
// document as-is.
type PromptStore struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New validates the credentials and builds a PromptStore.
func New(cfg Config, logger zerolog.Logger) (*PromptStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	client, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &PromptStore{
		client: client,
		folder: cfg.Folder,
		logger: logger.With().Str("component", "prompt_store").Logger(),
	}, nil
}

// Upload sniffs the document, rejects anything that is not a PDF, and
// returns the secure delivery URL.
func (s *PromptStore) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	document, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read prompt document: %w", err)
	}
	if !mimetype.Detect(document).Is("application/pdf") {
		return "", ErrUnsupportedPromptType
	}

	publicID := promptID(name)
	params := uploader.UploadParams{
		Folder:       strings.Trim(s.folder, "/"),
		PublicID:     publicID,
		ResourceType: "raw",
	}

	result, err := s.client.Upload.Upload(ctx, bytes.NewReader(document), params)
	if err != nil {
		return "", fmt.Errorf("upload prompt document: %w", err)
	}

	s.logger.Info().
		Str("public_id", result.PublicID).
		Int("bytes", len(document)).
		Msg("assignment prompt uploaded")

	return result.SecureURL, nil
}

// promptID slugs the original filename and suffixes a short random tag so
// re-uploading a prompt with the same name never overwrites the old asset.
func promptID(name string) string {
	slug := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "prompt"
	}

	return slug + "-" + uuid.NewString()[:8]
}
