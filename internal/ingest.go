package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"slideshow/internal/photo"
	"slideshow/internal/storage"
)

const (
	MaxCommentLength = 500
	nameAttempts     = 5
	nameLayout       = "2006-01-02T15_04_05.000000"
)

var (
	ErrNoImage        = errors.New("please choose a photo to upload")
	ErrCommentTooLong = fmt.Errorf("comment is longer than %d characters", MaxCommentLength)
	errNamesExhausted = errors.New("could not find a free storage name")
)

// Upload is one guest submission.
type Upload struct {
	Comment string
	Image   []byte
}

// ItemWriter is the write access ingestion needs.
type ItemWriter interface {
	Insert(ctx context.Context, item *storage.Item) error
}

// Ingestor turns uploads into stored items and announces them on the live
// channel.
type Ingestor struct {
	store     ItemWriter
	publisher Publisher
	imageDir  string
	imageURL  func(name string) string
	maxDim    int
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

type IngestorOption func(*Ingestor)

// WithMaxDimension bounds the longest edge of stored images. Zero keeps the
// uploaded size.
func WithMaxDimension(maxDim int) IngestorOption {
	return func(i *Ingestor) {
		i.maxDim = maxDim
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		i.now = now
	}
}

// WithNameSuffix overrides the storage name disambiguator.
func WithNameSuffix(newID func() string) IngestorOption {
	return func(i *Ingestor) {
		i.newID = newID
	}
}

func WithIngestLogger(logger *slog.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func NewIngestor(store ItemWriter, publisher Publisher, imageDir string, imageURL func(string) string, opts ...IngestorOption) *Ingestor {
	ing := &Ingestor{
		store:     store,
		publisher: publisher,
		imageDir:  imageDir,
		imageURL:  imageURL,
		now:       time.Now,
		newID:     func() string { return uuid.NewString()[:8] },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	ing.logger = ing.logger.With("component", "ingest")
	return ing
}

// ImageDir is where stored image bytes live.
func (ing *Ingestor) ImageDir() string {
	return ing.imageDir
}

// Ingest normalizes the image, stores it under a fresh name, records the
// item and publishes a new_image event. On error nothing is left behind and
// nothing is published.
func (ing *Ingestor) Ingest(ctx context.Context, upload Upload) (storage.Item, error) {
	if len(upload.Image) == 0 {
		return storage.Item{}, &IngestError{Kind: KindInvalid, Err: ErrNoImage}
	}
	if utf8.RuneCountInString(upload.Comment) > MaxCommentLength {
		return storage.Item{}, &IngestError{Kind: KindInvalid, Err: ErrCommentTooLong}
	}

	normalized, err := photo.Normalize(upload.Image)
	if err != nil {
		return storage.Item{}, &IngestError{Kind: KindDecode, Err: err}
	}
	normalized, err = photo.Fit(normalized, ing.maxDim)
	if err != nil {
		return storage.Item{}, &IngestError{Kind: KindDecode, Err: err}
	}

	tmpPath, err := ing.writeTemp(normalized.Data)
	if err != nil {
		return storage.Item{}, &IngestError{Kind: KindStore, Err: err}
	}
	defer os.Remove(tmpPath)

	timestamp := ing.now()
	for attempt := 0; attempt < nameAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return storage.Item{}, &IngestError{Kind: KindStore, Err: err}
		}
		name := storageName(timestamp, ing.newID(), normalized.Ext())
		path := filepath.Join(ing.imageDir, name)

		// a hard link fails when the name exists, unlike rename.
		if err := os.Link(tmpPath, path); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return storage.Item{}, &IngestError{Kind: KindStore, Err: fmt.Errorf("place image: %w", err)}
		}

		item := storage.Item{Timestamp: timestamp, Comment: upload.Comment, Name: name}
		if err := ing.store.Insert(ctx, &item); err != nil {
			_ = os.Remove(path)
			if errors.Is(err, storage.ErrNameTaken) {
				continue
			}
			return storage.Item{}, &IngestError{Kind: KindStore, Err: err}
		}

		ing.logger.Info("photo ingested",
			"name", name,
			"bytes", len(normalized.Data),
			"orientation", int(normalized.Applied),
			"width", normalized.Width,
			"height", normalized.Height,
		)
		ing.publisher.Publish(EventNewImage, NewImagePayload{
			Filename: ing.imageURL(name),
			Comment:  upload.Comment,
		})
		return item, nil
	}
	return storage.Item{}, &IngestError{Kind: KindStore, Err: errNamesExhausted}
}

func (ing *Ingestor) writeTemp(data []byte) (string, error) {
	tmp, err := os.CreateTemp(ing.imageDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp image: %w", err)
	}
	return tmp.Name(), nil
}

func storageName(ts time.Time, suffix, ext string) string {
	return ts.UTC().Format(nameLayout) + "-" + suffix + ext
}
