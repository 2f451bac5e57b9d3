// Package intake accepts uploaded documents and turns them into queued jobs.
package intake

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/findoc-analyzer/internal/apperr"
	"github.com/MimeLyc/findoc-analyzer/internal/config"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/pkg/file"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"github.com/google/uuid"
)

// MsgTooLarge is the message of a PayloadTooLarge rejection.
const MsgTooLarge = "File too large."

type Intake struct {
	store      jobs.Store
	dispatcher jobs.Dispatcher
	scratchDir string
	maxBytes   int64
	accepted   map[string]struct{}
	newID      func() string
}

func New(cfg config.Config, store jobs.Store, dispatcher jobs.Dispatcher) (*Intake, error) {
	if err := os.MkdirAll(cfg.Storage.ScratchDir, 0o755); err != nil {
		return nil, apperr.WrapError(err, apperr.ErrConfig, "failed to create scratch directory").
			WithContext("dir", cfg.Storage.ScratchDir)
	}
	accepted := make(map[string]struct{}, len(cfg.Intake.AcceptedContentTypes))
	for _, ct := range cfg.Intake.AcceptedContentTypes {
		accepted[normalizeContentType(ct)] = struct{}{}
	}
	return &Intake{
		store:      store,
		dispatcher: dispatcher,
		scratchDir: cfg.Storage.ScratchDir,
		maxBytes:   cfg.Intake.MaxUploadBytes,
		accepted:   accepted,
		newID:      uuid.NewString,
	}, nil
}

// MaxBytes is the largest accepted payload.
func (in *Intake) MaxBytes() int64 {
	return in.maxBytes
}

// Submit validates content, stores it as a scratch file, creates a queued job
// and only then dispatches it. It returns the job id.
func (in *Intake) Submit(ctx context.Context, content []byte, contentType, query string) (string, error) {
	if _, ok := in.accepted[normalizeContentType(contentType)]; !ok {
		return "", apperr.Newf(apperr.ErrUnsupportedType, "Unsupported file type: %s", contentType)
	}
	if int64(len(content)) > in.maxBytes {
		return "", apperr.New(apperr.ErrPayloadTooLarge, MsgTooLarge).
			WithContext("size", len(content)).
			WithContext("limit", in.maxBytes)
	}

	id := in.newID()
	path := filepath.Join(in.scratchDir, id+".pdf")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", apperr.WrapError(err, apperr.ErrPersistence, "failed to store upload").WithContext("path", path)
	}

	job := &jobs.Job{
		ID:       id,
		Query:    strings.TrimSpace(query),
		FilePath: path,
	}
	if err := in.store.Create(ctx, job); err != nil {
		if _, rmErr := file.RemoveIfExists(path); rmErr != nil {
			log.Warn("Failed to remove orphan upload %s: %v", path, rmErr)
		}
		return "", apperr.WrapError(err, apperr.ErrPersistence, "failed to create analysis job")
	}

	in.dispatcher.Dispatch(id)
	log.Info("Accepted job %s (%d bytes)", id, len(content))
	return id, nil
}

func normalizeContentType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}

