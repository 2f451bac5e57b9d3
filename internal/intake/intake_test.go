package intake

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MimeLyc/findoc-analyzer/internal/apperr"
	"github.com/MimeLyc/findoc-analyzer/internal/config"
	"github.com/MimeLyc/findoc-analyzer/internal/jobs"
	"github.com/MimeLyc/findoc-analyzer/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	ids   []string
	store jobs.Store
	// seen records whether the job row existed when Dispatch was called.
	seen []bool
}

func (d *recordingDispatcher) Dispatch(id string) {
	_, err := d.store.Get(context.Background(), id)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	d.seen = append(d.seen, err == nil)
}

type failingStore struct {
	jobs.Store
}

func (failingStore) Create(context.Context, *jobs.Job) error {
	return errors.New("database is locked")
}

func newTestIntake(t *testing.T, maxBytes int64) (*Intake, jobs.Store, *recordingDispatcher, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "analyzer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{
		Storage: config.StorageConfig{ScratchDir: filepath.Join(dir, "uploads")},
		Intake: config.IntakeConfig{
			MaxUploadBytes:       maxBytes,
			AcceptedContentTypes: []string{"application/pdf"},
		},
	}
	disp := &recordingDispatcher{store: store}
	in, err := New(cfg, store, disp)
	require.NoError(t, err)
	return in, store, disp, cfg.Storage.ScratchDir
}

func scratchFiles(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestSubmit_CreatesQueuedJobThenDispatches(t *testing.T) {
	in, store, disp, _ := newTestIntake(t, 1024)
	content := bytes.Repeat([]byte("x"), 1000)

	id, err := in.Submit(context.Background(), content, "application/pdf", "  summarize  ")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateQueued, job.Status)
	assert.Equal(t, "summarize", job.Query)
	assert.Equal(t, id+".pdf", filepath.Base(job.FilePath))

	data, err := os.ReadFile(job.FilePath)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	assert.Equal(t, []string{id}, disp.ids)
	assert.Equal(t, []bool{true}, disp.seen, "job row must exist before dispatch")
}

func TestSubmit_FreshIDs(t *testing.T) {
	in, _, _, _ := newTestIntake(t, 1024)

	a, err := in.Submit(context.Background(), []byte("%PDF"), "application/pdf", "")
	require.NoError(t, err)
	b, err := in.Submit(context.Background(), []byte("%PDF"), "application/pdf", "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSubmit_ContentTypeParameters(t *testing.T) {
	in, _, _, _ := newTestIntake(t, 1024)

	_, err := in.Submit(context.Background(), []byte("%PDF"), "Application/PDF; name=report.pdf", "")
	assert.NoError(t, err)
}

func TestSubmit_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		content     []byte
		contentType string
		errType     apperr.ErrorType
		message     string
	}{
		{
			name:        "unsupported type",
			content:     []byte("png"),
			contentType: "image/png",
			errType:     apperr.ErrUnsupportedType,
			message:     "Unsupported file type: image/png",
		},
		{
			name:        "empty type",
			content:     []byte("x"),
			contentType: "",
			errType:     apperr.ErrUnsupportedType,
			message:     "Unsupported file type: ",
		},
		{
			name:        "too large",
			content:     bytes.Repeat([]byte("x"), 1025),
			contentType: "application/pdf",
			errType:     apperr.ErrPayloadTooLarge,
			message:     MsgTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, store, disp, scratch := newTestIntake(t, 1024)

			id, err := in.Submit(context.Background(), tt.content, tt.contentType, "q")
			require.Error(t, err)
			assert.Empty(t, id)
			assert.True(t, apperr.IsErrorType(err, tt.errType))
			assert.True(t, apperr.IsValidation(err))
			assert.Equal(t, tt.message, apperr.MessageOf(err))

			ids, err := store.ListIDs(context.Background(), jobs.StateQueued, 0)
			require.NoError(t, err)
			assert.Empty(t, ids)
			assert.Empty(t, disp.ids)
			assert.Empty(t, scratchFiles(t, scratch))
		})
	}
}

func TestSubmit_ExactlyAtLimitAccepted(t *testing.T) {
	in, _, _, _ := newTestIntake(t, 1024)
	_, err := in.Submit(context.Background(), bytes.Repeat([]byte("x"), 1024), "application/pdf", "")
	assert.NoError(t, err)
}

func TestSubmit_StoreFailureRemovesScratchFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Storage: config.StorageConfig{ScratchDir: dir},
		Intake:  config.IntakeConfig{MaxUploadBytes: 1024, AcceptedContentTypes: []string{"application/pdf"}},
	}
	disp := &recordingDispatcher{store: failingStore{}}
	in, err := New(cfg, failingStore{}, disp)
	require.NoError(t, err)

	_, err = in.Submit(context.Background(), []byte("%PDF"), "application/pdf", "q")
	require.Error(t, err)
	assert.True(t, apperr.IsErrorType(err, apperr.ErrPersistence))
	assert.False(t, apperr.IsValidation(err))
	assert.Empty(t, scratchFiles(t, dir))
	assert.Empty(t, disp.ids)
}
