package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/ocr-jobs/constants"
	"github.com/joseph-ayodele/ocr-jobs/internal/common"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/decode"
	"github.com/joseph-ayodele/ocr-jobs/internal/core/ocr"
	"github.com/joseph-ayodele/ocr-jobs/internal/entity"
	"github.com/joseph-ayodele/ocr-jobs/internal/repository"
	"github.com/joseph-ayodele/ocr-jobs/internal/storage"
)

const pageTimeout = 50 * time.Millisecond

// poppler fakes pdfinfo/pdftoppm for a document with a fixed page count.
type poppler struct {
	pages     int
	encrypted bool
}

func (p poppler) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdfinfo":
		enc := "no"
		if p.encrypted {
			enc = "yes (print:yes copy:yes change:no addNotes:no algorithm:AES-256)"
		}
		return []byte(fmt.Sprintf("Pages:          %d\nEncrypted:      %s\n", p.pages, enc)), nil, nil
	case "pdftoppm":
		return nil, nil, os.WriteFile(args[len(args)-1]+".png", []byte("png"), 0o600)
	}
	return nil, nil, fmt.Errorf("unexpected %s", name)
}

// scriptEngine returns "text <index>" unless the page is scripted to hang or fail.
type scriptEngine struct {
	hang    map[int]bool
	fail    map[int]bool
	release chan struct{}
}

func (scriptEngine) Name() string { return "script" }

func (e scriptEngine) ExtractText(_ context.Context, page ocr.Page) (string, error) {
	if e.hang[page.Index] {
		<-e.release
		return "late", nil
	}
	if e.fail[page.Index] {
		return "", errors.New("engine crashed")
	}
	return fmt.Sprintf("text %d", page.Index), nil
}

// recordingStore records every status written and can be told to fail.
type recordingStore struct {
	repository.JobStore
	mu       sync.Mutex
	statuses []constants.JobStatus
	failPuts int
	failGets int
	putCalls int
}

func (s *recordingStore) Put(ctx context.Context, job *entity.Job) error {
	s.mu.Lock()
	s.putCalls++
	if s.failPuts > 0 {
		s.failPuts--
		s.mu.Unlock()
		return common.NewAppError(common.CodeStoreUnavailable, "put job", common.ErrStoreUnavailable)
	}
	s.statuses = append(s.statuses, job.Status)
	s.mu.Unlock()
	return s.JobStore.Put(ctx, job)
}

func (s *recordingStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	if s.failGets > 0 {
		s.failGets--
		s.mu.Unlock()
		return nil, common.NewAppError(common.CodeStoreUnavailable, "get job", common.ErrStoreUnavailable)
	}
	s.mu.Unlock()
	return s.JobStore.Get(ctx, id)
}

func (s *recordingStore) distinctStatuses() []constants.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []constants.JobStatus
	for _, st := range s.statuses {
		if len(out) == 0 || out[len(out)-1] != st {
			out = append(out, st)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	store    *recordingStore
	payloads *storage.LocalStorage
	tempDir  string
	engine   scriptEngine
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:        t,
		store:    &recordingStore{JobStore: repository.NewMemoryJobStore(nil)},
		payloads: storage.NewLocalStorage(t.TempDir()),
		tempDir:  t.TempDir(),
		engine:   scriptEngine{hang: map[int]bool{}, fail: map[int]bool{}, release: make(chan struct{})},
	}
	t.Cleanup(func() { close(h.engine.release) })
	return h
}

func (h *harness) processor(runner ocr.Runner, maxPages int, opts ...ProcessorOption) *Processor {
	dec := decode.NewDecoder(decode.Config{MaxPages: maxPages, TempDir: h.tempDir}, runner, nil)
	ext := ocr.NewExtractor(h.engine, pageTimeout, nil)
	opts = append([]ProcessorOption{WithRetryPolicy(RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: time.Millisecond})}, opts...)
	return NewProcessor(nil, h.store, h.payloads, dec, ext, opts...)
}

func (h *harness) submit(kind constants.SourceKind, ct string, data []byte) uuid.UUID {
	ctx := context.Background()
	job := entity.NewJob(uuid.New(), kind, ct, int64(len(data)), time.Now(), time.Hour)
	require.NoError(h.t, h.payloads.Save(ctx, job.ID, data))
	require.NoError(h.t, h.store.JobStore.Create(ctx, job))
	return job.ID
}

func (h *harness) get(id uuid.UUID) *entity.Job {
	job, err := h.store.JobStore.Get(context.Background(), id)
	require.NoError(h.t, err)
	return job
}

func (h *harness) assertCleanedUp(id uuid.UUID) {
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(h.t, err)
	assert.Empty(h.t, entries, "decode workspace leaked")
	_, err = h.payloads.Load(context.Background(), id)
	assert.ErrorIs(h.t, err, common.ErrPayloadMissing)
}

var pdfBytes = []byte("%PDF-1.7\n1 0 obj <<>> endobj\n%%EOF\n")

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestProcessImage(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindImage, constants.ContentTypePNG, pngBytes(t))

	require.NoError(t, h.processor(poppler{}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFinished, job.Status)
	assert.Equal(t, 1, job.PageCount)
	require.Len(t, job.Pages, 1)
	assert.Equal(t, constants.PageOutcomeOK, job.Pages[0].Outcome)
	assert.Equal(t, "text 0", *job.Pages[0].Text)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	assert.False(t, job.FinishedAt.Before(*job.StartedAt))
	assert.Equal(t, []constants.JobStatus{constants.JobStatusStarted, constants.JobStatusFinished}, h.store.distinctStatuses())
	h.assertCleanedUp(id)
}

func TestProcessThreePagePDF(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	require.NoError(t, h.processor(poppler{pages: 3}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFinished, job.Status)
	assert.Equal(t, 3, job.PageCount)
	require.Len(t, job.Pages, 3)
	for i, p := range job.Pages {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, constants.PageOutcomeOK, p.Outcome)
		assert.Equal(t, fmt.Sprintf("text %d", i), *p.Text)
	}
	assert.Equal(t, []constants.JobStatus{constants.JobStatusStarted, constants.JobStatusFinished}, h.store.distinctStatuses())
	h.assertCleanedUp(id)
}

func TestProcessPageLimitExceeded(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	require.NoError(t, h.processor(poppler{pages: 25}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, common.CodePageLimitExceeded, job.ErrorCode)
	assert.Contains(t, job.Error, "25 > 20")
	assert.Empty(t, job.Pages)
	require.NotNil(t, job.FinishedAt)
	h.assertCleanedUp(id)
}

func TestProcessEncryptedPDF(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	require.NoError(t, h.processor(poppler{pages: 2, encrypted: true}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, common.CodeEncryptedDocument, job.ErrorCode)
	assert.NotEqual(t, common.CodeCorruptDocument, job.ErrorCode)
	assert.Contains(t, job.Error, "encrypted")
	assert.Empty(t, job.Pages)
	h.assertCleanedUp(id)
}

func TestProcessCorruptImage(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindImage, constants.ContentTypeJPEG, []byte("not a jpeg"))

	require.NoError(t, h.processor(poppler{}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, common.CodeCorruptDocument, job.ErrorCode)
	h.assertCleanedUp(id)
}

func TestProcessPageTimeoutDoesNotAbortJob(t *testing.T) {
	h := newHarness(t)
	h.engine.hang[2] = true
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	require.NoError(t, h.processor(poppler{pages: 5}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFinished, job.Status)
	require.Len(t, job.Pages, 5)
	var ok, timeouts int
	for i, p := range job.Pages {
		assert.Equal(t, i, p.Index)
		switch p.Outcome {
		case constants.PageOutcomeOK:
			ok++
		case constants.PageOutcomeTimeout:
			timeouts++
			assert.Equal(t, 2, p.Index)
			assert.Nil(t, p.Text)
			assert.Equal(t, pageTimeout, p.Duration)
		}
	}
	assert.Equal(t, 4, ok)
	assert.Equal(t, 1, timeouts)
	h.assertCleanedUp(id)
}

func TestProcessExtractionErrorsAreData(t *testing.T) {
	h := newHarness(t)
	h.engine.fail[0] = true
	h.engine.fail[1] = true
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	require.NoError(t, h.processor(poppler{pages: 2}, 20).ProcessJob(context.Background(), id))

	job := h.get(id)
	// zero ok pages is still a finished job
	assert.Equal(t, constants.JobStatusFinished, job.Status)
	require.Len(t, job.Pages, 2)
	for _, p := range job.Pages {
		assert.Equal(t, constants.PageOutcomeExtractionError, p.Outcome)
		assert.Contains(t, p.Error, "engine crashed")
	}
	assert.Empty(t, job.Error)
}

func TestProcessTerminalRedeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)
	p := h.processor(poppler{pages: 2}, 20)

	require.NoError(t, p.ProcessJob(context.Background(), id))
	first := h.get(id)
	puts := h.store.putCalls

	require.NoError(t, p.ProcessJob(context.Background(), id))
	assert.Equal(t, first, h.get(id))
	assert.Equal(t, puts, h.store.putCalls, "no writes for a terminal job")
}

func TestProcessUnknownJob(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.processor(poppler{}, 20).ProcessJob(context.Background(), uuid.New()))
}

func TestProcessRestartsStartedJob(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	// simulate a worker that crashed after writing one page
	job := h.get(id)
	require.NoError(t, job.Start(time.Now()))
	text := "stale"
	require.NoError(t, job.AppendPage(entity.PageResult{Index: 0, Text: &text, Outcome: constants.PageOutcomeOK}))
	require.NoError(t, h.store.JobStore.Put(context.Background(), job))

	require.NoError(t, h.processor(poppler{pages: 2}, 20).ProcessJob(context.Background(), id))

	got := h.get(id)
	assert.Equal(t, constants.JobStatusFinished, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, "text 0", *got.Pages[0].Text)
	assert.Equal(t, job.StartedAt.UnixNano(), got.StartedAt.UnixNano())
}

func TestProcessMissingPayload(t *testing.T) {
	h := newHarness(t)
	job := entity.NewJob(uuid.New(), constants.SourceKindImage, constants.ContentTypePNG, 1, time.Now(), time.Hour)
	require.NoError(t, h.store.JobStore.Create(context.Background(), job))

	require.NoError(t, h.processor(poppler{}, 20).ProcessJob(context.Background(), job.ID))

	got := h.get(job.ID)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	assert.Equal(t, common.CodePayloadMissing, got.ErrorCode)
}

func TestProcessRetriesUnavailableStore(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindImage, constants.ContentTypePNG, pngBytes(t))
	h.store.failGets = 1
	h.store.failPuts = 2

	require.NoError(t, h.processor(poppler{}, 20).ProcessJob(context.Background(), id))
	assert.Equal(t, constants.JobStatusFinished, h.get(id).Status)
}

func TestProcessGivesUpWithoutDroppingJob(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindImage, constants.ContentTypePNG, pngBytes(t))
	h.store.failPuts = 100

	err := h.processor(poppler{}, 20).ProcessJob(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)

	// the record is untouched and the payload kept for the next delivery
	assert.Equal(t, constants.JobStatusQueued, h.get(id).Status)
	_, err = h.payloads.Load(context.Background(), id)
	assert.NoError(t, err)
}

func TestProcessTempStorageFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	id := h.submit(constants.SourceKindImage, constants.ContentTypePNG, pngBytes(t))
	// a regular file where the workspace parent should be
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, nil, 0o600))
	h.tempDir = blocked

	err := h.processor(poppler{}, 20).ProcessJob(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTempStorage)

	job := h.get(id)
	assert.Equal(t, constants.JobStatusStarted, job.Status)
	assert.Empty(t, job.ErrorCode)
	_, err = h.payloads.Load(context.Background(), id)
	assert.NoError(t, err, "payload must survive for redelivery")

	// once the workspace is writable again the next delivery completes
	h.tempDir = t.TempDir()
	require.NoError(t, h.processor(poppler{}, 20).ProcessJob(context.Background(), id))
	assert.Equal(t, constants.JobStatusFinished, h.get(id).Status)
	h.assertCleanedUp(id)
}

func TestProcessJobTimeoutBoundsRemainingPages(t *testing.T) {
	h := newHarness(t)
	h.engine.hang[0] = true
	id := h.submit(constants.SourceKindPDF, constants.ContentTypePDF, pdfBytes)

	p := h.processor(poppler{pages: 4}, 20, WithJobTimeout(pageTimeout/2))
	require.NoError(t, p.ProcessJob(context.Background(), id))

	job := h.get(id)
	assert.Equal(t, constants.JobStatusFinished, job.Status)
	require.Len(t, job.Pages, 4)
	for _, pr := range job.Pages {
		assert.Equal(t, constants.PageOutcomeTimeout, pr.Outcome)
	}
	h.assertCleanedUp(id)
}
