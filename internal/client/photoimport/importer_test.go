package photoimport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tiffWithDateTime is a minimal big-endian TIFF holding a single DateTime tag.
func tiffWithDateTime(ts string) []byte {
	var b bytes.Buffer
	b.Write([]byte{'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08})
	b.Write([]byte{0x00, 0x01})
	b.Write([]byte{0x01, 0x32, 0x00, 0x02, 0x00, 0x00, 0x00, 0x14, 0x00, 0x00, 0x00, 0x1A})
	b.Write([]byte{0x00, 0x00, 0x00, 0x00})
	b.WriteString(ts)
	b.WriteByte(0)
	return b.Bytes()
}

type fakeCapturer struct {
	mu    sync.Mutex
	calls []services.CaptureInput
	err   error
}

func (f *fakeCapturer) Capture(_ context.Context, in services.CaptureInput) (*models.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, in)
	return &models.Photo{ID: "p-" + time.Now().String(), Timestamp: in.Timestamp, Blob: in.Blob}, nil
}

func (f *fakeCapturer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestCaptureTime(t *testing.T) {
	ts, ok := CaptureTime(bytes.NewReader(tiffWithDateTime("2024:03:01 09:30:00")))
	require.True(t, ok)
	assert.Equal(t, "2024-03-01 09:30:00", ts.Format("2006-01-02 15:04:05"))

	_, ok = CaptureTime(bytes.NewReader([]byte("not an image")))
	assert.False(t, ok)
}

func TestImportFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fc := &fakeCapturer{}
	imp := NewImporter(fc, nil)

	withExif := filepath.Join(dir, "a.tif")
	require.NoError(t, os.WriteFile(withExif, tiffWithDateTime("2024:03:01 09:30:00"), 0o600))
	p, err := imp.ImportFile(ctx, withExif, services.CaptureInput{HouseID: "h_1"})
	require.NoError(t, err)
	assert.Equal(t, 2024, p.Timestamp.Year())
	assert.Equal(t, "h_1", fc.calls[0].HouseID)

	plain := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(plain, []byte("jpeg"), 0o600))
	mtime := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, os.Chtimes(plain, mtime, mtime))
	p, err = imp.ImportFile(ctx, plain, services.CaptureInput{})
	require.NoError(t, err)
	assert.True(t, p.Timestamp.Equal(mtime))

	_, err = imp.ImportFile(ctx, filepath.Join(dir, "missing.jpg"), services.CaptureInput{})
	require.Error(t, err)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("IMG_0001.JPG"))
	assert.True(t, Supported("x.jpeg"))
	assert.False(t, Supported("notes.txt"))
	assert.False(t, Supported("imported"))
}

func TestWatcher_ImportsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.jpg"), []byte("old"), 0o600))

	fc := &fakeCapturer{}
	w := NewWatcher(dir, NewImporter(fc, nil), services.CaptureInput{FolderID: "f_1"}, WithSettle(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return fc.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.jpg"), []byte("new"), 0o600))
	require.Eventually(t, func() bool { return fc.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ImportedDir, "new.jpg"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	_, err := os.Stat(filepath.Join(dir, ImportedDir, "old.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "f_1", fc.calls[1].FolderID)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestWatcher_RejectsOversizeFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.jpg"), []byte("big"), 0o600))

	fc := &fakeCapturer{err: common.ErrPhotoTooLarge}
	w := NewWatcher(dir, NewImporter(fc, nil), services.CaptureInput{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, RejectedDir, "big.jpg"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-errCh
}
