package mediafetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	calls           int32
	body            []byte
	terminalMissing bool
	err             error
	blockUntil      chan struct{}
}

func (f *fakeDownloader) FetchMedia(ctx context.Context, url, class string) ([]byte, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.blockUntil != nil {
		<-f.blockUntil
	}
	return f.body, f.terminalMissing, f.err
}

type fakeRecorder struct {
	mu                               sync.Mutex
	calls                            int
	board, mediaHash, kind, filename string
}

func (r *fakeRecorder) RecordMediaFile(ctx context.Context, board, mediaHash, kind, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.board, r.mediaHash, r.kind, r.filename = board, mediaHash, kind, filename
	return nil
}

func TestAsagiPath_DerivesSubdirectoriesFromFilenameStem(t *testing.T) {
	got := AsagiPath("/media", "g", "1700000000123.jpg")
	assert.Equal(t, "/media/g/1700/00/1700000000123.jpg", got)
}

func TestQueue_WritesFileAtomically(t *testing.T) {
	fs := afero.NewMemMapFs()
	dl := &fakeDownloader{body: []byte("jpegbytes")}
	rec := &fakeRecorder{}
	q := New(dl, rec, fs, "/media", log.NewNopLogger())

	path, err := q.Submit(context.Background(), Job{
		Board: "g", MediaHash: "abc==", Kind: KindFull,
		URL: "https://example.com/g/1700000000123.jpg", Filename: "1700000000123.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "/media/g/1700/00/1700000000123.jpg", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(data))

	exists, _ := afero.Exists(fs, path+".tmp-nonexistent")
	assert.False(t, exists)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, "abc==", rec.mediaHash)
	assert.Equal(t, "full", rec.kind)
	assert.Equal(t, path, rec.filename)
}

func TestQueue_TerminalMissingRecordsNoFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	dl := &fakeDownloader{terminalMissing: true}
	rec := &fakeRecorder{}
	q := New(dl, rec, fs, "/media", log.NewNopLogger())

	path, err := q.Submit(context.Background(), Job{
		Board: "g", MediaHash: "abc==", Kind: KindFull,
		URL: "https://example.com/g/1.jpg", Filename: "1.jpg",
	})
	require.NoError(t, err)
	assert.Empty(t, path)

	entries, _ := afero.ReadDir(fs, "/media")
	assert.Empty(t, entries)
	assert.Equal(t, 0, rec.calls)
}

// property 4: the on-disk file is written at most once under concurrent
// submissions of the same key.
func TestQueue_CoalescesConcurrentSameKeySubmissions(t *testing.T) {
	fs := afero.NewMemMapFs()
	block := make(chan struct{})
	dl := &fakeDownloader{body: []byte("data"), blockUntil: block}
	q := New(dl, &fakeRecorder{}, fs, "/media", log.NewNopLogger())

	job := Job{Board: "g", MediaHash: "dup==", Kind: KindFull,
		URL: "https://example.com/g/1700000000999.jpg", Filename: "1700000000999.jpg"}

	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), job)
		}()
	}
	close(block)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&dl.calls))
}
