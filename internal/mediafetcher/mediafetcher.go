// Package mediafetcher implements the MediaFetcher component of spec.md
// §4.7: a job queue keyed by (board, media_hash, kind) that coalesces
// concurrent requests for the same key via singleflight, downloads through
// the shared rate-limited HTTP client, and writes files atomically using
// an afero filesystem abstraction (so tests run against an in-memory FS
// rather than real disk — the same singleflight-coalescing, afero-backed
// write pattern the reference corpus's own fetcher/bucket code uses,
// recorded in DESIGN.md).
package mediafetcher

import (
	"context"
	"fmt"
	"math/rand"
	"path"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/groupcache/singleflight"
	"github.com/spf13/afero"

	"github.com/PluieElectrique/ena/internal/enaerrors"
)

// Kind distinguishes the full file from its thumbnail.
type Kind string

const (
	KindFull  Kind = "full"
	KindThumb Kind = "thumb"
)

// Job describes one media download (spec.md §4.7).
type Job struct {
	Board     string
	MediaHash string
	Kind      Kind
	URL       string
	Filename  string // server-provided filename to derive the on-disk path from
}

func (j Job) key() string {
	return j.Board + "/" + j.MediaHash + "/" + string(j.Kind)
}

// Downloader fetches media bytes; implemented by httpclient.Client in
// production (FetchMedia returns body, terminalMissing, err).
type Downloader interface {
	FetchMedia(ctx context.Context, url, class string) ([]byte, bool, error)
}

// Recorder persists the on-disk filename for a successfully downloaded
// media file; implemented by persistence.Store (spec.md §4.8
// record_media_file).
type Recorder interface {
	RecordMediaFile(ctx context.Context, board, mediaHash, kind, filename string) error
}

// Queue services media jobs under the "media" rate-limit class, deduping
// concurrent requests for the same (board, media_hash, kind) via
// singleflight (spec.md §4.7: "a submitted key already in the queue or
// in-flight is coalesced").
type Queue struct {
	downloader Downloader
	recorder   Recorder
	fs         afero.Fs
	mediaDir   string
	group      singleflight.Group
	logger     log.Logger
}

// New constructs a Queue writing under mediaDir on fs.
func New(downloader Downloader, recorder Recorder, fs afero.Fs, mediaDir string, logger log.Logger) *Queue {
	return &Queue{downloader: downloader, recorder: recorder, fs: fs, mediaDir: mediaDir, logger: logger}
}

// Submit runs job, coalescing with any identical in-flight job. On
// terminal-missing it records no file and returns nil (never re-queued, per
// spec.md §4.7); on success it writes the file atomically and returns the
// on-disk path.
func (q *Queue) Submit(ctx context.Context, job Job) (string, error) {
	v, err := q.group.Do(job.key(), func() (interface{}, error) {
		return q.download(ctx, job)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (q *Queue) download(ctx context.Context, job Job) (string, error) {
	class := "media"
	body, terminalMissing, err := q.downloader.FetchMedia(ctx, job.URL, class)
	if err != nil {
		return "", err
	}
	if terminalMissing {
		level.Warn(q.logger).Log("msg", "media terminal missing", "board", job.Board, "media_hash", job.MediaHash)
		return "", nil
	}

	destPath := AsagiPath(q.mediaDir, job.Board, job.Filename)
	if err := q.writeAtomic(destPath, body); err != nil {
		return "", enaerrors.NewIo("write media file", err)
	}
	if q.recorder != nil {
		if err := q.recorder.RecordMediaFile(ctx, job.Board, job.MediaHash, string(job.Kind), destPath); err != nil {
			level.Warn(q.logger).Log("msg", "record_media_file failed", "board", job.Board, "media_hash", job.MediaHash, "err", err)
		}
	}
	return destPath, nil
}

// writeAtomic writes data to a temp file in the same directory as dest,
// then renames it into place (spec.md §4.7: "write file atomically (temp
// file + rename)"). Since media is content-addressed by hash, concurrent
// writers producing the same bytes are idempotent regardless of which
// rename wins (property 4: at-most-once semantics are provided by
// singleflight; this guards against partial writes surviving a crash).
func (q *Queue) writeAtomic(dest string, data []byte) error {
	dir := path.Dir(dest)
	if err := q.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp-" + strconv.Itoa(rand.Int())
	f, err := q.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		q.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		q.fs.Remove(tmp)
		return err
	}
	return q.fs.Rename(tmp, dest)
}

// AsagiPath derives the on-disk path for a media filename under the Asagi
// subdirectory convention: {mediaDir}/{board}/{prefix}/{suffix}/{filename},
// where prefix is the first four characters and suffix the next two of the
// renamed (tim-derived) filename stem ("00" when the stem is too short).
func AsagiPath(mediaDir, board, filename string) string {
	stem := filename
	if idx := strings.LastIndexByte(filename, '.'); idx != -1 {
		stem = filename[:idx]
	}
	prefix, suffix := "00", "00"
	if len(stem) >= 4 {
		prefix = stem[0:4]
	}
	if len(stem) >= 6 {
		suffix = stem[4:6]
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", mediaDir, board, prefix, suffix, filename)
}
