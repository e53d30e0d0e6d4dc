// Package supervisor implements the Supervisor component of spec.md §4.9:
// it owns the process-wide rate limiters and DB pool, and starts one
// goroutine per configured board running that board's poll loop. Lifecycle
// is coordinated with golang.org/x/sync/errgroup, the same fan-out/cancel
// primitive the reference corpus uses to bound and await concurrent work.
package supervisor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/PluieElectrique/ena/internal/anchor"
	"github.com/PluieElectrique/ena/internal/config"
	"github.com/PluieElectrique/ena/internal/httpclient"
	"github.com/PluieElectrique/ena/internal/mediafetcher"
	"github.com/PluieElectrique/ena/internal/metrics"
	"github.com/PluieElectrique/ena/internal/persistence"
	"github.com/PluieElectrique/ena/internal/ratelimit"
	"github.com/PluieElectrique/ena/internal/retry"
	"github.com/PluieElectrique/ena/internal/threadfetcher"
	"github.com/PluieElectrique/ena/internal/wire"
)

// Supervisor owns every process-wide shared handle and runs one pipeline
// goroutine per board.
type Supervisor struct {
	cfg     config.Config
	logger  log.Logger
	metrics *metrics.Metrics

	httpClient *httpclient.Client
	store      persistence.Store
	media      *mediafetcher.Queue
}

// New wires the shared rate limiters, HTTP client, store, and media queue
// from cfg. Global state (rate limiters, DB pool, config) is an explicit
// handle passed in here, never reached through ambient package globals
// (spec.md §9 "Global state").
func New(cfg config.Config, logger log.Logger, reg *metrics.Metrics, store persistence.Store, fs afero.Fs) *Supervisor {
	limiters := make(map[string]*ratelimit.Limiter, len(cfg.Network.RateLimiting))
	for class, rl := range cfg.Network.RateLimiting {
		limiters[class] = ratelimit.New(ratelimit.Config{
			Interval:       rl.Interval,
			MaxPerInterval: rl.MaxPerInterval,
			MaxConcurrent:  rl.MaxConcurrent,
		})
	}

	backoff := retry.Config{
		Base:   time.Duration(cfg.Network.RetryBackoff.Base * float64(time.Second)),
		Factor: cfg.Network.RetryBackoff.Factor,
		Max:    time.Duration(cfg.Network.RetryBackoff.Max * float64(time.Second)),
	}

	httpClient := httpclient.New(&http.Client{Timeout: 30 * time.Second}, limiters, backoff, logger)
	mediaQueue := mediafetcher.New(httpClient, store, fs, cfg.DatabaseMedia.MediaDir, logger)

	return &Supervisor{
		cfg:        cfg,
		logger:     logger,
		metrics:    reg,
		httpClient: httpClient,
		store:      store,
		media:      mediaQueue,
	}
}

// Run starts one pipeline goroutine per configured board and blocks until
// ctx is canceled and every board goroutine has returned (spec.md §5
// "Cancellation propagates downward").
func (sv *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, board := range sv.cfg.BoardNames() {
		board := board
		g.Go(func() error {
			sv.runBoard(ctx, board)
			return nil
		})
	}
	return g.Wait()
}

// boardState is the per-board AnchorPoller state of spec.md §4.5.
type boardState struct {
	prevSnapshot  anchor.Snapshot
	knownArchived map[int64]bool
	opDeleted     map[int64]bool
	knownSticky   map[int64]bool
	threadCache   map[int64]httpclient.CacheKey
	threadsCache  httpclient.CacheKey
	archiveCache  httpclient.CacheKey
	bootstrapped  bool
}

func (sv *Supervisor) runBoard(ctx context.Context, board string) {
	scraping := sv.cfg.ScrapingFor(board)
	logger := log.With(sv.logger, "board", board)
	seq := threadfetcher.NewSequencer()
	state := &boardState{
		knownArchived: make(map[int64]bool),
		opDeleted:     make(map[int64]bool),
		knownSticky:   make(map[int64]bool),
		threadCache:   make(map[int64]httpclient.CacheKey),
	}

	ticker := time.NewTicker(scraping.PollInterval())
	defer ticker.Stop()

	for {
		sv.poll(ctx, board, scraping, logger, seq, state)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (sv *Supervisor) poll(ctx context.Context, board string, scraping config.ScrapingConfig, logger log.Logger, seq *threadfetcher.Sequencer, state *boardState) {
	if sv.metrics != nil {
		sv.metrics.PollsTotal.WithLabelValues(board).Inc()
	}

	res, err := sv.httpClient.FetchJSON(ctx, "https://a.4cdn.org/"+board+"/threads.json", "thread_list", state.threadsCache)
	if err != nil {
		level.Warn(logger).Log("msg", "threads.json poll failed", "err", err)
		if sv.metrics != nil {
			sv.metrics.PollFailuresTotal.WithLabelValues(board).Inc()
		}
		return
	}
	if res.NotModified || res.TerminalMissing {
		return
	}
	state.threadsCache = httpclient.CacheKey{ETag: res.ETag, LastModified: res.LastModified}

	pages, err := wire.DecodeThreadsPage(res.Body)
	if err != nil {
		level.Warn(logger).Log("msg", "threads.json parse failed", "err", err)
		return
	}
	curr := toSnapshot(pages, state.knownSticky)

	if !state.bootstrapped {
		sv.bootstrap(ctx, board, scraping, logger, seq, state, curr)
		return
	}

	added, modified, removed := anchor.Diff(state.prevSnapshot, curr)
	deleted, bumpedOff := anchor.Classify(state.prevSnapshot, curr, removed)
	if sv.metrics != nil {
		sv.metrics.ThreadsDeletedTotal.WithLabelValues(board).Add(float64(len(deleted)))
		sv.metrics.ThreadsBumpedTotal.WithLabelValues(board).Add(float64(len(bumpedOff)))
	}

	var archivedNos []int64
	if scraping.FetchArchive {
		archivedNos = sv.pollArchive(ctx, board, logger, state)
	}

	events := anchor.BuildEvents(added, modified, deleted, bumpedOff, archivedNos)
	for _, ev := range events {
		sv.fetchThread(ctx, board, scraping, logger, seq, state, ev)
	}

	state.prevSnapshot = curr
}

// bootstrap implements spec.md §4.5 step 5: the first threads.json becomes
// prev_snapshot with no classification, every currently-live thread is
// enqueued for refetch, and every known-archived thread whose row isn't yet
// marked archived is enqueued too, so a restarted process catches up on
// whatever it missed while down.
func (sv *Supervisor) bootstrap(ctx context.Context, board string, scraping config.ScrapingConfig, logger log.Logger, seq *threadfetcher.Sequencer, state *boardState, curr anchor.Snapshot) {
	state.bootstrapped = true
	state.prevSnapshot = curr

	seen := make(map[int64]bool, len(curr))
	for _, e := range curr {
		seen[e.No] = true
		sv.fetchThread(ctx, board, scraping, logger, seq, state, anchor.Event{No: e.No, Kind: anchor.EventNew})
	}

	live, err := sv.store.GetLiveNos(ctx, board)
	if err != nil {
		level.Warn(logger).Log("msg", "bootstrap get_live_nos failed", "err", err)
		live = nil
	}
	if !sv.cfg.AsagiCompat.RefetchArchivedThreads {
		unarchived, err := sv.store.GetUnarchivedNos(ctx, board, live)
		if err != nil {
			level.Warn(logger).Log("msg", "bootstrap get_unarchived_nos failed", "err", err)
		} else {
			live = unarchived
		}
	}
	for _, no := range live {
		if seen[no] {
			continue
		}
		seen[no] = true
		sv.fetchThread(ctx, board, scraping, logger, seq, state, anchor.Event{No: no, Kind: anchor.EventModified})
	}

	if scraping.FetchArchive {
		archivedNos := sv.pollArchive(ctx, board, logger, state)
		unarchived, err := sv.store.GetUnarchivedNos(ctx, board, archivedNos)
		if err != nil {
			level.Warn(logger).Log("msg", "bootstrap archive get_unarchived_nos failed", "err", err)
			return
		}
		for _, no := range unarchived {
			if seen[no] {
				continue
			}
			seen[no] = true
			sv.fetchThread(ctx, board, scraping, logger, seq, state, anchor.Event{No: no, Kind: anchor.EventModified})
		}
	}
}

func (sv *Supervisor) pollArchive(ctx context.Context, board string, logger log.Logger, state *boardState) []int64 {
	res, err := sv.httpClient.FetchJSON(ctx, "https://a.4cdn.org/"+board+"/archive.json", "thread_list", state.archiveCache)
	if err != nil || res.NotModified || res.TerminalMissing {
		if err != nil {
			level.Warn(logger).Log("msg", "archive.json poll failed", "err", err)
		}
		return nil
	}
	state.archiveCache = httpclient.CacheKey{ETag: res.ETag, LastModified: res.LastModified}

	nos, err := wire.DecodeArchive(res.Body)
	if err != nil {
		level.Warn(logger).Log("msg", "archive.json parse failed", "err", err)
		return nil
	}

	var newly []int64
	for _, no := range nos {
		if !state.knownArchived[no] {
			state.knownArchived[no] = true
			newly = append(newly, no)
		}
	}
	return newly
}

func (sv *Supervisor) fetchThread(ctx context.Context, board string, scraping config.ScrapingConfig, logger log.Logger, seq *threadfetcher.Sequencer, state *boardState, ev anchor.Event) {
	unlock := seq.Lock(ev.No)
	defer unlock()

	if state.opDeleted[ev.No] {
		return
	}

	url := "https://a.4cdn.org/" + board + "/thread/" + strconv.FormatInt(ev.No, 10) + ".json"
	res, err := sv.httpClient.FetchJSON(ctx, url, "thread", state.threadCache[ev.No])
	if err != nil {
		level.Warn(logger).Log("msg", "thread fetch failed", "no", ev.No, "err", err)
		return
	}
	if res.TerminalMissing {
		return
	}
	if res.NotModified && ev.Kind == anchor.EventModified {
		return
	}
	if res.Body == nil {
		return
	}
	state.threadCache[ev.No] = httpclient.CacheKey{ETag: res.ETag, LastModified: res.LastModified}

	page, warnings, err := wire.DecodeThread(res.Body)
	if err != nil {
		level.Warn(logger).Log("msg", "thread parse failed", "no", ev.No, "err", err)
		return
	}
	for _, w := range warnings {
		level.Warn(logger).Log("msg", "post rejected", "no", ev.No, "err", w)
	}

	for _, p := range page.Posts {
		if p.Resto != nil && *p.Resto == 0 {
			state.knownSticky[ev.No] = p.Sticky != nil && *p.Sticky != 0
			break
		}
	}

	old, err := sv.store.GetThreadPosts(ctx, board, ev.No)
	if err != nil {
		level.Warn(logger).Log("msg", "get_thread_posts failed", "no", ev.No, "err", err)
		return
	}

	oldByNo := make(map[int64]threadfetcher.StoredPost, len(old))
	for no, p := range old {
		oldByNo[no] = threadfetcher.StoredPost{
			No: no, IsOP: p.IsOP, Sticky: p.Sticky, Closed: p.Closed, Sub: p.Sub,
			CommentHash: p.CommentHash, Spoiler: p.Spoiler, HasMedia: p.MediaHash != "",
		}
	}

	diff := threadfetcher.Diff(oldByNo, page.Posts)

	update := persistence.ThreadUpdate{
		Board: board, ThreadNo: ev.No,
		IsNewThread:      ev.Kind == anchor.EventNew,
		DeletedNos:       diff.Delete,
		DeletedTimestamp: lastModifiedOrNow(res.LastModified),
	}
	for _, p := range diff.Insert {
		update.Insert = append(update.Insert, toPostRow(ev.No, p))
		if p.HasMedia() {
			update.UpsertMedia = append(update.UpsertMedia, toMediaRow(p))
			if scraping.DownloadMedia {
				sv.submitMedia(ctx, board, p, mediafetcher.KindFull)
			}
			if scraping.DownloadThumbs {
				sv.submitMedia(ctx, board, p, mediafetcher.KindThumb)
			}
		}
	}
	for _, p := range diff.Update {
		update.Update = append(update.Update, toPostRow(ev.No, p))
		if p.HasMedia() && !oldByNo[*p.No].HasMedia {
			update.UpsertMedia = append(update.UpsertMedia, toMediaRow(p))
			if scraping.DownloadMedia {
				sv.submitMedia(ctx, board, p, mediafetcher.KindFull)
			}
			if scraping.DownloadThumbs {
				sv.submitMedia(ctx, board, p, mediafetcher.KindThumb)
			}
		}
	}

	opDeletedNow := false
	for _, no := range diff.Delete {
		if no == ev.No {
			opDeletedNow = true
		}
	}
	if opDeletedNow {
		update.SetOpDeleted = true
		state.opDeleted[ev.No] = true
	}
	if ev.Kind == anchor.EventArchived {
		update.SetArchived = true
		update.ArchivedTimestamp = lastModifiedOrNow(res.LastModified)
	}
	if ev.Kind == anchor.EventBumpedOff && !scraping.FetchArchive && sv.cfg.AsagiCompat.AlwaysAddArchiveTimes {
		update.SetAlwaysArchiveTs = true
		update.ArchivedTimestamp = lastModifiedOrNow(res.LastModified)
	}

	if err := sv.store.ApplyThreadUpdate(ctx, update); err != nil {
		level.Warn(logger).Log("msg", "thread update transaction aborted", "no", ev.No, "err", err)
		if sv.metrics != nil {
			sv.metrics.DbTxFailuresTotal.WithLabelValues(board).Inc()
		}
	}
}

func (sv *Supervisor) submitMedia(ctx context.Context, board string, p wire.Post, kind mediafetcher.Kind) {
	ext := p.Ext
	if kind == mediafetcher.KindThumb {
		ext = "s.jpg"
	}
	filename := strconv.FormatInt(*p.Tim, 10) + ext
	url := "https://i.4cdn.org/" + board + "/" + filename
	if _, err := sv.media.Submit(ctx, mediafetcher.Job{
		Board: board, MediaHash: p.Md5, Kind: kind, URL: url, Filename: filename,
	}); err == nil && sv.metrics != nil {
		sv.metrics.MediaDownloadsTotal.WithLabelValues(board, string(kind), "ok").Inc()
	}
}

func toPostRow(threadNo int64, p wire.Post) persistence.PostRow {
	sticky := p.Sticky != nil && *p.Sticky != 0
	closed := p.Closed != nil && *p.Closed != 0
	spoiler := p.Spoiler != nil && *p.Spoiler != 0
	isOP := p.Resto != nil && *p.Resto == 0

	row := persistence.PostRow{
		No: *p.No, ThreadNo: threadNo, IsOP: isOP, Sticky: sticky, Closed: closed,
		Sub: p.Sub, Name: p.Name, Trip: p.Trip, Capcode: p.Capcode, Country: p.Country,
		Comment:     threadfetcher.NormalizeComment(p.Com),
		CommentHash: threadfetcher.CommentHash(p.Com),
		Spoiler:     spoiler,
	}
	if p.Time != nil {
		row.Timestamp = *p.Time
	}
	if p.HasMedia() {
		row.MediaHash = p.Md5
		row.MediaFilename = p.Filename
	}
	return row
}

// toMediaRow builds the media_hash row for a media-bearing post's first
// observation (spec.md §3 Media entity / §4.8 upsert_media). Filename
// columns are left blank here; they're filled in later by
// mediafetcher.Queue via persistence.RecordMediaFile once the file is
// actually downloaded.
func toMediaRow(p wire.Post) persistence.MediaRow {
	row := persistence.MediaRow{MediaHash: p.Md5}
	if p.W != nil {
		row.W = *p.W
	}
	if p.H != nil {
		row.H = *p.H
	}
	if p.TnW != nil {
		row.TnW = *p.TnW
	}
	if p.TnH != nil {
		row.TnH = *p.TnH
	}
	if p.FileSize != nil {
		row.FileSize = *p.FileSize
	}
	row.Banned = p.FileDeleted != nil && *p.FileDeleted != 0
	return row
}

// toSnapshot builds an anchor.Snapshot from a threads.json page set.
// threads.json itself carries no sticky bit, so stickiness is filled in
// from knownSticky, which the OP row of each thread fetch keeps current
// (see fetchThread).
func toSnapshot(pages []wire.ThreadsPageEntry, knownSticky map[int64]bool) anchor.Snapshot {
	var out anchor.Snapshot
	for _, page := range pages {
		for _, t := range page.Threads {
			out = append(out, anchor.Entry{No: *t.No, LastModifiedAPI: *t.LastModified, Sticky: knownSticky[*t.No]})
		}
	}
	return out
}

func lastModifiedOrNow(lastModified string) int64 {
	if lastModified == "" {
		return time.Now().Unix()
	}
	t, err := http.ParseTime(lastModified)
	if err != nil {
		return time.Now().Unix()
	}
	return t.Unix()
}
