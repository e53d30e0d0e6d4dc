// Package persistence implements the Persistence component of spec.md
// §4.8 against MySQL/MariaDB (Asagi's real target; PostgreSQL is an
// explicit non-goal). One *sql.Tx wraps every mutation belonging to a
// single thread's per-poll update, all-or-nothing, matching the
// reference corpus's own withTx-style transaction wrapping (grounded on
// itchan's Storage.withTx shape, recorded in DESIGN.md).
package persistence

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/PluieElectrique/ena/internal/enaerrors"
)

// PostRow is one normalized post, independent of the wire format.
type PostRow struct {
	No               int64
	ThreadNo         int64
	IsOP             bool
	Sticky           bool
	Closed           bool
	Sub              string
	Name             string
	Trip             string
	PosterID         string
	Capcode          string
	Country          string
	Comment          string
	CommentHash      uint64
	Spoiler          bool
	MediaHash        string
	MediaFilename    string
	Timestamp        int64
	TimestampExpired *int64
}

// ThreadRow is one thread's classification-relevant state.
type ThreadRow struct {
	No            int64
	Archived      bool
	Closed        bool
	OpPostDeleted bool
}

// MediaRow is one (board, media_hash)'s metadata (spec.md §3's Media entity).
type MediaRow struct {
	MediaHash       string
	PreviewFilename string
	FullFilename    string
	W, H            int
	TnW, TnH        int
	FileSize        int64
	Banned          bool
}

// ThreadUpdate bundles every mutation belonging to one thread's per-poll
// update (spec.md §4.8: "each thread's per-poll update is one
// transaction containing all inserts/updates/deletions/archival/
// op-deleted mutations; all-or-nothing").
type ThreadUpdate struct {
	Board    string
	ThreadNo int64

	Insert []PostRow
	Update []PostRow

	// DeletedNos are post numbers moved to the board's _deleted table.
	DeletedNos       []int64
	DeletedTimestamp int64 // response Last-Modified, or now

	SetArchived        bool
	ArchivedTimestamp  int64
	SetAlwaysArchiveTs bool // bumped_off w/o archiving + always_add_archive_times

	SetOpDeleted bool

	UpsertMedia []MediaRow

	// IsNewThread indicates the thread row itself must be created first
	// (for index_counters accounting).
	IsNewThread bool
}

// Store is the full Persistence surface (spec.md §4.8's operation list).
type Store interface {
	GetThreadPosts(ctx context.Context, board string, no int64) (map[int64]PostRow, error)
	ApplyThreadUpdate(ctx context.Context, u ThreadUpdate) error
	RecordMediaFile(ctx context.Context, board, mediaHash, kind, filename string) error
	GetUnarchivedNos(ctx context.Context, board string, candidates []int64) ([]int64, error)
	GetLiveNos(ctx context.Context, board string) ([]int64, error)
}

// MySQLStore is the production Store backed by database/sql +
// go-sql-driver/mysql.
type MySQLStore struct {
	db                *sql.DB
	adjustTimestamps  bool
	loc               *time.Location
	createIndexCounts bool
}

// Open connects to dsn (a go-sql-driver/mysql data source name) and
// returns a MySQLStore. adjustTimestamps shifts stored timestamps to
// America/New_York to mirror the legacy archive convention (spec.md §6).
func Open(dsn string, adjustTimestamps, createIndexCounters bool) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, enaerrors.NewDb("open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, enaerrors.NewDb("ping", err)
	}
	loc := time.UTC
	if adjustTimestamps {
		l, lerr := time.LoadLocation("America/New_York")
		if lerr != nil {
			return nil, enaerrors.NewDb("load timezone", lerr)
		}
		loc = l
	}
	return &MySQLStore{db: db, adjustTimestamps: adjustTimestamps, loc: loc, createIndexCounts: createIndexCounters}, nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) adjust(ts int64) int64 {
	if !s.adjustTimestamps {
		return ts
	}
	return time.Unix(ts, 0).In(s.loc).Unix()
}

// GetThreadPosts loads a thread's currently-live post rows keyed by no.
func (s *MySQLStore) GetThreadPosts(ctx context.Context, board string, no int64) (map[int64]PostRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT `no`, `resto`, `sticky`, `closed`, `sub`, `comment`, `comment_hash`, `spoiler`, `media_hash` "+
			"FROM `"+board+"` WHERE `thread_no` = ?", no)
	if err != nil {
		return nil, enaerrors.NewDb("get_thread_posts", err)
	}
	defer rows.Close()

	out := make(map[int64]PostRow)
	for rows.Next() {
		var p PostRow
		var resto int64
		if err := rows.Scan(&p.No, &resto, &p.Sticky, &p.Closed, &p.Sub, &p.Comment, &p.CommentHash, &p.Spoiler, &p.MediaHash); err != nil {
			return nil, enaerrors.NewDb("get_thread_posts scan", err)
		}
		p.ThreadNo = no
		p.IsOP = resto == 0
		out[p.No] = p
	}
	return out, rows.Err()
}

// ApplyThreadUpdate runs every mutation in u inside one transaction.
func (s *MySQLStore) ApplyThreadUpdate(ctx context.Context, u ThreadUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return enaerrors.NewDb("begin tx", err)
	}
	defer tx.Rollback()

	if err := s.applyInTx(ctx, tx, u); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return enaerrors.NewDb("commit", err)
	}
	return nil
}

func (s *MySQLStore) applyInTx(ctx context.Context, tx *sql.Tx, u ThreadUpdate) error {
	if u.IsNewThread {
		if _, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO `"+u.Board+"_threads` (`thread_num`) VALUES (?)", u.ThreadNo); err != nil {
			return enaerrors.NewDb("insert thread row", err)
		}
	}
	if u.IsNewThread && s.createIndexCounts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO `index_counters` (`board`, `count`) VALUES (?, 1) "+
				"ON DUPLICATE KEY UPDATE `count` = `count` + 1", u.Board); err != nil {
			return enaerrors.NewDb("index_counters insert", err)
		}
	}

	for _, p := range u.Insert {
		if err := s.insertPost(ctx, tx, u.Board, p); err != nil {
			return err
		}
	}
	for _, p := range u.Update {
		if err := s.updatePost(ctx, tx, u.Board, p); err != nil {
			return err
		}
	}
	if len(u.DeletedNos) > 0 {
		ts := s.adjust(u.DeletedTimestamp)
		for _, no := range u.DeletedNos {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO `"+u.Board+"_deleted` SELECT *, ? FROM `"+u.Board+"` WHERE `no` = ?", ts, no); err != nil {
				return enaerrors.NewDb("mark_deleted", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM `"+u.Board+"` WHERE `no` = ?", no); err != nil {
				return enaerrors.NewDb("mark_deleted cleanup", err)
			}
		}
	}
	if u.SetArchived {
		ts := s.adjust(u.ArchivedTimestamp)
		if _, err := tx.ExecContext(ctx,
			"UPDATE `"+u.Board+"_threads` SET `archived` = 1, `timestamp_expired` = ? WHERE `thread_num` = ?",
			ts, u.ThreadNo); err != nil {
			return enaerrors.NewDb("mark_archived", err)
		}
	} else if u.SetAlwaysArchiveTs {
		ts := s.adjust(u.ArchivedTimestamp)
		if _, err := tx.ExecContext(ctx,
			"UPDATE `"+u.Board+"_threads` SET `timestamp_expired` = ? WHERE `thread_num` = ?",
			ts, u.ThreadNo); err != nil {
			return enaerrors.NewDb("set archive timestamp", err)
		}
	}
	if u.SetOpDeleted {
		if _, err := tx.ExecContext(ctx,
			"UPDATE `"+u.Board+"_threads` SET `op_post_deleted` = 1 WHERE `thread_num` = ?", u.ThreadNo); err != nil {
			return enaerrors.NewDb("set_op_deleted", err)
		}
	}
	for _, m := range u.UpsertMedia {
		if err := s.upsertMedia(ctx, tx, u.Board, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) insertPost(ctx context.Context, tx *sql.Tx, board string, p PostRow) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO `"+board+"` (`no`, `thread_no`, `resto`, `sticky`, `closed`, `sub`, `name`, `trip`, "+
			"`id`, `capcode`, `country`, `comment`, `comment_hash`, `spoiler`, `media_hash`, `media_filename`, `timestamp`) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.No, p.ThreadNo, resto(p), p.Sticky, p.Closed, p.Sub, p.Name, p.Trip,
		p.PosterID, p.Capcode, p.Country, p.Comment, p.CommentHash, p.Spoiler, p.MediaHash, p.MediaFilename, s.adjust(p.Timestamp))
	if err != nil {
		return enaerrors.NewDb("upsert_posts insert", err)
	}
	return nil
}

func (s *MySQLStore) updatePost(ctx context.Context, tx *sql.Tx, board string, p PostRow) error {
	// media_filename is never overwritten (spec.md §4.6).
	_, err := tx.ExecContext(ctx,
		"UPDATE `"+board+"` SET `sticky` = ?, `closed` = ?, `sub` = ?, `comment` = ?, `comment_hash` = ?, `spoiler` = ? WHERE `no` = ?",
		p.Sticky, p.Closed, p.Sub, p.Comment, p.CommentHash, p.Spoiler, p.No)
	if err != nil {
		return enaerrors.NewDb("upsert_posts update", err)
	}
	return nil
}

// upsertMedia creates the media_hash's row on first observation (spec.md §3
// "row is inserted/updated on first observation in a post"). Filename
// columns are deliberately left untouched on conflict: they're populated
// later by RecordMediaFile once the file actually lands on disk, and an
// upsert here carries no filename yet.
func (s *MySQLStore) upsertMedia(ctx context.Context, tx *sql.Tx, board string, m MediaRow) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO `"+board+"_images` (`media_hash`, `preview_filename`, `full_filename`, `media_w`, `media_h`, "+
			"`preview_w`, `preview_h`, `file_size`, `banned`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE `media_w` = VALUES(`media_w`), `media_h` = VALUES(`media_h`), "+
			"`preview_w` = VALUES(`preview_w`), `preview_h` = VALUES(`preview_h`), `file_size` = VALUES(`file_size`), "+
			"`banned` = VALUES(`banned`)",
		m.MediaHash, m.PreviewFilename, m.FullFilename, m.W, m.H, m.TnW, m.TnH, m.FileSize, m.Banned)
	if err != nil {
		return enaerrors.NewDb("upsert_media", err)
	}
	return nil
}

func resto(p PostRow) int64 {
	if p.IsOP {
		return 0
	}
	return p.ThreadNo
}

// RecordMediaFile records that a media file of the given kind was
// downloaded, without re-opening the thread-update transaction (the file
// write itself happens outside the transaction per spec.md §4.8, since
// files are content-addressed and retries are idempotent).
func (s *MySQLStore) RecordMediaFile(ctx context.Context, board, mediaHash, kind, filename string) error {
	col := "full_filename"
	if kind == "thumb" {
		col = "preview_filename"
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE `"+board+"_images` SET `"+col+"` = ? WHERE `media_hash` = ?", filename, mediaHash)
	if err != nil {
		return enaerrors.NewDb("record_media_file", err)
	}
	return nil
}

// GetUnarchivedNos filters candidates down to those whose thread row has
// archived=false (spec.md §4.5 step 5 bootstrap and §8 scenario d).
func (s *MySQLStore) GetUnarchivedNos(ctx context.Context, board string, candidates []int64) ([]int64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(candidates)+1)
	args = append(args, board)
	placeholders := ""
	for i, no := range candidates {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, no)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT `thread_num` FROM `"+board+"_threads` WHERE `archived` = 0 AND `thread_num` IN ("+placeholders+")", args[1:]...)
	if err != nil {
		return nil, enaerrors.NewDb("get_unarchived_nos", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var no int64
		if err := rows.Scan(&no); err != nil {
			return nil, enaerrors.NewDb("get_unarchived_nos scan", err)
		}
		out = append(out, no)
	}
	return out, rows.Err()
}

// GetLiveNos returns every thread no not yet marked op_post_deleted
// (bootstrap refetch set, spec.md §4.5 step 5).
func (s *MySQLStore) GetLiveNos(ctx context.Context, board string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT `thread_num` FROM `"+board+"_threads` WHERE `op_post_deleted` = 0")
	if err != nil {
		return nil, enaerrors.NewDb("get_live_nos", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var no int64
		if err := rows.Scan(&no); err != nil {
			return nil, enaerrors.NewDb("get_live_nos scan", err)
		}
		out = append(out, no)
	}
	return out, rows.Err()
}

var _ Store = (*MySQLStore)(nil)

// ErrNoSuchBoard is returned by in-memory test stores for unconfigured
// boards; never returned by MySQLStore (unknown boards are a config-time
// concern there).
var ErrNoSuchBoard = errors.New("persistence: no such board")
