// Package threadfetcher holds the ThreadFetcher logic of spec.md §4.6: post
// diffing against stored state, should_update semantics, and the archived
// and op-deleted effects on the thread state. The per-thread conditional
// fetch itself is done by internal/supervisor (fetchThread). Concurrency safety for
// same-thread updates is provided by Sequencer, a lazily-populated
// per-thread lock table (spec.md §9 "a locking or actor-per-thread layer
// is mandatory inside a single board").
package threadfetcher

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/PluieElectrique/ena/internal/htmlnorm"
	"github.com/PluieElectrique/ena/internal/wire"
)

// StoredPost is the subset of a previously-persisted post row needed to
// compute should_update and the insert/update/delete diff, independent of
// the Persistence package's full row shape.
type StoredPost struct {
	No          int64
	IsOP        bool
	Sticky      bool
	Closed      bool
	Sub         string
	CommentHash uint64
	Spoiler     bool
	HasMedia    bool
}

// DiffResult is the outcome of diffing a thread's new post list against its
// stored state (spec.md §4.6).
type DiffResult struct {
	Insert []wire.Post
	Update []wire.Post
	Delete []int64 // nos present in old but absent from new
}

// Diff computes ins/del/upd per spec.md §4.6. oldPosts is keyed by no.
func Diff(oldPosts map[int64]StoredPost, newPosts []wire.Post) DiffResult {
	var result DiffResult
	seen := make(map[int64]bool, len(newPosts))

	for _, p := range newPosts {
		no := *p.No
		seen[no] = true
		old, existed := oldPosts[no]
		if !existed {
			result.Insert = append(result.Insert, p)
			continue
		}
		if ShouldUpdate(p, old) {
			result.Update = append(result.Update, p)
		}
	}

	for no := range oldPosts {
		if !seen[no] {
			result.Delete = append(result.Delete, no)
		}
	}
	return result
}

// ShouldUpdate implements spec.md §4.6's should_update predicate: true iff
// the post is an OP and sticky/closed/sub changed, OR the xxh64 of the raw
// comment changed, OR the spoiler flag on a media-bearing post changed.
// ShouldUpdate(p, p) is false for any post p (property 5/7: diffing a post
// against its own unchanged state never triggers an update).
func ShouldUpdate(newPost wire.Post, old StoredPost) bool {
	isOP := newPost.Resto != nil && *newPost.Resto == 0
	if isOP && old.IsOP {
		newSticky := newPost.Sticky != nil && *newPost.Sticky != 0
		newClosed := newPost.Closed != nil && *newPost.Closed != 0
		if newSticky != old.Sticky || newClosed != old.Closed || newPost.Sub != old.Sub {
			return true
		}
	}

	if CommentHash(newPost.Com) != old.CommentHash {
		return true
	}

	if newPost.HasMedia() || old.HasMedia {
		newSpoiler := newPost.Spoiler != nil && *newPost.Spoiler != 0
		if newSpoiler != old.Spoiler {
			return true
		}
	}

	return false
}

// CommentHash computes the 64-bit xxHash fingerprint of a raw comment
// body, per spec.md §3's Post.comment-fingerprint attribute.
func CommentHash(rawComment string) uint64 {
	return xxhash.Sum64String(rawComment)
}

// NormalizeComment applies the htmlnorm grammar to a raw comment body
// before it is persisted (spec.md §4.6).
func NormalizeComment(rawComment string) string {
	return htmlnorm.Normalize(rawComment)
}

// Sequencer serializes per-thread updates within a board: multiple threads
// may be fetched concurrently, but two updates to the same thread are
// never allowed to race (spec.md §5).
type Sequencer struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewSequencer constructs an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the per-thread lock for no, creating it on first use, and
// returns an unlock func the caller must invoke exactly once.
func (s *Sequencer) Lock(no int64) func() {
	s.mu.Lock()
	l, ok := s.locks[no]
	if !ok {
		l = &sync.Mutex{}
		s.locks[no] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
