package threadfetcher

// ThreadState is the subset of a thread row's classification-relevant
// fields (spec.md §3's Thread entity), independent of the Persistence
// package's full row shape.
type ThreadState struct {
	Archived    bool
	Closed      bool
	OpDeleted   bool
	LastSeenNo  int64
}

// ApplyArchived implements spec.md §4.6 "archived event → set
// archived=true, preserve closed (do not unlock)". archived never reverts
// to false (property 3), so this is one-directional.
func ApplyArchived(s ThreadState) ThreadState {
	s.Archived = true
	return s
}

// ApplyOpDeleted implements spec.md §4.6 "deleted event → if the OP post
// is among del, set op_post_deleted=true; no further inserts will be
// honored." Once set, it never clears.
func ApplyOpDeleted(s ThreadState, opNo int64, deletedNos []int64) ThreadState {
	for _, no := range deletedNos {
		if no == opNo {
			s.OpDeleted = true
			break
		}
	}
	return s
}

// GateInserts reports whether post inserts into this thread should be
// honored. Once OpDeleted is true, no further post row is ever inserted
// (spec.md §3 invariant 6).
func GateInserts(s ThreadState) bool {
	return !s.OpDeleted
}
