package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snap(nos ...int64) Snapshot {
	s := make(Snapshot, len(nos))
	for i, no := range nos {
		s[i] = Entry{No: no, LastModifiedAPI: 1}
	}
	return s
}

// scenario (a): deletion detection.
func TestClassify_DeletionDetection(t *testing.T) {
	prev := snap(10, 9, 8, 7)
	curr := snap(11, 10, 7)
	_, _, removed := Diff(prev, curr)
	assert.ElementsMatch(t, []int64{9, 8}, removed)

	deleted, bumpedOff := Classify(prev, curr, removed)
	assert.ElementsMatch(t, []int64{9, 8}, deleted)
	assert.Empty(t, bumpedOff)
}

// scenario (b): bump-off not misclassified.
func TestClassify_BumpOffNotMisclassified(t *testing.T) {
	prev := snap(10, 9, 8, 7)
	curr := snap(12, 11, 10, 9)
	_, _, removed := Diff(prev, curr)
	assert.ElementsMatch(t, []int64{8, 7}, removed)

	deleted, bumpedOff := Classify(prev, curr, removed)
	assert.Empty(t, deleted)
	assert.ElementsMatch(t, []int64{8, 7}, bumpedOff)
}

// scenario (c): no overlap between polls falls back to conservative
// bumped_off classification.
func TestClassify_NoOverlapFallsBackToBumpedOff(t *testing.T) {
	prev := snap(5, 4, 3)
	curr := snap(105, 104, 103)
	_, _, removed := Diff(prev, curr)
	assert.ElementsMatch(t, []int64{5, 4, 3}, removed)

	deleted, bumpedOff := Classify(prev, curr, removed)
	assert.Empty(t, deleted)
	assert.ElementsMatch(t, []int64{5, 4, 3}, bumpedOff)
}

func TestClassify_EmptySnapshotFallsBackToBumpedOff(t *testing.T) {
	prev := snap(5, 4, 3)
	var curr Snapshot
	deleted, bumpedOff := Classify(prev, curr, []int64{5, 4, 3})
	assert.Empty(t, deleted)
	assert.ElementsMatch(t, []int64{5, 4, 3}, bumpedOff)
}

func TestClassify_ExcludesStickiesFromAnchorSelection(t *testing.T) {
	prev := Snapshot{
		{No: 999, LastModifiedAPI: 1, Sticky: true},
		{No: 10, LastModifiedAPI: 1},
		{No: 9, LastModifiedAPI: 1},
		{No: 8, LastModifiedAPI: 1},
		{No: 7, LastModifiedAPI: 1},
	}
	curr := Snapshot{
		{No: 999, LastModifiedAPI: 1, Sticky: true},
		{No: 11, LastModifiedAPI: 1},
		{No: 10, LastModifiedAPI: 1},
		{No: 7, LastModifiedAPI: 1},
	}
	_, _, removed := Diff(prev, curr)
	assert.ElementsMatch(t, []int64{9, 8}, removed)

	deleted, bumpedOff := Classify(prev, curr, removed)
	assert.ElementsMatch(t, []int64{9, 8}, deleted)
	assert.Empty(t, bumpedOff)
}

func TestDiff_DetectsModifiedLastModifiedApi(t *testing.T) {
	prev := Snapshot{{No: 1, LastModifiedAPI: 100}, {No: 2, LastModifiedAPI: 200}}
	curr := Snapshot{{No: 1, LastModifiedAPI: 150}, {No: 2, LastModifiedAPI: 200}, {No: 3, LastModifiedAPI: 300}}
	added, modified, removed := Diff(prev, curr)
	assert.Equal(t, []int64{3}, added)
	assert.Equal(t, []int64{1}, modified)
	assert.Empty(t, removed)
}

func TestBuildEvents_CoversAllKinds(t *testing.T) {
	events := BuildEvents([]int64{1}, []int64{2}, []int64{3}, []int64{4}, []int64{5})
	kinds := map[EventKind]int64{}
	for _, e := range events {
		kinds[e.Kind] = e.No
	}
	assert.Equal(t, int64(1), kinds[EventNew])
	assert.Equal(t, int64(2), kinds[EventModified])
	assert.Equal(t, int64(3), kinds[EventDeleted])
	assert.Equal(t, int64(4), kinds[EventBumpedOff])
	assert.Equal(t, int64(5), kinds[EventArchived])
}
