// Package wire decodes the 4chan-family JSON wire format (spec.md §6):
// threads.json, archive.json, and thread/{no}.json responses. Decoding
// uses github.com/json-iterator/go configured
// ConfigCompatibleWithStandardLibrary, matching how the reference corpus's
// own ingestion path favors jsoniter over encoding/json for decode-heavy
// loops. Required fields are pointer-typed so a missing field (nil after
// decode) is distinguishable from an explicit zero value, per spec.md §4.4.
package wire

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/PluieElectrique/ena/internal/enaerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Post is the strict wire-format representation of one thread/{no}.json
// post object. Fields spec.md §6 marks required (`no`, `time`, `resto`) and
// the numeric media fields are pointers, so the Deserializer can tell
// "absent" from "zero"; string fields decode to "" when absent.
type Post struct {
	No    *int64 `json:"no"`
	Resto *int64 `json:"resto"`
	Time  *int64 `json:"time"`

	Sticky *int   `json:"sticky"`
	Closed *int   `json:"closed"`
	Sub    string `json:"sub"`
	Com    string `json:"com"`

	Name    string `json:"name"`
	Trip    string `json:"trip"`
	ID      string `json:"id"`
	Capcode string `json:"capcode"`
	Country string `json:"country"`

	// Media field group: all-or-nothing per spec.md §6. Filename is the
	// group's sentinel — if it's non-empty, every other field in this
	// group must also be present.
	Tim         *int64 `json:"tim"`
	Filename    string `json:"filename"`
	Ext         string `json:"ext"`
	FileSize    *int64 `json:"fsize"`
	Md5         string `json:"md5"`
	W           *int   `json:"w"`
	H           *int   `json:"h"`
	TnW         *int   `json:"tn_w"`
	TnH         *int   `json:"tn_h"`
	FileDeleted *int   `json:"filedeleted"`
	Spoiler     *int   `json:"spoiler"`

	LastModified *int64 `json:"last_modified"`
}

// HasMedia reports whether p carries a media reference at all (filename is
// the sentinel field, matching go-4chan-api's own convention).
func (p Post) HasMedia() bool {
	return p.Filename != ""
}

// ThreadPage is one thread/{no}.json response body.
type ThreadPage struct {
	Posts []Post `json:"posts"`
}

// ThreadSummary is one entry of a threads.json page: {no, last_modified}.
type ThreadSummary struct {
	No           *int64 `json:"no"`
	LastModified *int64 `json:"last_modified"`
}

// ThreadsPageEntry is one page of threads.json: {page, threads}.
type ThreadsPageEntry struct {
	Page    *int            `json:"page"`
	Threads []ThreadSummary `json:"threads"`
}

// DecodeThread parses a thread/{no}.json response, validating every post's
// required fields and media-group all-or-nothingness. Posts failing
// validation are dropped individually (spec.md §7: "WireSchema bubbles to
// ThreadFetcher which logs at warn and continues with the next post"); the
// second return value holds one WireSchema error per rejected post so the
// caller can log them.
func DecodeThread(body []byte) (ThreadPage, []error, error) {
	var page ThreadPage
	if err := json.Unmarshal(body, &page); err != nil {
		return ThreadPage{}, nil, enaerrors.NewWireSchema("thread_page", "body")
	}

	var warnings []error
	valid := page.Posts[:0]
	for _, p := range page.Posts {
		if err := validatePost(p); err != nil {
			warnings = append(warnings, err)
			continue
		}
		valid = append(valid, p)
	}
	page.Posts = valid
	return page, warnings, nil
}

func validatePost(p Post) error {
	if p.No == nil {
		return enaerrors.NewWireSchema("post", "no")
	}
	if p.Time == nil {
		return enaerrors.NewWireSchema("post", "time")
	}
	if p.Resto == nil {
		return enaerrors.NewWireSchema("post", "resto")
	}
	if !p.HasMedia() {
		return nil
	}
	if p.Tim == nil {
		return enaerrors.NewWireSchema("post", "tim")
	}
	if p.Md5 == "" {
		return enaerrors.NewWireSchema("post", "md5")
	}
	if p.Ext == "" {
		return enaerrors.NewWireSchema("post", "ext")
	}
	if p.W == nil {
		return enaerrors.NewWireSchema("post", "w")
	}
	if p.H == nil {
		return enaerrors.NewWireSchema("post", "h")
	}
	if p.FileSize == nil {
		return enaerrors.NewWireSchema("post", "fsize")
	}
	if p.TnW == nil {
		return enaerrors.NewWireSchema("post", "tn_w")
	}
	if p.TnH == nil {
		return enaerrors.NewWireSchema("post", "tn_h")
	}
	return nil
}

// DecodeThreadsPage parses a threads.json body: the full array of pages.
func DecodeThreadsPage(body []byte) ([]ThreadsPageEntry, error) {
	var pages []ThreadsPageEntry
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, enaerrors.NewWireSchema("threads_page", "body")
	}
	for _, page := range pages {
		for _, t := range page.Threads {
			if t.No == nil {
				return nil, enaerrors.NewWireSchema("thread_summary", "no")
			}
			if t.LastModified == nil {
				return nil, enaerrors.NewWireSchema("thread_summary", "last_modified")
			}
		}
	}
	return pages, nil
}

// DecodeArchive parses an archive.json response: a flat list of thread nos.
func DecodeArchive(body []byte) ([]int64, error) {
	var nos []int64
	if err := json.Unmarshal(body, &nos); err != nil {
		return nil, enaerrors.NewWireSchema("archive", "body")
	}
	return nos, nil
}
