package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeThread_AcceptsWellFormedPosts(t *testing.T) {
	body := []byte(`{"posts":[
		{"no":1,"resto":0,"time":1000,"sub":"Title","com":"hello"},
		{"no":2,"resto":1,"time":1001,"com":"reply",
		 "tim":1700000000000,"filename":"img","ext":".jpg","fsize":1234,
		 "md5":"abc123==","w":100,"h":200,"tn_w":50,"tn_h":50}
	]}`)
	page, warnings, err := DecodeThread(body)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, page.Posts, 2)
	assert.True(t, page.Posts[1].HasMedia())
}

func TestDecodeThread_RejectsPostMissingRequiredField(t *testing.T) {
	body := []byte(`{"posts":[
		{"resto":0,"time":1000,"com":"missing no"},
		{"no":2,"resto":0,"time":1001,"com":"fine"}
	]}`)
	page, warnings, err := DecodeThread(body)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Len(t, page.Posts, 1)
	assert.EqualValues(t, 2, *page.Posts[0].No)
}

func TestDecodeThread_RejectsPartialMediaGroup(t *testing.T) {
	body := []byte(`{"posts":[
		{"no":1,"resto":0,"time":1000,"com":"partial media",
		 "tim":1700000000000,"filename":"img","ext":".jpg"}
	]}`)
	page, warnings, err := DecodeThread(body)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Empty(t, page.Posts)
}

func TestDecodeThreadsPage_RequiresNoAndLastModified(t *testing.T) {
	body := []byte(`[{"page":1,"threads":[{"no":10,"last_modified":100}]}]`)
	pages, err := DecodeThreadsPage(body)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Len(t, pages[0].Threads, 1)
	assert.EqualValues(t, 10, *pages[0].Threads[0].No)
}

func TestDecodeThreadsPage_RejectsMissingLastModified(t *testing.T) {
	body := []byte(`[{"page":1,"threads":[{"no":10}]}]`)
	_, err := DecodeThreadsPage(body)
	assert.Error(t, err)
}

func TestDecodeArchive_ParsesFlatList(t *testing.T) {
	body := []byte(`[100, 101, 102]`)
	nos, err := DecodeArchive(body)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102}, nos)
}
