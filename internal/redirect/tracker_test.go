package redirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/mitmsession/pkg/types"
)

func req(url, redirectTo string) *types.TrackedRequest {
	return &types.TrackedRequest{URL: url, Method: "GET", RedirectedToURL: redirectTo}
}

func TestTrack_Chain(t *testing.T) {
	tr := NewTracker()

	r1 := tr.Track(req("http://a/", "http://b/"))
	r2 := tr.Track(req("http://b/", "http://c/"))
	r3 := tr.Track(req("http://c/", ""))

	assert.False(t, r1.IsFromRedirect)
	assert.Empty(t, r1.PreviousURL)

	assert.True(t, r2.IsFromRedirect)
	assert.Equal(t, "http://a/", r2.PreviousURL)
	assert.Equal(t, "http://a/", r2.FirstRedirectingURL)

	assert.True(t, r3.IsFromRedirect)
	assert.Equal(t, "http://b/", r3.PreviousURL)
	assert.Equal(t, "http://a/", r3.FirstRedirectingURL)

	assert.Equal(t, 3, tr.Len())
}

func TestTrack_UnrelatedRequestIsNotRedirect(t *testing.T) {
	tr := NewTracker()
	tr.Track(req("http://a/", "http://b/"))

	r := tr.Track(req("http://z/", ""))
	assert.False(t, r.IsFromRedirect)
	assert.Empty(t, r.FirstRedirectingURL)
}

func TestTrack_OnlyEarlierRequestsCount(t *testing.T) {
	tr := NewTracker()

	// b is tracked before anything redirects to it.
	rb := tr.Track(req("http://b/", ""))
	tr.Track(req("http://a/", "http://b/"))

	assert.False(t, rb.IsFromRedirect)
}

func TestTrack_SelfRedirectDoesNotMatchItself(t *testing.T) {
	tr := NewTracker()
	r := tr.Track(req("http://a/", "http://a/"))
	assert.False(t, r.IsFromRedirect)

	again := tr.Track(req("http://a/", ""))
	assert.True(t, again.IsFromRedirect)
	assert.Equal(t, "http://a/", again.PreviousURL)
	assert.Equal(t, "http://a/", again.FirstRedirectingURL)
}

func TestTrack_CyclicChainTerminates(t *testing.T) {
	tr := NewTracker()

	tr.Track(req("http://a/", "http://b/"))
	tr.Track(req("http://b/", "http://c/"))
	tr.Track(req("http://c/", "http://a/"))
	last := tr.Track(req("http://a/", "http://b/"))

	assert.True(t, last.IsFromRedirect)
	assert.Equal(t, "http://c/", last.PreviousURL)
	assert.Equal(t, "http://a/", last.FirstRedirectingURL)
	assert.Equal(t, 4, tr.Len())
}

func TestChainStart_StopsAtRepeatedEntry(t *testing.T) {
	tr := NewTracker()

	// Build a log whose redirect links point at each other. Track can never
	// produce this, so append directly.
	tr.appendLocked(&types.TrackedRequest{URL: "http://x/", RedirectedToURL: "http://y/", IsFromRedirect: true})
	tr.appendLocked(&types.TrackedRequest{URL: "http://y/", RedirectedToURL: "http://x/", IsFromRedirect: true})

	r := tr.Track(req("http://x/", ""))

	assert.True(t, r.IsFromRedirect)
	assert.Equal(t, "http://y/", r.PreviousURL)
	assert.Equal(t, "http://x/", r.FirstRedirectingURL)
}

func TestTrack_EarliestPredecessorWins(t *testing.T) {
	tr := NewTracker()
	tr.Track(req("http://first/", "http://target/"))
	tr.Track(req("http://second/", "http://target/"))

	r := tr.Track(req("http://target/", ""))
	assert.Equal(t, "http://first/", r.PreviousURL)

	froms := tr.RedirectsTo("http://target/")
	require.Len(t, froms, 2)
	assert.Equal(t, "http://first/", froms[0].URL)
	assert.Equal(t, "http://second/", froms[1].URL)
}

func TestTrack_OverwritesCallerSuppliedFlags(t *testing.T) {
	tr := NewTracker()
	r := &types.TrackedRequest{URL: "http://a/", IsFromRedirect: true, PreviousURL: "bogus"}
	tr.Track(r)

	assert.False(t, r.IsFromRedirect)
	assert.Empty(t, r.PreviousURL)
}

func TestRequests_PreservesArrivalOrder(t *testing.T) {
	tr := NewTracker()
	urls := []string{"http://1/", "http://2/", "http://3/"}
	for _, u := range urls {
		tr.Track(req(u, ""))
	}

	got := tr.Requests()
	require.Len(t, got, 3)
	for i, u := range urls {
		assert.Equal(t, u, got[i].URL)
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.Track(req("http://a/", "http://b/"))
	tr.Reset()

	assert.Equal(t, 0, tr.Len())
	assert.Nil(t, tr.RedirectsTo("http://b/"))

	r := tr.Track(req("http://b/", ""))
	assert.False(t, r.IsFromRedirect)
}
