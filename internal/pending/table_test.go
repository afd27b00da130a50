package pending

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/mitmsession/pkg/types"
)

func newTestTable(t *testing.T, maxItems int) *Table {
	t.Helper()
	tbl, err := NewTable(maxItems)
	require.NoError(t, err)
	return tbl
}

func resource(url, method, id string) types.BrowserResource {
	return types.BrowserResource{
		BrowserRequestID: id,
		URL:              url,
		Method:           method,
		ResourceType:     types.ResourceDocument,
		DocumentURL:      "https://example.com/",
		HasUserGesture:   true,
	}
}

func TestTable_ReportThenAwait(t *testing.T) {
	tbl := newTestTable(t, 16)

	assert.True(t, tbl.Report(resource("https://example.com/a", "GET", "r1")))

	got, err := tbl.Await(context.Background(), "https://example.com/a", "GET")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.BrowserRequestID)
	assert.True(t, got.HasUserGesture)
}

func TestTable_AwaitThenReport(t *testing.T) {
	tbl := newTestTable(t, 16)

	done := make(chan types.BrowserResource, 1)
	go func() {
		got, err := tbl.Await(context.Background(), "https://example.com/a", "GET")
		if err == nil {
			done <- got
		}
	}()

	// Give the waiter time to create the rendezvous point first.
	time.Sleep(10 * time.Millisecond)
	tbl.Report(resource("https://example.com/a", "GET", "r1"))

	select {
	case got := <-done:
		assert.Equal(t, "r1", got.BrowserRequestID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_InterleavingsConverge(t *testing.T) {
	// Many keys, each awaited and reported from racing goroutines.
	tbl := newTestTable(t, 1024)
	const n = 100

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://example.com/%d", i)
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			got, err := tbl.Await(context.Background(), url, "GET")
			if err == nil {
				results[i] = got.BrowserRequestID
			}
		}(i)
		go func() {
			defer wg.Done()
			tbl.Report(resource(url, "GET", url))
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.NotEmpty(t, results[i])
	}
	assert.Equal(t, n, tbl.Len())
}

func TestTable_MethodIsPartOfKey(t *testing.T) {
	tbl := newTestTable(t, 16)
	tbl.Report(resource("https://example.com/a", "POST", "post"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tbl.Await(ctx, "https://example.com/a", "GET")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Duplicate (url, method) requests collapse onto one record. Whether retries
// should instead get records of their own is still open; for now each report
// overwrites the shared record, so every waiter sees the latest metadata.
func TestTable_DuplicateRequestsCollapse(t *testing.T) {
	tbl := newTestTable(t, 16)

	assert.True(t, tbl.Report(resource("https://example.com/a", "GET", "first")))
	assert.False(t, tbl.Report(resource("https://example.com/a", "GET", "second")))

	for i := 0; i < 2; i++ {
		got, err := tbl.Await(context.Background(), "https://example.com/a", "GET")
		require.NoError(t, err)
		assert.Equal(t, "second", got.BrowserRequestID)
	}
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_LaterReportReachesWaiterBlockedBeforeIt(t *testing.T) {
	tbl := newTestTable(t, 16)

	got := make(chan types.BrowserResource, 1)
	go func() {
		res, err := tbl.Await(context.Background(), "https://example.com/b", "GET")
		if err == nil {
			got <- res
		}
	}()

	require.Eventually(t, func() bool { return tbl.Len() == 1 }, time.Second, time.Millisecond)
	tbl.Report(resource("https://example.com/b", "GET", "first"))
	tbl.Report(resource("https://example.com/b", "GET", "second"))

	res, err := tbl.Await(context.Background(), "https://example.com/b", "GET")
	require.NoError(t, err)
	assert.Equal(t, "second", res.BrowserRequestID)

	select {
	case r := <-got:
		assert.Contains(t, []string{"first", "second"}, r.BrowserRequestID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
}

func TestTable_CloseReleasesWaiters(t *testing.T) {
	tbl := newTestTable(t, 16)

	errs := make(chan error, 1)
	go func() {
		_, err := tbl.Await(context.Background(), "https://example.com/never", "GET")
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	tbl.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released on close")
	}

	assert.Equal(t, 0, tbl.Len())

	_, err := tbl.Await(context.Background(), "https://example.com/other", "GET")
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, tbl.Report(resource("https://example.com/other", "GET", "x")))

	tbl.Close() // idempotent
}

func TestTable_EvictionRejectsUnresolved(t *testing.T) {
	tbl := newTestTable(t, 1)

	errs := make(chan error, 1)
	go func() {
		_, err := tbl.Await(context.Background(), "https://example.com/old", "GET")
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)

	tbl.Report(resource("https://example.com/new", "GET", "new"))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrEvicted)
	case <-time.After(time.Second):
		t.Fatal("evicted waiter was not released")
	}

	_, ok := tbl.Lookup("https://example.com/old", "GET")
	assert.False(t, ok)
	l, ok := tbl.Lookup("https://example.com/new", "GET")
	require.True(t, ok)
	assert.True(t, l.Resolved())
}

func TestNewTable_RejectsNonPositiveSize(t *testing.T) {
	_, err := NewTable(0)
	assert.Error(t, err)
}
