package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	vkerrors "vkharvest/pkg/errors"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/ui"
	"vkharvest/pkg/vk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePages serves pages from a function of the call index
type fakePages struct {
	mu      sync.Mutex
	serve   func(n int, params url.Values) (*vk.Page, error)
	methods []string
	calls   []url.Values
}

func scripted(pages ...*vk.Page) *fakePages {
	return &fakePages{serve: func(n int, _ url.Values) (*vk.Page, error) {
		if n >= len(pages) {
			return nil, errors.New("no more pages")
		}
		return pages[n], nil
	}}
}

func (f *fakePages) Call(ctx context.Context, method string, params url.Values) (*vk.Page, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.methods = append(f.methods, method)
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	return f.serve(n, params)
}

func (f *fakePages) param(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var values []string
	for _, p := range f.calls {
		values = append(values, p.Get(key))
	}
	return values
}

// fakeStreams serves image bytes and counts fetches
type fakeStreams struct {
	calls   int32
	failURL string
}

func (f *fakeStreams) FetchStream(ctx context.Context, u string) (io.ReadCloser, error) {
	atomic.AddInt32(&f.calls, 1)
	if u == f.failURL {
		return nil, &vkerrors.Error{Type: vkerrors.ErrorTypeNetwork, Message: "connection reset"}
	}
	return io.NopCloser(strings.NewReader("image:" + u)), nil
}

// countingReporter records how the engine drives progress
type countingReporter struct {
	*ui.Tracker
	inits    int
	initMax  int
	advances int32
}

func newCountingReporter() *countingReporter {
	return &countingReporter{Tracker: ui.NewTracker(nil)}
}

func (r *countingReporter) Initialize(max int, label string) {
	r.inits++
	r.initMax = max
	r.Tracker.Initialize(max, label)
}

func (r *countingReporter) Advance(delta float64) {
	atomic.AddInt32(&r.advances, 1)
	r.Tracker.Advance(delta)
}

func newTestSession(t *testing.T, root string, v Variant) (*Session, *countingReporter) {
	t.Helper()
	reporter := newCountingReporter()
	s, err := NewSession(root, v, reporter)
	require.NoError(t, err)
	return s, reporter
}

func wallPages() []*vk.Page {
	return []*vk.Page{
		{Count: 3, Items: []json.RawMessage{
			postJSON(testDate, "https://cdn/a.jpg", "https://cdn/b.jpg"),
			postJSON(testDate+60, "type:link"),
		}},
		{Count: 3, Items: []json.RawMessage{
			postJSON(testDate+120, "https://cdn/c.jpg"),
		}},
	}
}

func assertFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, names, got)
}

func TestRun_WallFeed(t *testing.T) {
	root := t.TempDir()
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, reporter := newTestSession(t, root, wall)

	pages := scripted(wallPages()...)
	streams := &fakeStreams{}
	log := logger.NewTestLogger()

	summary := NewHarvester(pages, streams, 4, log).Run(context.Background(), s)

	assert.Equal(t, Completed, summary.Outcome)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 3, summary.Tasks)
	assert.Equal(t, 3, summary.Downloaded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, s.ID, summary.SessionID)
	assert.Equal(t, "durov", summary.Label)

	assert.Equal(t, []string{"0", "2"}, pages.param("offset"))
	assert.Equal(t, []string{"durov", "durov"}, pages.param("domain"))
	assert.Equal(t, []string{vk.MethodWallGet, vk.MethodWallGet}, pages.methods)
	assert.Equal(t, int32(3), atomic.LoadInt32(&streams.calls))

	assert.Equal(t, filepath.Join(root, "walls", "durov"), s.Dir)
	assertFiles(t, s.Dir, "20231114-221320-00.jpg", "20231114-221320-01.jpg", "20231114-221520-00.jpg")

	data, err := os.ReadFile(filepath.Join(s.Dir, "20231114-221320-01.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image:https://cdn/b.jpg", string(data))

	assert.Equal(t, 1, reporter.inits)
	assert.Equal(t, 3, reporter.initMax)
	assert.Equal(t, 3, reporter.Value())
	assert.False(t, log.HasError())
}

func TestRun_RepeatedRunFetchesNothing(t *testing.T) {
	root := t.TempDir()
	streams := &fakeStreams{}

	for run := 0; run < 2; run++ {
		wall, err := NewWallFeed("durov", 2, 0)
		require.NoError(t, err)
		s, _ := newTestSession(t, root, wall)

		summary := NewHarvester(scripted(wallPages()...), streams, 4, logger.NewNopLogger()).Run(context.Background(), s)
		require.Equal(t, Completed, summary.Outcome)

		if run == 1 {
			assert.Equal(t, 0, summary.Downloaded)
			assert.Equal(t, 3, summary.Skipped)
		}
	}

	assert.Equal(t, int32(3), atomic.LoadInt32(&streams.calls), "existing files must never be fetched again")
}

func TestRun_ChatAttachments(t *testing.T) {
	root := t.TempDir()
	chat, err := NewChatAttachments("c7", 2, "")
	require.NoError(t, err)
	s, reporter := newTestSession(t, root, chat)

	pages := scripted(
		&vk.Page{NextFrom: "100/10", Items: []json.RawMessage{
			historyJSON(120, 501, testDate, "https://cdn/501.jpg"),
			historyJSON(110, 502, testDate, "https://cdn/502.jpg"),
		}},
		&vk.Page{Items: []json.RawMessage{
			historyJSON(90, 503, testDate, "https://cdn/503.jpg"),
		}},
	)

	summary := NewHarvester(pages, &fakeStreams{}, 0, logger.NewNopLogger()).Run(context.Background(), s)

	assert.Equal(t, Completed, summary.Outcome)
	assert.Equal(t, 3, summary.Downloaded)
	assert.Equal(t, []string{"", "100/10"}, pages.param("start_from"))
	assert.Equal(t, []string{"2000000007", "2000000007"}, pages.param("peer_id"))
	assertFiles(t, filepath.Join(root, "chats", "c7"),
		"20231114-221320-501.jpg", "20231114-221320-502.jpg", "20231114-221320-503.jpg")

	assert.Equal(t, 100, reporter.initMax)
	assert.Equal(t, 100, reporter.Value(), "finalize moves the display to the total")
}

func TestRun_Favorites(t *testing.T) {
	root := t.TempDir()
	fave, err := NewFavorites(50, 0)
	require.NoError(t, err)
	s, _ := newTestSession(t, root, fave)

	pages := scripted(&vk.Page{Count: 1, Items: []json.RawMessage{postJSON(testDate, "https://cdn/f.jpg")}})
	summary := NewHarvester(pages, &fakeStreams{}, 2, logger.NewNopLogger()).Run(context.Background(), s)

	assert.Equal(t, Completed, summary.Outcome)
	assert.Equal(t, []string{vk.MethodFaveGetPosts}, pages.methods)
	assert.Equal(t, []string{FavoritesDomain}, pages.param("domain"))
	assertFiles(t, filepath.Join(root, "faves"), "20231114-221320-00.jpg")
}

func TestRun_APIErrorStopsSession(t *testing.T) {
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, reporter := newTestSession(t, t.TempDir(), wall)

	pages := scripted(&vk.Page{Error: &vkerrors.APIError{Code: 15, Message: "Access denied"}})
	log := logger.NewTestLogger()
	summary := NewHarvester(pages, &fakeStreams{}, 2, log).Run(context.Background(), s)

	assert.Equal(t, Failed, summary.Outcome)
	assert.Equal(t, 0, summary.Pages)
	assert.Len(t, pages.calls, 1)
	assert.Len(t, log.GetMessagesByLevel(logger.LevelCritical), 1)
	assert.Equal(t, 0, reporter.inits, "a rejected first page must not initialize progress")
}

func TestRun_TransportErrorStopsSession(t *testing.T) {
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, _ := newTestSession(t, t.TempDir(), wall)

	pages := &fakePages{serve: func(n int, _ url.Values) (*vk.Page, error) {
		if n == 0 {
			return wallPages()[0], nil
		}
		return nil, &vkerrors.Error{Type: vkerrors.ErrorTypeNetwork, Message: "timeout"}
	}}
	log := logger.NewTestLogger()
	summary := NewHarvester(pages, &fakeStreams{}, 2, log).Run(context.Background(), s)

	assert.Equal(t, Failed, summary.Outcome)
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 2, summary.Downloaded)
	assert.True(t, log.HasMessage("Failed to fetch page"))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, _ := newTestSession(t, t.TempDir(), wall)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pages := scripted(wallPages()...)
	summary := NewHarvester(pages, &fakeStreams{}, 2, logger.NewNopLogger()).Run(ctx, s)

	assert.Equal(t, Cancelled, summary.Outcome)
	assert.Empty(t, pages.calls)
}

func TestRun_CancelledMidSession(t *testing.T) {
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, _ := newTestSession(t, t.TempDir(), wall)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pages := &fakePages{serve: func(n int, _ url.Values) (*vk.Page, error) {
		// the signal arrives while the first page is being served
		cancel()
		return &vk.Page{Count: 10, Items: []json.RawMessage{postJSON(testDate, "https://cdn/a.jpg")}}, nil
	}}
	streams := &fakeStreams{}
	summary := NewHarvester(pages, streams, 2, logger.NewNopLogger()).Run(ctx, s)

	assert.Equal(t, Cancelled, summary.Outcome)
	assert.Len(t, pages.calls, 1, "no page is requested after cancellation")
	assert.Equal(t, 1, summary.Downloaded, "downloads of the current page still complete")
	assert.Equal(t, int32(1), atomic.LoadInt32(&streams.calls))
}

func TestRun_CancellationDoesNotAbortPageRequest(t *testing.T) {
	root := t.TempDir()
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, err := NewSession(root, wall, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiCalls, imageCalls int32
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/method/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		// the signal arrives while the response is still being prepared
		cancel()
		time.Sleep(100 * time.Millisecond)
		fmt.Fprintf(w, `{"response":{"count":10,"items":[%s]}}`, postJSON(testDate, server.URL+"/img/a"))
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&imageCalls, 1)
		io.WriteString(w, "jpeg")
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	client := vk.NewClient(vk.Options{
		Endpoint:    server.URL + "/method/",
		AccessToken: "token",
		APIVersion:  "5.131",
		Timeout:     5 * time.Second,
	}, logger.NewNopLogger())

	summary := NewHarvester(client, client, 2, logger.NewNopLogger()).Run(ctx, s)

	assert.Equal(t, Cancelled, summary.Outcome)
	assert.Equal(t, 1, summary.Pages, "the page in flight is still processed")
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&apiCalls), "no page is requested after cancellation")
	assert.Equal(t, int32(1), atomic.LoadInt32(&imageCalls))
	assertFiles(t, filepath.Join(root, "walls", "durov"), "20231114-221320-00.jpg")
}

func TestRun_PageWithoutTasks(t *testing.T) {
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, reporter := newTestSession(t, t.TempDir(), wall)

	pages := scripted(
		&vk.Page{Count: 4, Items: []json.RawMessage{postJSON(testDate, "type:video"), postJSON(testDate, "type:link")}},
		&vk.Page{Count: 4, Items: []json.RawMessage{postJSON(testDate, "https://cdn/a.jpg"), postJSON(testDate+1, "type:poll")}},
	)
	log := logger.NewTestLogger()
	summary := NewHarvester(pages, &fakeStreams{}, 2, log).Run(context.Background(), s)

	assert.Equal(t, Completed, summary.Outcome)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 1, summary.Tasks)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reporter.advances), "only the task of the second page advances progress")
	assert.Equal(t, 4, reporter.Value())
	assert.False(t, log.HasError())
}

func TestRun_UndecodableItemIsSkipped(t *testing.T) {
	wall, err := NewWallFeed("durov", 50, 0)
	require.NoError(t, err)
	s, _ := newTestSession(t, t.TempDir(), wall)

	pages := scripted(&vk.Page{Count: 2, Items: []json.RawMessage{
		json.RawMessage(`"deleted"`),
		postJSON(testDate, "https://cdn/a.jpg"),
	}})
	log := logger.NewTestLogger()
	summary := NewHarvester(pages, &fakeStreams{}, 2, log).Run(context.Background(), s)

	assert.Equal(t, Completed, summary.Outcome)
	assert.Equal(t, 1, summary.Downloaded)
	assert.True(t, log.HasMessage("Skipping undecodable item"))
}

func TestRun_FailedDownloadDoesNotStopSession(t *testing.T) {
	wall, err := NewWallFeed("durov", 2, 0)
	require.NoError(t, err)
	s, reporter := newTestSession(t, t.TempDir(), wall)

	streams := &fakeStreams{failURL: "https://cdn/b.jpg"}
	summary := NewHarvester(scripted(wallPages()...), streams, 2, logger.NewNopLogger()).Run(context.Background(), s)

	assert.Equal(t, Completed, summary.Outcome)
	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, reporter.Value())
}

// advanceOnlyReporter ignores Settle so only the per-task shares move it
type advanceOnlyReporter struct {
	*countingReporter
}

func (advanceOnlyReporter) Settle(int) {}

func TestRun_UnevenExpansionReachesItemCount(t *testing.T) {
	wall, err := NewWallFeed("durov", 3, 0)
	require.NoError(t, err)
	reporter := newCountingReporter()
	s, err := NewSession(t.TempDir(), wall, advanceOnlyReporter{reporter})
	require.NoError(t, err)

	// three items expanding into seven tasks on a page of a larger wall
	pages := &fakePages{serve: func(n int, _ url.Values) (*vk.Page, error) {
		if n > 0 {
			return nil, errors.New("stop")
		}
		return &vk.Page{Count: 100, Items: []json.RawMessage{
			postJSON(testDate, "https://cdn/1", "https://cdn/2", "https://cdn/3", "https://cdn/4"),
			postJSON(testDate+1, "https://cdn/5", "https://cdn/6"),
			postJSON(testDate+2, "https://cdn/7"),
		}}, nil
	}}
	NewHarvester(pages, &fakeStreams{}, 0, logger.NewNopLogger()).Run(context.Background(), s)

	assert.Equal(t, 3, reporter.Value())
	assert.Equal(t, int32(7), atomic.LoadInt32(&reporter.advances))
}

func TestRun_StalledChatCursor(t *testing.T) {
	chat, err := NewChatAttachments("c7", 2, "")
	require.NoError(t, err)
	s, _ := newTestSession(t, t.TempDir(), chat)

	pages := &fakePages{serve: func(n int, _ url.Values) (*vk.Page, error) {
		return &vk.Page{NextFrom: "50/5", Items: []json.RawMessage{
			historyJSON(60, int64(600+n), testDate, fmt.Sprintf("https://cdn/%d", n)),
		}}, nil
	}}
	summary := NewHarvester(pages, &fakeStreams{}, 2, logger.NewNopLogger()).Run(context.Background(), s)

	assert.Equal(t, Failed, summary.Outcome)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 2, summary.Downloaded, "items of the stalled page are still saved")
}

func TestRun_OffsetsOnlyGrow(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 30; trial++ {
		count := rng.Intn(500)
		pageSize := 1 + rng.Intn(60)
		start := rng.Intn(50)

		wall, err := NewWallFeed("durov", pageSize, start)
		require.NoError(t, err)
		s, reporter := newTestSession(t, t.TempDir(), wall)

		pages := &fakePages{serve: func(int, url.Values) (*vk.Page, error) {
			return &vk.Page{Count: count}, nil
		}}
		summary := NewHarvester(pages, &fakeStreams{}, 2, logger.NewNopLogger()).Run(context.Background(), s)
		require.Equal(t, Completed, summary.Outcome)

		offsets := pages.param("offset")
		prev := -1
		for _, o := range offsets {
			v, err := strconv.Atoi(o)
			require.NoError(t, err)
			require.Greater(t, v, prev, "count=%d pageSize=%d start=%d", count, pageSize, start)
			prev = v
		}

		want := 1
		if count > start {
			want = (count - start + pageSize - 1) / pageSize
		}
		assert.Len(t, offsets, want, "count=%d pageSize=%d start=%d", count, pageSize, start)
		assert.Equal(t, count, reporter.Value())
	}
}

func TestRun_ChatCursorOnlyMovesBack(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 20; trial++ {
		n := 1 + rng.Intn(15)
		cursors := make([]string, n)
		id := 100000
		for i := range cursors {
			id -= 1 + rng.Intn(500)
			cursors[i] = fmt.Sprintf("%d/%d", id, id/10)
		}
		cursors[n-1] = ""

		chat, err := NewChatAttachments("c7", 200, "")
		require.NoError(t, err)
		s, _ := newTestSession(t, t.TempDir(), chat)

		pages := &fakePages{serve: func(i int, _ url.Values) (*vk.Page, error) {
			return &vk.Page{NextFrom: cursors[i]}, nil
		}}
		summary := NewHarvester(pages, &fakeStreams{}, 2, logger.NewNopLogger()).Run(context.Background(), s)
		require.Equal(t, Completed, summary.Outcome)

		sent := pages.param("start_from")
		require.Len(t, sent, n)
		assert.Equal(t, "", sent[0])
		for i := 1; i < n; i++ {
			assert.Equal(t, cursors[i-1], sent[i])
		}
	}
}
