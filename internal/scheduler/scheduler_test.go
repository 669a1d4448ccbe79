package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/fetchpool/internal/output"
	"github.com/tanq16/fetchpool/internal/utils"
)

type record struct {
	level   zerolog.Level
	message string
}

type captureSink struct {
	mu      sync.Mutex
	records []record
}

func (c *captureSink) Record(level zerolog.Level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record{level: level, message: message})
}

func (c *captureSink) messages(level zerolog.Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.records {
		if r.level == level {
			out = append(out, r.message)
		}
	}
	return out
}

type panicSource struct{}

func (panicSource) Open(context.Context, string) (io.ReadCloser, error) {
	panic("source exploded")
}

func newTestClient() utils.HTTPDoer {
	return utils.NewFetchHTTPClient(utils.HTTPClientConfig{Timeout: 10 * time.Second})
}

func TestNewCreatesOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "images")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected output directory to exist, stat err = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected writability probe to be removed, found %d entries", len(entries))
	}
	if s.PoolSize() != DefaultPoolSize() {
		t.Errorf("expected default pool size %d, got %d", DefaultPoolSize(), s.PoolSize())
	}
}

func TestNewStorageInitError(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := New(filepath.Join(blocker, "images"))
	var storageErr *utils.StorageInitError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageInitError, got %v", err)
	}
}

func TestNewUnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := filepath.Join(t.TempDir(), "readonly")
	if err := os.Mkdir(dir, 0555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0755)
	_, err := New(dir)
	var storageErr *utils.StorageInitError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageInitError, got %v", err)
	}
}

func TestScenarioSuccessAndMissing(t *testing.T) {
	payload := []byte("\xff\xd8\xff\xe0 fake jpeg payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a.jpg" {
			w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "images")
	var logBuf bytes.Buffer
	s, err := New(dir, WithSink(output.NewLogger(false, &logBuf)), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.SubmitURL(server.URL+"/a.jpg", "0.jpg"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.SubmitURL(server.URL+"/missing", "1.jpg"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Drain()

	got, err := os.ReadFile(filepath.Join(dir, "0.jpg"))
	if err != nil {
		t.Fatalf("read 0.jpg: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("0.jpg content mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "1.jpg")); !os.IsNotExist(err) {
		t.Errorf("expected 1.jpg to be absent, stat err = %v", err)
	}

	var infos, errs []string
	for _, line := range strings.Split(strings.TrimSpace(logBuf.String()), "\n") {
		switch {
		case strings.Contains(line, " - INFO - "):
			infos = append(infos, line)
		case strings.Contains(line, " - ERROR - "):
			errs = append(errs, line)
		}
	}
	if len(infos) != 1 || !strings.Contains(infos[0], "0.jpg") {
		t.Errorf("expected one INFO line for 0.jpg, got %q", infos)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "1.jpg") || !strings.Contains(errs[0], "404") {
		t.Errorf("expected one ERROR line for 1.jpg with status 404, got %q", errs)
	}

	stats := s.Stats()
	if stats.Submitted != 2 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/ok/"):
			w.Write([]byte(r.URL.Path))
		case strings.HasPrefix(r.URL.Path, "/hang/"):
			// closes the connection mid-response
			hj, _ := w.(http.Hijacker)
			conn, buf, err := hj.Hijack()
			if err != nil {
				return
			}
			buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 50\r\n\r\npartial")
			buf.Flush()
			conn.Close()
		default:
			http.Error(w, "server error", http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	dir := t.TempDir()
	sink := &captureSink{}
	s, err := New(dir, WithPoolSize(4), WithSink(sink), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	const n = 24
	reachable := map[string]bool{}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%d.jpg", i)
		var url string
		switch i % 4 {
		case 0, 1:
			url = fmt.Sprintf("%s/ok/%d", server.URL, i)
			reachable[name] = true
		case 2:
			url = fmt.Sprintf("%s/fail/%d", server.URL, i)
		default:
			if i%8 == 3 {
				url = fmt.Sprintf("%s/hang/%d", server.URL, i)
			} else {
				url = fmt.Sprintf("%s/x/%d", deadURL, i)
			}
		}
		if err := s.SubmitURL(url, name); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	s.Drain()

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%d.jpg", i)
		data, err := os.ReadFile(filepath.Join(dir, name))
		if reachable[name] {
			if err != nil {
				t.Errorf("%s: expected file, got %v", name, err)
			} else if string(data) != fmt.Sprintf("/ok/%d", i) {
				t.Errorf("%s: unexpected content %q", name, data)
			}
		} else if !os.IsNotExist(err) {
			t.Errorf("%s: expected no file, stat err = %v", name, err)
		}
	}
	if got := len(sink.messages(zerolog.InfoLevel)); got != len(reachable) {
		t.Errorf("expected %d successes, got %d", len(reachable), got)
	}
	if got := len(sink.messages(zerolog.ErrorLevel)); got != n-len(reachable) {
		t.Errorf("expected %d failures, got %d", n-len(reachable), got)
	}
}

func TestDrainProducesExactlyOneOutcomePerJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "7") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		time.Sleep(time.Duration(len(r.URL.Path)%5) * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	sink := &captureSink{}
	s, err := New(t.TempDir(), WithPoolSize(5), WithQueueSize(3), WithSink(sink), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	const n = 100
	for i := 0; i < n; i++ {
		if err := s.SubmitURL(fmt.Sprintf("%s/item/%d", server.URL, i), fmt.Sprintf("file-%03d.bin", i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	s.Drain()

	seen := map[string]int{}
	for _, msg := range append(sink.messages(zerolog.InfoLevel), sink.messages(zerolog.ErrorLevel)...) {
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("file-%03d.bin", i)
			if strings.Contains(msg, name) {
				seen[name]++
			}
		}
	}
	if len(seen) != n {
		t.Errorf("expected outcomes for %d jobs, got %d", n, len(seen))
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("%s: expected exactly one outcome, got %d", name, count)
		}
	}
	stats := s.Stats()
	if stats.Succeeded+stats.Failed != n {
		t.Errorf("expected %d outcomes in stats, got %+v", n, stats)
	}
	if stats.Failed != 10 {
		t.Errorf("expected 10 failures (paths ending in 7), got %d", stats.Failed)
	}
}

func TestConcurrencyIsBoundedByPoolSize(t *testing.T) {
	var current, peak atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte("x"))
	}))
	defer server.Close()

	const pool = 3
	s, err := New(t.TempDir(), WithPoolSize(pool), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for i := 0; i < 30; i++ {
		if err := s.SubmitURL(server.URL, fmt.Sprintf("%d.bin", i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	s.Drain()

	if p := peak.Load(); p > pool {
		t.Errorf("observed %d concurrent requests, pool size is %d", p, pool)
	} else if p == 0 {
		t.Error("server saw no requests")
	}
}

func TestSubmitDoesNotWaitForCompletion(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte("done"))
	}))
	defer server.Close()

	s, err := New(t.TempDir(), WithPoolSize(1), WithQueueSize(10), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.SubmitURL(server.URL, fmt.Sprintf("%d.bin", i))
		}
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while the only worker was busy")
	}
	close(release)
	s.Drain()
	if stats := s.Stats(); stats.Succeeded != 5 {
		t.Errorf("expected 5 successes, got %+v", stats)
	}
}

func TestSubmitBackpressure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()

	s, err := New(t.TempDir(), WithPoolSize(1), WithQueueSize(1), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	// one job running, one queued
	if err := s.SubmitURL(server.URL, "a.bin"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		err := s.SubmitContext(ctx, utils.Job{URL: server.URL, Filename: "b.bin"})
		cancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("could not queue second job: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = s.SubmitContext(ctx, utils.Job{URL: server.URL, Filename: "c.bin"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded with a full queue, got %v", err)
	}

	close(release)
	s.Drain()
	if stats := s.Stats(); stats.Submitted != 2 {
		t.Errorf("expected 2 submitted jobs, got %+v", stats)
	}
}

func TestDrainIsReusable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	s, err := New(t.TempDir(), WithPoolSize(2), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.Drain()
	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			s.SubmitURL(server.URL, fmt.Sprintf("r%d-%d.bin", round, i))
		}
		s.Drain()
		if got := s.Stats().Succeeded; got != int64((round+1)*4) {
			t.Fatalf("round %d: expected %d successes, got %d", round, (round+1)*4, got)
		}
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	dir := t.TempDir()
	s, err := New(dir, WithPoolSize(2), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 6; i++ {
		s.SubmitURL(server.URL, fmt.Sprintf("%d.bin", i))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("%d.bin", i))); err != nil {
			t.Errorf("job %d did not complete before Close returned: %v", i, err)
		}
	}
	if err := s.SubmitURL(server.URL, "late.bin"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	s.Drain()
}

func TestDuplicateFilenamesWarnButRun(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	dir := t.TempDir()
	sink := &captureSink{}
	s, err := New(dir, WithPoolSize(2), WithSink(sink), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SubmitURL(server.URL+"/first", "same.jpg")
	s.SubmitURL(server.URL+"/second", "same.jpg")
	s.Drain()

	if hits.Load() != 2 {
		t.Errorf("expected both jobs to run, server saw %d requests", hits.Load())
	}
	warnings := sink.messages(zerolog.WarnLevel)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "same.jpg") {
		t.Errorf("expected one duplicate filename warning, got %q", warnings)
	}
	data, err := os.ReadFile(filepath.Join(dir, "same.jpg"))
	if err != nil {
		t.Fatalf("read same.jpg: %v", err)
	}
	if string(data) != "/first" && string(data) != "/second" {
		t.Errorf("expected one complete payload, got %q", data)
	}
}

func TestPanicInFetchIsContained(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	sink := &captureSink{}
	s, err := New(t.TempDir(), WithPoolSize(1), WithSink(sink), WithSource("boom", panicSource{}), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SubmitURL("boom://anything", "p.bin")
	s.SubmitURL(server.URL, "ok.bin")
	s.Drain()

	errs := sink.messages(zerolog.ErrorLevel)
	if len(errs) != 1 || !strings.Contains(errs[0], "panic") {
		t.Errorf("expected one panic failure, got %q", errs)
	}
	if stats := s.Stats(); stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats after panic: %+v", stats)
	}
}

func TestTrackerReceivesOutcomes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("12345"))
	}))
	defer server.Close()

	tracker := output.NewManager()
	s, err := New(t.TempDir(), WithTracker(tracker), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SubmitURL(server.URL+"/a", "a.bin")
	s.SubmitURL(server.URL+"/b", "b.bin")
	s.SubmitURL(server.URL+"/missing", "c.bin")
	s.Drain()

	counts := tracker.Counts()
	if counts.Total != 3 || counts.Succeeded != 2 || counts.Failed != 1 || counts.Pending != 0 {
		t.Errorf("unexpected tracker counts: %+v", counts)
	}
	if counts.Bytes != 10 {
		t.Errorf("expected 10 bytes tracked, got %d", counts.Bytes)
	}
	errs := tracker.Errors()
	var statusErr *utils.HTTPStatusError
	if len(errs) != 1 || !errors.As(errs[0].Error, &statusErr) {
		t.Errorf("expected one HTTPStatusError in tracker, got %+v", errs)
	}
}

func TestContextCancellationFailsInFlightJobs(t *testing.T) {
	started := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sink := &captureSink{}
	s, err := New(t.TempDir(), WithPoolSize(1), WithContext(ctx), WithSink(sink), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	s.SubmitURL(server.URL, "slow.bin")
	<-started
	cancel()
	s.Drain()

	if stats := s.Stats(); stats.Failed != 1 {
		t.Errorf("expected cancelled job to fail, got %+v", stats)
	}
}

func TestSubmitWithCancelledContextIsRejected(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	s, err := New(t.TempDir(), WithPoolSize(1), WithQueueSize(100), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		if err := s.SubmitContext(ctx, utils.Job{URL: server.URL, Filename: fmt.Sprintf("%d.bin", i)}); !errors.Is(err, context.Canceled) {
			t.Fatalf("attempt %d: expected context.Canceled, got %v", i, err)
		}
	}
	s.Drain()
	if stats := s.Stats(); stats.Submitted != 0 {
		t.Errorf("expected nothing submitted, got %+v", stats)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no requests, server saw %d", hits.Load())
	}
}

type panickingSink struct{}

func (panickingSink) Record(zerolog.Level, string) {
	panic("sink exploded")
}

func TestPanickingSinkDoesNotShrinkPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	s, err := New(t.TempDir(), WithPoolSize(1), WithSink(panickingSink{}), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		if err := s.SubmitURL(server.URL, fmt.Sprintf("%d.bin", i)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		s.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain did not return; a worker died")
	}
	if stats := s.Stats(); stats.Succeeded != 3 {
		t.Errorf("expected 3 successes with a panicking sink, got %+v", stats)
	}
}

func TestStatsNeverReportMoreOutcomesThanSubmissions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	s, err := New(t.TempDir(), WithPoolSize(4), WithQueueSize(0), WithHTTPClient(newTestClient()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	stop := make(chan struct{})
	var violations atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := s.Stats()
			if st.Succeeded+st.Failed > st.Submitted {
				violations.Add(1)
			}
		}
	}()
	for i := 0; i < 200; i++ {
		s.SubmitURL(server.URL, fmt.Sprintf("%d.bin", i%10))
	}
	s.Drain()
	close(stop)
	wg.Wait()

	if v := violations.Load(); v != 0 {
		t.Errorf("observed %d snapshots with more outcomes than submissions", v)
	}
}
