package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/dispatch"
	"github.com/roach88/stockline/internal/flow"
)

// echoSubmitter answers every event immediately.
type echoSubmitter struct {
	mu   sync.Mutex
	seen []flow.Event
}

func (s *echoSubmitter) Submit(_ context.Context, ev flow.Event) <-chan dispatch.Result {
	s.mu.Lock()
	s.seen = append(s.seen, ev)
	s.mu.Unlock()

	ch := make(chan dispatch.Result, 1)
	if ev.Identity == "" {
		ch <- dispatch.Result{Err: errors.New("missing identity")}
		return ch
	}
	ch <- dispatch.Result{Replies: []flow.Reply{{Text: "echo " + ev.Text + ev.SelectionToken}}}
	return ch
}

func (s *echoSubmitter) events() []flow.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]flow.Event(nil), s.seen...)
}

func newInbox(t *testing.T) (*Inbox, *echoSubmitter, string, string) {
	t.Helper()
	root := t.TempDir()
	dir, out := filepath.Join(root, "inbox"), filepath.Join(root, "outbox")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.MkdirAll(out, 0o755))

	sub := &echoSubmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(dir, out, sub, WithDebounce(20*time.Millisecond), WithLogger(logger)), sub, dir, out
}

// drop writes a file the way producers should: under a temporary name,
// then renamed into place.
func drop(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path+".tmp", []byte(body), 0o644))
	require.NoError(t, os.Rename(path+".tmp", path))
	return path
}

func readResponse(t *testing.T, path string) Response {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestProcess_SingleEvent(t *testing.T) {
	in, sub, dir, out := newInbox(t)
	path := drop(t, dir, "001.json", `{"identity":"u1","text":"check stock"}`)

	require.NoError(t, in.Process(context.Background(), path))

	resp := readResponse(t, filepath.Join(out, "001.json"))
	assert.Equal(t, "001.json", resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "u1", resp.Results[0].Identity)
	assert.Equal(t, "echo check stock", resp.Results[0].Replies[0].Text)

	assert.NoFileExists(t, path)
	assert.Equal(t, flow.EventText, sub.events()[0].Kind)
}

func TestProcess_ArrayKeepsOrder(t *testing.T) {
	in, sub, dir, out := newInbox(t)
	path := drop(t, dir, "002.json", `[
		{"identity":"u1","kind":"text","text":"10 pump"},
		{"identity":"u2","text":"help"},
		{"identity":"u1","selection_token":"tok"},
		{"text":"nobody"}
	]`)

	require.NoError(t, in.Process(context.Background(), path))

	resp := readResponse(t, filepath.Join(out, "002.json"))
	require.Len(t, resp.Results, 4)
	assert.Equal(t, "echo 10 pump", resp.Results[0].Replies[0].Text)
	assert.Equal(t, "u2", resp.Results[1].Identity)
	assert.Equal(t, "echo tok", resp.Results[2].Replies[0].Text)
	assert.Equal(t, "missing identity", resp.Results[3].Error)

	events := sub.events()
	assert.Equal(t, flow.EventSelection, events[2].Kind)
}

func TestProcess_MalformedFileIsRejected(t *testing.T) {
	in, sub, dir, out := newInbox(t)

	for name, body := range map[string]string{"bad.json": `{"identity":`, "empty.json": `[]`} {
		path := drop(t, dir, name, body)
		err := in.Process(context.Background(), path)
		require.Error(t, err, name)
		assert.FileExists(t, path+rejectedSuffix)
		assert.NoFileExists(t, filepath.Join(out, name))
	}
	assert.Empty(t, sub.events())
}

func TestProcess_MissingFileIsIgnored(t *testing.T) {
	in, _, dir, _ := newInbox(t)
	assert.NoError(t, in.Process(context.Background(), filepath.Join(dir, "gone.json")))
}

func TestRun_ProcessesExistingAndNewFiles(t *testing.T) {
	in, _, dir, out := newInbox(t)
	drop(t, dir, "early.json", `{"identity":"u1","text":"hello"}`)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- in.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "early.json"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Partial writes are not picked up.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.json.tmp"), []byte("{"), 0o644))
	drop(t, dir, "late.json", `{"identity":"u2","text":"check"}`)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(out, "late.json"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.FileExists(t, filepath.Join(dir, "partial.json.tmp"))

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIsEventFile(t *testing.T) {
	assert.True(t, isEventFile("/in/a.json"))
	assert.False(t, isEventFile("/in/a.json.tmp"))
	assert.False(t, isEventFile("/in/a.json.rejected"))
	assert.False(t, isEventFile("/in/a.txt"))
}
