// Package inbox is a file-drop transport for local runs.
//
// Each *.json file dropped into the inbox directory holds one event or an
// array of events. The events are run in file order, the replies are
// written to a file of the same name in the outbox directory, and the
// input file is removed. Files that cannot be decoded are renamed with a
// .rejected suffix and left in place.
//
// Writers should create files under a .tmp name and rename them into
// place so a partial write is never picked up.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/stockline/internal/dispatch"
	"github.com/roach88/stockline/internal/flow"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before processing what has arrived.
const DefaultDebounce = 200 * time.Millisecond

// maxPending bounds the paths waiting for the processing goroutine.
const maxPending = 200

// rejectedSuffix marks input files that could not be decoded.
const rejectedSuffix = ".rejected"

// Submitter queues turns. *dispatch.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, ev flow.Event) <-chan dispatch.Result
}

var _ Submitter = (*dispatch.Pool)(nil)

// Result is the outcome of one event in an outbox file.
type Result struct {
	Identity string       `json:"identity"`
	Replies  []flow.Reply `json:"replies,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Response is the content of an outbox file.
type Response struct {
	Source  string   `json:"source"`
	Results []Result `json:"results"`
}

// Inbox watches a directory for event files.
type Inbox struct {
	dir      string
	outbox   string
	turns    Submitter
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Inbox) {
		in.logger = l
	}
}

// New creates an Inbox reading dir and writing replies to outbox.
func New(dir, outbox string, turns Submitter, opts ...Option) *Inbox {
	in := &Inbox{
		dir:      dir,
		outbox:   outbox,
		turns:    turns,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run processes files already in the inbox and then watches it for new
// ones. It blocks until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	for _, dir := range []string{in.dir, in.outbox} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}

	// Files are processed one at a time so turns of one identity keep
	// their order across files.
	queue := make(chan string, maxPending)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for path := range queue {
			if err := in.Process(ctx, path); err != nil {
				in.logger.Warn("inbox file not processed", "file", path, "error", err)
			}
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	enqueue := func(paths []string) {
		sort.Strings(paths)
		for _, p := range paths {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
		}
	}

	// Files present before the watch started.
	existing, err := in.pending()
	if err != nil {
		return err
	}
	enqueue(existing)

	ready := make(map[string]bool)
	timer := time.NewTimer(in.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			batch := make([]string, 0, len(ready))
			for p := range ready {
				batch = append(batch, p)
			}
			clear(ready)
			enqueue(batch)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isEventFile(event.Name) {
				continue
			}
			ready[event.Name] = true
			timer.Reset(in.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("inbox watcher error", "error", err)
		}
	}
}

// pending lists the event files currently in the inbox.
func (in *Inbox) pending() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if isEventFile(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Process runs the events in one file and writes the outbox file.
func (in *Inbox) Process(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Already handled.
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	events, err := decodeEvents(data)
	if err != nil {
		if renameErr := os.Rename(path, path+rejectedSuffix); renameErr != nil {
			in.logger.Error("rejected file not renamed", "file", path, "error", renameErr)
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}

	// Events of different identities run in parallel; each identity's
	// events keep their file order.
	pending := make([]<-chan dispatch.Result, len(events))
	for i, ev := range events {
		pending[i] = in.turns.Submit(ctx, ev)
	}
	resp := Response{Source: filepath.Base(path), Results: make([]Result, len(events))}
	for i, ch := range pending {
		r := <-ch
		resp.Results[i] = Result{Identity: events[i].Identity, Replies: r.Replies}
		if r.Err != nil {
			resp.Results[i].Error = r.Err.Error()
		}
	}

	if err := writeResponse(filepath.Join(in.outbox, filepath.Base(path)), resp); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	in.logger.Debug("inbox file processed", "file", path, "events", len(events))
	return nil
}

// decodeEvents accepts a single event object or an array of them. A
// missing kind defaults from the fields present.
func decodeEvents(data []byte) ([]flow.Event, error) {
	trimmed := strings.TrimSpace(string(data))
	var events []flow.Event
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, err
		}
	} else {
		var ev flow.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		events = []flow.Event{ev}
	}
	if len(events) == 0 {
		return nil, errors.New("no events")
	}
	for i := range events {
		if events[i].Kind == "" {
			events[i].Kind = flow.EventText
			if events[i].SelectionToken != "" {
				events[i].Kind = flow.EventSelection
			}
		}
	}
	return events, nil
}

// writeResponse writes resp to path through a temporary file so readers
// never see a partial reply.
func writeResponse(path string, resp Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// isEventFile reports whether path is a complete event file.
func isEventFile(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ".json")
}
