package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"txguard/internal/config"
	"txguard/internal/engine"
	"txguard/internal/report"
)

const (
	inboxProcessed = "processed"
	inboxFailed    = "failed"
	inboxSettle    = 300 * time.Millisecond
)

// Inbox evaluates each .csv or .json file dropped into a directory as one
// batch. Evaluated files move to processed/ next to a report CSV; files that
// fail move to failed/ with the error written alongside.
type Inbox struct {
	dir      string
	eval     Evaluator
	logger   *slog.Logger
	settle   time.Duration
	maxBytes int64

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

func NewInbox(dir string, eval Evaluator, logger *slog.Logger) *Inbox {
	return &Inbox{
		dir:     dir,
		eval:    eval,
		logger:  logger,
		settle:  inboxSettle,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
	}
}

func StartInbox(ctx context.Context, cfg *config.Manager, eval Evaluator, logger *slog.Logger) error {
	current := cfg.Get().Ingest.Inbox
	if !current.Enabled {
		if logger != nil {
			logger.Info("inbox ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("inbox ingest enabled", "dir", current.Dir)
	}
	in := NewInbox(current.Dir, eval, logger)
	in.SetMaxBytes(cfg.Get().Batch.MaxBytes)
	return in.Start(ctx)
}

// SetMaxBytes rejects files larger than n bytes; zero means no limit.
func (in *Inbox) SetMaxBytes(n int64) {
	in.maxBytes = n
}

// Start processes files already present, then watches for new ones until
// ctx is cancelled.
func (in *Inbox) Start(ctx context.Context) error {
	for _, sub := range []string{"", inboxProcessed, inboxFailed} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o755); err != nil {
			return fmt.Errorf("inbox %s: %w", in.dir, err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	if err := w.Add(in.dir); err != nil {
		w.Close()
		return fmt.Errorf("inbox watcher add %s: %w", in.dir, err)
	}
	existing, err := in.scan()
	if err != nil {
		w.Close()
		return err
	}
	go func() {
		defer w.Close()
		for _, path := range existing {
			in.process(ctx, path)
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				if accepted(ev.Name) {
					in.schedule(ctx, ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if in.logger != nil {
					in.logger.Warn("inbox watcher error", "err", err)
				}
			case path := <-in.ready:
				in.process(ctx, path)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (in *Inbox) scan() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("inbox %s: %w", in.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(in.dir, e.Name())
		if accepted(path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func accepted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".csv", ".json":
		return true
	}
	return false
}

// schedule restarts the settle timer for path so a file still being
// written is only read once writes stop.
func (in *Inbox) schedule(ctx context.Context, path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = time.AfterFunc(in.settle, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		select {
		case in.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (in *Inbox) process(ctx context.Context, path string) {
	base := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) && in.logger != nil {
			in.logger.Warn("inbox stat failed", "path", path, "err", err)
		}
		return
	}
	if in.maxBytes > 0 && info.Size() > in.maxBytes {
		in.fail(path, base, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, info.Size()))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && in.logger != nil {
			in.logger.Warn("inbox read failed", "path", path, "err", err)
		}
		return
	}
	res, err := in.evaluate(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		in.fail(path, base, err)
		return
	}
	in.move(path, inboxProcessed)
	if err := in.writeReport(base, res); err != nil && in.logger != nil {
		in.logger.Warn("inbox report write failed", "file", base, "err", err)
	}
	if in.logger != nil {
		in.logger.Info("inbox batch evaluated", "file", base, "batch_id", res.ID, "rows", len(res.Decisions))
	}
}

func (in *Inbox) fail(path, base string, err error) {
	if in.logger != nil {
		in.logger.Warn("inbox batch failed", "file", base, "err", err)
	}
	in.move(path, inboxFailed)
	_ = os.WriteFile(filepath.Join(in.dir, inboxFailed, base+".error"), []byte(err.Error()+"\n"), 0o644)
}

func (in *Inbox) evaluate(ctx context.Context, data []byte) (*engine.BatchResult, error) {
	records, err := ParseBatch(data)
	if err != nil {
		return nil, err
	}
	return in.eval.EvaluateRecords(ctx, SourceInbox, records)
}

func (in *Inbox) move(path, sub string) {
	dst := filepath.Join(in.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil && in.logger != nil {
		in.logger.Warn("inbox move failed", "path", path, "dst", dst, "err", err)
	}
}

func (in *Inbox) writeReport(base string, res *engine.BatchResult) error {
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".report.csv"
	f, err := os.Create(filepath.Join(in.dir, inboxProcessed, name))
	if err != nil {
		return err
	}
	if err := report.WriteCSV(f, res.Decisions); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
