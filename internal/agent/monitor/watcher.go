package monitor

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// notification is one raw filesystem observation pushed to the consumer.
type notification struct {
	Path    string
	Subtype string
	At      time.Time
}

// pathWatcher observes one monitored root, including every subdirectory,
// and forwards notifications into the core's bounded queue. Sends never
// block; overflow is dropped.
type pathWatcher struct {
	root      string
	fsWatcher *fsnotify.Watcher
	out       chan<- notification
	logger    *slog.Logger
	done      chan struct{}
	wg        sync.WaitGroup
}

func newPathWatcher(root string, out chan<- notification, logger *slog.Logger) (*pathWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(root); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch path %s: %w", root, err)
	}

	w := &pathWatcher{
		root:      root,
		fsWatcher: fsWatcher,
		out:       out,
		logger:    logger,
		done:      make(chan struct{}),
	}
	w.addSubdirs(root)
	w.wg.Add(1)
	go w.watch()
	return w, nil
}

// addSubdirs registers every directory below root. fsnotify watches are
// per-directory, so nested files only produce events once their parent is
// added.
func (w *pathWatcher) addSubdirs(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || p == root {
			return nil
		}
		if addErr := w.fsWatcher.Add(p); addErr != nil {
			w.logger.Warn("failed to watch subdirectory",
				slog.String("path", p), slog.Any("error", addErr))
		}
		return nil
	})
}

func (w *pathWatcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			subtype, ok := subtypeFor(event.Op)
			if !ok {
				continue
			}
			if subtype == models.FileEventCreated {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if addErr := w.fsWatcher.Add(event.Name); addErr != nil {
						w.logger.Warn("failed to watch new subdirectory",
							slog.String("path", event.Name), slog.Any("error", addErr))
					}
					// Contents may already exist by the time the watch lands.
					w.addSubdirs(event.Name)
					continue
				}
			}
			n := notification{Path: event.Name, Subtype: subtype, At: time.Now().UTC()}
			select {
			case w.out <- n:
			default:
				w.logger.Warn("notification queue full, dropping event",
					slog.String("path", event.Name),
					slog.String("subtype", subtype))
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.String("root", w.root), slog.Any("error", err))
		}
	}
}

func (w *pathWatcher) stop() {
	close(w.done)
	w.wg.Wait()
	_ = w.fsWatcher.Close()
}

// subtypeFor maps an fsnotify op onto the event subtype vocabulary.
func subtypeFor(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return models.FileEventCreated, true
	case op.Has(fsnotify.Write):
		return models.FileEventModified, true
	case op.Has(fsnotify.Remove):
		return models.FileEventDeleted, true
	case op.Has(fsnotify.Rename):
		return models.FileEventMoved, true
	default:
		return "", false
	}
}
