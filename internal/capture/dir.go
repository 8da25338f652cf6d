package capture

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"ringside/internal/pipeline"
)

// DirSource replays the still images of a directory in name order. With
// follow set it then keeps watching the directory and emits every image
// written into it, otherwise it reports end of stream.
type DirSource struct {
	dir     string
	decoder Decoder
	follow  bool
	watcher *fsnotify.Watcher

	queue []string
	done  map[string]bool // Files already emitted
	seq   uint64
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}

// OpenDir lists dir and, when following, starts watching it
func OpenDir(cfg Config, dec Decoder) (*DirSource, error) {
	dir := strings.TrimPrefix(cfg.URL, "dir://")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &pipeline.CaptureError{Source: dir, Err: fmt.Errorf("failed to read directory: %w", err)}
	}

	s := &DirSource{
		dir:     dir,
		decoder: dec,
		follow:  cfg.Follow,
		done:    make(map[string]bool),
	}
	for _, e := range entries {
		if !e.IsDir() && isImageFile(e.Name()) {
			s.queue = append(s.queue, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(s.queue)

	if s.follow {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, &pipeline.CaptureError{Source: dir, Err: fmt.Errorf("failed to create watcher: %w", err)}
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, &pipeline.CaptureError{Source: dir, Err: fmt.Errorf("failed to watch directory: %w", err)}
		}
		s.watcher = w
	}

	log.Printf("[DirSource] Opened %s with %d images (follow: %v)", dir, len(s.queue), s.follow)
	return s, nil
}

// Next implements pipeline.FrameSource
func (s *DirSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(s.queue) > 0 {
			path := s.queue[0]
			s.queue = s.queue[1:]

			frame, err := s.load(path)
			if err != nil {
				// Files can be caught half written; a later write event retries them
				log.Printf("[DirSource] Skipping %s: %v", path, err)
				continue
			}
			return frame, nil
		}

		if s.watcher == nil {
			return nil, pipeline.ErrEndOfStream
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil, pipeline.ErrEndOfStream
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if isImageFile(event.Name) && !s.done[event.Name] && !s.queued(event.Name) {
					s.queue = append(s.queue, event.Name)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil, pipeline.ErrEndOfStream
			}
			return nil, &pipeline.CaptureError{Source: s.dir, Err: fmt.Errorf("watch failed: %w", err)}
		}
	}
}

func (s *DirSource) queued(path string) bool {
	for _, p := range s.queue {
		if p == path {
			return true
		}
	}
	return false
}

func (s *DirSource) load(path string) (*pipeline.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	frame, err := newFrame(s.decoder, data, s.seq+1)
	if err != nil {
		return nil, err
	}
	s.seq++
	s.done[path] = true
	return frame, nil
}

// Close stops watching the directory
func (s *DirSource) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

var _ pipeline.FrameSource = (*DirSource)(nil)
