package atmosphere

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig reloads path whenever it is written or replaced and passes
// every valid result to apply. Invalid files are logged and skipped. The
// watcher runs until ctx is done.
func WatchConfig(ctx context.Context, path string, logger Logger, apply func(Config)) error {
	if logger == nil {
		logger = NewNopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors often replace the file, so watch its directory
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != abs || e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				c, err := LoadConfig(abs)
				if err != nil {
					logger.Warnf("config reload %s: %v", abs, err)
					continue
				}
				logger.Debugf("config reloaded from %s", abs)
				apply(c)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Errorf("config watcher: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
