package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounceInterval = 250 * time.Millisecond

// Watch reloads the defaults file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are seen as well.
func (p *Provider) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	name := filepath.Clean(p.path)
	p.logger.Info("watching defaults file", "path", name)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			debounce = time.After(DefaultDebounceInterval)
		case <-debounce:
			debounce = nil
			if err := p.Reload(); err != nil {
				p.logger.Warn("defaults reload failed", "path", name, "error", err)
				continue
			}
			p.logger.Info("defaults reloaded", "path", name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("defaults watcher error", "error", err)
		}
	}
}
