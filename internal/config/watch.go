package config

import (
	"context"
	"os"
	"time"
)

// LotsWatcher re-reads the lots file whenever its modification time moves forward.
type LotsWatcher struct {
	Path     string
	Interval time.Duration
	OnUpdate func(*LotsConfig)
	OnError  func(error)

	lastMod time.Time
}

// Start loads the file once, synchronously, and then polls it in the
// background until ctx is done. Only the initial load error is returned;
// later failures go to OnError and the previous config stays in effect.
func (w *LotsWatcher) Start(ctx context.Context) error {
	if w.Path == "" {
		w.Path = "configs/lots.yaml"
	}
	if w.Interval <= 0 {
		w.Interval = 30 * time.Second
	}

	if err := w.reload(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if changed, err := w.changed(); err != nil || !changed {
					continue // transient stat errors
				}
				if err := w.reload(); err != nil && w.OnError != nil {
					w.OnError(err)
				}
			}
		}
	}()
	return nil
}

func (w *LotsWatcher) changed() (bool, error) {
	info, err := os.Stat(w.Path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(w.lastMod), nil
}

func (w *LotsWatcher) reload() error {
	info, err := os.Stat(w.Path)
	if err != nil {
		return err
	}
	cfg, err := LoadLotsConfig(w.Path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	if w.OnUpdate != nil {
		w.OnUpdate(cfg)
	}
	return nil
}
