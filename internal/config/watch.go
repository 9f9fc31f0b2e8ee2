package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchHalls reloads halls.yaml on change and calls onUpdate with the latest config.
// It performs an initial load before entering the watch loop; an invalid file
// at startup is an error, an invalid edit later keeps the previous catalogue.
func WatchHalls(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*HallsConfig)) error {
	if path == "" {
		path = "configs/halls.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadHallsConfig(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := LoadHallsConfig(path)
				if err != nil {
					if logger != nil {
						logger.Warn().Err(err).Str("path", path).Msg("halls config reload rejected")
					}
					continue
				}
				lastMod = info.ModTime()
				if logger != nil {
					logger.Info().Str("path", path).Str("summary", cfg.String()).Msg("halls config reloaded")
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
