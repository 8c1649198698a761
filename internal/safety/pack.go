package safety

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var (
	ErrInvalidPattern = errors.New("invalid safety pattern")
	ErrInvalidPack    = errors.New("invalid pattern pack")
)

// PatternPack is an operator-supplied set of extra filter patterns. It is
// merged with the built-in patterns, never replacing them.
//
//	[[blocked]]
//	category = "violence"
//	patterns = ["(?i)\\bdetonate\\b"]
//
//	[[warning]]
//	category = "medical_advice"
//	patterns = ["(?i)\\bantibiotics\\b"]
type PatternPack struct {
	Blocked PatternSet
	Warning PatternSet
}

type packFile struct {
	Blocked []packEntry `toml:"blocked"`
	Warning []packEntry `toml:"warning"`
}

type packEntry struct {
	Category string   `toml:"category"`
	Patterns []string `toml:"patterns"`
}

// LoadPatternPack reads and validates a TOML pattern pack.
func LoadPatternPack(path string) (*PatternPack, error) {
	var f packFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPack, path, err)
	}

	pack := &PatternPack{Blocked: PatternSet{}, Warning: PatternSet{}}
	for _, e := range f.Blocked {
		if e.Category == "" {
			return nil, fmt.Errorf("%w: blocked entry without category", ErrInvalidPack)
		}
		pack.Blocked[e.Category] = append(pack.Blocked[e.Category], e.Patterns...)
	}
	for _, e := range f.Warning {
		if e.Category == "" {
			return nil, fmt.Errorf("%w: warning entry without category", ErrInvalidPack)
		}
		pack.Warning[e.Category] = append(pack.Warning[e.Category], e.Patterns...)
	}

	if _, err := compileSet(pack.Blocked, pack.Warning); err != nil {
		return nil, err
	}
	return pack, nil
}

// watchPack reloads the pack into filter whenever the file changes, until
// ctx is cancelled. The parent directory is watched so that editors which
// replace the file by rename are picked up.
func watchPack(ctx context.Context, path string, filter *ContentFilter, logger *zap.Logger, reloaded func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating pattern watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving pattern file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			pack, err := LoadPatternPack(abs)
			if err == nil {
				err = filter.Apply(pack)
			}
			if err != nil {
				logger.Warn("pattern pack reload failed, keeping previous patterns",
					zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("pattern pack reloaded", zap.String("path", abs))
			if reloaded != nil {
				reloaded()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("pattern watcher error", zap.Error(err))
		}
	}
}
