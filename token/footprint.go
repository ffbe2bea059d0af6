package token

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// measurable file extensions; everything else in a workspace is skipped.
var measurableExts = map[string]bool{
	".md": true, ".txt": true, ".go": true, ".py": true, ".js": true,
	".ts": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".css": true, ".sh": true, ".rs": true, ".java": true,
}

// maxMeasurableFile bounds how much of a single file is counted.
const maxMeasurableFile = 1 << 20

// MeasureDir walks a workspace and returns the total token footprint of
// its text files. Hidden directories and non-text files are skipped;
// counting runs in parallel across files.
func MeasureDir(ctx context.Context, dir string, counter Counter) (int64, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !measurableExts[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxMeasurableFile {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return 0, err
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			n, err := counter.CountTokens(string(data))
			if err != nil {
				return nil
			}
			total.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total.Load(), nil
}
