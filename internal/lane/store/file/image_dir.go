package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ImageDir is the directory recognizers write captured images to.
type ImageDir struct {
	dir string
}

func NewImageDir(dir string) *ImageDir {
	if dir == "" {
		dir = "./images"
	}
	return &ImageDir{dir: dir}
}

func (d *ImageDir) Path() string { return d.dir }

var imageExts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}}

// PruneOlderThan removes image files directly inside the directory whose
// modification time is before cutoff. Other files and subdirectories are
// left alone.
func (d *ImageDir) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	entries, err := os.ReadDir(d.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read image dir: %w", err)
	}

	var (
		deleted int64
		errs    []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := imageExts[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
