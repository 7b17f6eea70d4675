// Package archive decides where captured lane images end up and what
// reference to them is sent to the backend.
package archive

import (
	"context"
	"errors"
)

var ErrNoImage = errors.New("no image to archive")

// Archiver stores the image at localPath and returns the reference the
// backend should record for it.
type Archiver interface {
	Archive(ctx context.Context, localPath string) (string, error)
}

// Local keeps images where the recognizer wrote them; the reference is
// the local path.
type Local struct{}

func (Local) Archive(_ context.Context, localPath string) (string, error) {
	if localPath == "" {
		return "", ErrNoImage
	}
	return localPath, nil
}
