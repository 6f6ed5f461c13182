// Package photoimport turns image files into captured photos. It reads the
// capture time from EXIF data and can watch an inbox directory that camera
// tooling drops files into.
package photoimport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// Capturer stages a photo locally.
type Capturer interface {
	Capture(ctx context.Context, in services.CaptureInput) (*models.Photo, error)
}

var supported = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".tif":  true,
	".tiff": true,
}

// Supported reports whether path looks like an importable image.
func Supported(path string) bool {
	return supported[strings.ToLower(filepath.Ext(path))]
}

// CaptureTime returns the EXIF capture time of an image, if it has one.
func CaptureTime(r io.Reader) (time.Time, bool) {
	x, err := exif.Decode(r)
	if err != nil {
		return time.Time{}, false
	}
	ts, err := x.DateTime()
	if err != nil || ts.IsZero() {
		return time.Time{}, false
	}
	return ts, true
}

type Importer struct {
	photos Capturer
	log    logging.Logger
}

func NewImporter(photos Capturer, log logging.Logger) *Importer {
	if log == nil {
		log = logging.Discard()
	}
	return &Importer{photos: photos, log: log}
}

// ImportFile captures the file at path. Fields set in in are kept; the
// timestamp defaults to the EXIF capture time, then the file's mtime.
func (i *Importer) ImportFile(ctx context.Context, path string, in services.CaptureInput) (*models.Photo, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	in.Blob = blob

	if in.Timestamp.IsZero() {
		if ts, ok := CaptureTime(bytes.NewReader(blob)); ok {
			in.Timestamp = ts
		} else if fi, err := os.Stat(path); err == nil {
			in.Timestamp = fi.ModTime()
		}
	}

	p, err := i.photos.Capture(ctx, in)
	if err != nil {
		return nil, err
	}
	i.log.Info(ctx, "photo imported", "file", filepath.Base(path), "id", p.ID, "taken", p.Timestamp)
	return p, nil
}
