package artifact

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hupe1980/flowmesh/core"
)

// Uploader implements core.Uploader on top of a Store. Files are stored under
// "<org>/<uuid><ext>".
type Uploader struct {
	store Store
}

var _ core.Uploader = (*Uploader)(nil)

// NewUploader wraps store.
func NewUploader(store Store) *Uploader {
	return &Uploader{store: store}
}

// Upload implements core.Uploader.
func (u *Uploader) Upload(ctx context.Context, localPath, orgCode string) (core.UploadedFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return core.UploadedFile{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return core.UploadedFile{}, fmt.Errorf("stat %s: %w", localPath, err)
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if orgCode == "" {
		orgCode = "default"
	}
	key := path.Join(orgCode, uuid.NewString()+ext)

	url, err := u.store.Put(ctx, key, f, contentType)
	if err != nil {
		return core.UploadedFile{}, err
	}

	return core.UploadedFile{
		URL:  url,
		Name: filepath.Base(localPath),
		Ext:  strings.TrimPrefix(ext, "."),
		Size: info.Size(),
	}, nil
}
