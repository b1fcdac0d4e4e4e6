package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cast"
)

// Uploader stores a local file and returns a URL the rest of the system can use.
type Uploader interface {
	Upload(ctx context.Context, path, orgCode string) (UploadedFile, error)
}

// UploadedFile is what an Uploader returns.
type UploadedFile struct {
	URL  string
	Name string
	Ext  string
	Size int64
}

// Attachment is a resolved file reference.
type Attachment struct {
	Name       string `json:"name" msgpack:"name"`
	URL        string `json:"url" msgpack:"url"`
	Ext        string `json:"ext" msgpack:"ext"`
	Size       int64  `json:"size" msgpack:"size"`
	ChatFileID string `json:"chat_file_id" msgpack:"chat_file_id"`
	Origin     string `json:"-" msgpack:"-"`
}

// ToMap returns the persisted shape of an attachment.
func (a Attachment) ToMap() map[string]any {
	return map[string]any{
		"name":         a.Name,
		"url":          a.URL,
		"ext":          a.Ext,
		"size":         a.Size,
		"chat_file_id": a.ChatFileID,
	}
}

// AttachmentFromMap is the inverse of ToMap. Loose numeric types are accepted for size.
func AttachmentFromMap(m map[string]any) Attachment {
	return Attachment{
		Name:       cast.ToString(m["name"]),
		URL:        cast.ToString(m["url"]),
		Ext:        cast.ToString(m["ext"]),
		Size:       cast.ToInt64(m["size"]),
		ChatFileID: cast.ToString(m["chat_file_id"]),
	}
}

// AttachmentRecord is an attachment known to a run, keyed by a stable path.
type AttachmentRecord interface {
	// Path is the dedup key: the original URL or local path.
	Path() string
	// Resolve returns the hosted attachment, uploading at most once if needed.
	Resolve(ctx context.Context, orgCode string) (Attachment, error)
	// Snapshot returns the current view without triggering any upload.
	Snapshot() Attachment
}

// ExternalAttachment is already hosted somewhere reachable.
type ExternalAttachment struct {
	att Attachment
}

// NewExternalAttachment wraps an already-hosted URL.
func NewExternalAttachment(att Attachment) *ExternalAttachment {
	if att.Origin == "" {
		att.Origin = att.URL
	}
	if att.Ext == "" {
		att.Ext = extOf(att.URL)
	}
	return &ExternalAttachment{att: att}
}

func (e *ExternalAttachment) Path() string { return e.att.Origin }

func (e *ExternalAttachment) Resolve(context.Context, string) (Attachment, error) { return e.att, nil }

func (e *ExternalAttachment) Snapshot() Attachment { return e.att }

// LocalAttachment is a file on local disk that is uploaded on first use.
type LocalAttachment struct {
	path     string
	uploader Uploader

	mu       sync.Mutex
	resolved *Attachment
}

// NewLocalAttachment creates a lazily uploaded attachment for path.
func NewLocalAttachment(path string, uploader Uploader) *LocalAttachment {
	return &LocalAttachment{path: path, uploader: uploader}
}

func (l *LocalAttachment) Path() string { return l.path }

// Resolve uploads the file on the first call and returns the cached result afterwards.
func (l *LocalAttachment) Resolve(ctx context.Context, orgCode string) (Attachment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resolved != nil {
		return *l.resolved, nil
	}
	if l.uploader == nil {
		return Attachment{}, &SystemError{Message: "attachment uploader not configured"}
	}

	up, err := l.uploader.Upload(ctx, l.path, orgCode)
	if err != nil {
		return Attachment{}, fmt.Errorf("upload attachment %s: %w", l.path, err)
	}

	att := Attachment{
		Name:   up.Name,
		URL:    up.URL,
		Ext:    up.Ext,
		Size:   up.Size,
		Origin: l.path,
	}
	if att.Ext == "" {
		att.Ext = extOf(l.path)
	}
	l.resolved = &att

	return att, nil
}

func (l *LocalAttachment) Snapshot() Attachment {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolved != nil {
		return *l.resolved
	}
	return Attachment{Ext: extOf(l.path), Origin: l.path}
}

func extOf(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
}
