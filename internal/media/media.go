// Package media stores uploaded images and returns the URL they are served
// from. Posts and messages keep only those URLs.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/emilythestrangee/campusnet/backend/internal/apperr"
	"github.com/emilythestrangee/campusnet/backend/internal/config"
)

// MaxUploadSize is the largest accepted image, in bytes.
const MaxUploadSize = 10 << 20

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Store interface {
	// Put stores r under a fresh object name derived from name and returns
	// its public URL.
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

// ObjectName validates contentType and returns a unique object name that
// keeps name's base for readability.
func ObjectName(name, contentType string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := extensions[ct]
	if !ok {
		return "", apperr.Validation("file", "must be a JPEG, PNG, GIF or WebP image")
	}
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(name, "\\", "/")), path.Ext(name))
	base = sanitize(base)
	if base == "" {
		return uuid.NewString() + ext, nil
	}
	return uuid.NewString() + "-" + base + ext, nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('-')
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// New builds the store selected by cfg.Type.
func New(ctx context.Context, cfg config.MediaConfig) (Store, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFSStore(cfg.Dir, cfg.BaseURL)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown media type: %q", cfg.Type)
	}
}
