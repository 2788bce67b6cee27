package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local stores objects on the local filesystem under BaseDir, served by the
// gateway's /files/ HTTP handler. Used when no cloud credentials are
// configured (§4.6 "otherwise to a local path ... served as /files/...").
type Local struct {
	BaseDir   string
	URLPrefix string // e.g. "/files"
}

// NewLocal creates a Local store rooted at baseDir.
func NewLocal(baseDir, urlPrefix string) *Local {
	return &Local{BaseDir: filepath.Clean(baseDir), URLPrefix: strings.TrimSuffix(urlPrefix, "/")}
}

func (l *Local) PutObject(_ context.Context, key string, data []byte, _ string) (string, error) {
	dest := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("objectstore: create dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("objectstore: write file: %w", err)
	}
	return l.PresignGet(nil, key)
}

func (l *Local) PresignGet(_ context.Context, key string) (string, error) {
	return l.URLPrefix + "/" + filepath.ToSlash(key), nil
}
