package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Dir 把檔案寫到本機目錄，由 HTTP 服務掛在 URLPrefix 底下（開發模式）
type Dir struct {
	Root      string
	URLPrefix string
	now       func() time.Time
}

func NewDir(root, urlPrefix string) *Dir {
	_ = os.MkdirAll(root, 0o755)
	return &Dir{Root: root, URLPrefix: strings.TrimSuffix(urlPrefix, "/"), now: time.Now}
}

func (d *Dir) Upload(ctx context.Context, bucket, prefix, filename string, r io.Reader) (string, error) {
	body, ext, _, err := sniff(r, filename)
	if err != nil {
		return "", err
	}
	name := objectName(d.now(), bucket, prefix, filename, ext)
	dst := filepath.Join(d.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return d.URLPrefix + "/" + name, nil
}
