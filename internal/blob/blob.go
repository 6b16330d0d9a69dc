package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var ErrUnsupportedType = errors.New("unsupported image type")

// Store 上傳圖片並回傳公開網址
type Store interface {
	Upload(ctx context.Context, bucket, prefix, filename string, r io.Reader) (string, error)
}

var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// sniff 讀前 512 bytes 判斷圖片格式；回傳的 reader 仍包含這些 bytes
func sniff(r io.Reader, filename string) (io.Reader, string, string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", "", err
	}
	head = head[:n]
	if n == 0 {
		return nil, "", "", fmt.Errorf("%w: empty file", ErrUnsupportedType)
	}
	ctype := http.DetectContentType(head)
	ext, ok := imageExts[ctype]
	if !ok {
		// 偵測不到時退回副檔名
		e := strings.ToLower(filepath.Ext(filename))
		if e == ".jpeg" {
			e = ".jpg"
		}
		for t, x := range imageExts {
			if x == e {
				ctype, ext, ok = t, x, true
				break
			}
		}
	}
	if !ok {
		return nil, "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, ctype)
	}
	return io.MultiReader(bytes.NewReader(head), r), ext, ctype, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '.' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return r
		}
		return '-'
	}, s)
}

// cleanPath 把 bucket/prefix 拆段清理，去掉 "." 與 ".."
func cleanPath(parts ...string) string {
	var out []string
	for _, p := range parts {
		for _, seg := range strings.Split(p, "/") {
			seg = sanitize(strings.TrimSpace(seg))
			if seg == "" || strings.Trim(seg, ".") == "" {
				continue
			}
			out = append(out, seg)
		}
	}
	return path.Join(out...)
}

// objectName = <bucket>/<prefix>/<unix-ms>_<檔名><副檔名>
func objectName(now time.Time, bucket, prefix, filename, ext string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = sanitize(base)
	if strings.Trim(base, ".-") == "" {
		base = "img"
	}
	name := fmt.Sprintf("%d_%s%s", now.UnixMilli(), base, ext)
	if dir := cleanPath(bucket, prefix); dir != "" {
		return dir + "/" + name
	}
	return name
}
