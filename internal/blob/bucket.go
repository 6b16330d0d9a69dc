package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
)

const cacheControl = "public, max-age=3600"

// Bucket 寫入 Firebase Storage（GCS）；bucket 參數只作為物件路徑的第一段
type Bucket struct {
	handle *storage.BucketHandle
	name   string
	now    func() time.Time
}

func NewBucket(ctx context.Context, app *firebase.App, name string) (*Bucket, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase storage: %w", err)
	}
	handle, err := client.Bucket(name)
	if err != nil {
		return nil, fmt.Errorf("bucket %q: %w", name, err)
	}
	return &Bucket{handle: handle, name: name, now: time.Now}, nil
}

func (b *Bucket) Upload(ctx context.Context, bucket, prefix, filename string, r io.Reader) (string, error) {
	body, ext, ctype, err := sniff(r, filename)
	if err != nil {
		return "", err
	}
	name := objectName(b.now(), bucket, prefix, filename, ext)

	w := b.handle.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = ctype
	w.CacheControl = cacheControl
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return publicURL(b.name, name), nil
}

func publicURL(bucket, object string) string {
	segs := strings.Split(object, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return "https://storage.googleapis.com/" + bucket + "/" + strings.Join(segs, "/")
}
