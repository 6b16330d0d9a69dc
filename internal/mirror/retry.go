package mirror

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"local.dev/campus-market/internal/store"
)

const (
	DefaultFetchRetries = 3
	DefaultRetryBase    = 200 * time.Millisecond
)

// withRetries 最多重試 retries 次（總共 retries+1 次），每次等待 [0, base*2^attempt] 的隨機時間
func withRetries[T any](ctx context.Context, retries int, base time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		var v T
		v, err = op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt == retries || !transient(err) {
			break
		}
		ceiling := base << attempt
		wait := time.Duration(rand.Int64N(int64(ceiling) + 1))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
	return zero, err
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, store.ErrNotFound) {
		return false
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.InvalidArgument:
		return false
	}
	return true
}
