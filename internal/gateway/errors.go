package gateway

import (
	"errors"
	"fmt"

	"local.dev/campus-market/internal/store"
)

var (
	ErrNoActor   = errors.New("no current actor")
	ErrForbidden = errors.New("forbidden")
	ErrSuspended = errors.New("account is suspended")
	ErrInvalid   = errors.New("invalid input")
	ErrNotFound  = store.ErrNotFound
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// FollowUpError 表示兩步驟操作的第一步已寫入成功、第二步失敗。
// 第一步不會回滾，Pending 描述需要人工補做的動作。
type FollowUpError struct {
	Op      string
	Pending string
	Err     error
}

func (e *FollowUpError) Error() string {
	return fmt.Sprintf("%s: first step committed, %s failed: %v", e.Op, e.Pending, e.Err)
}

func (e *FollowUpError) Unwrap() error { return e.Err }
