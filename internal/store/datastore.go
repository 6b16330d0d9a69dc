package store

import (
	"context"
	"errors"
)

// Collection 是遠端資料庫的集合名稱
type Collection string

const (
	Users      Collection = "users"
	Items      Collection = "items"
	LostItems  Collection = "lost_items"
	Complaints Collection = "complaints"
	Claims     Collection = "claims"
	Messages   Collection = "messages"
)

// AllCollections 依 mirror 訂閱順序排列
var AllCollections = []Collection{Users, Items, LostItems, Complaints, Claims, Messages}

var ErrNotFound = errors.New("store: not found")

// Row 一律使用遠端（snake_case）欄位名
type Row map[string]any

func (r Row) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// Datastore is the remote document store with a per-collection change feed.
// Update only touches the keys present in the row; values may be one of the
// transform sentinels below, which the implementation applies atomically.
type Datastore interface {
	Fetch(ctx context.Context, c Collection) ([]Row, error)
	Get(ctx context.Context, c Collection, id string) (Row, error)
	Insert(ctx context.Context, c Collection, row Row) (string, error)
	Update(ctx context.Context, c Collection, id string, patch Row) error
	Delete(ctx context.Context, c Collection, id string) error
	// Transact 讀取目前的 row，交給 fn 算出要更新的欄位；衝突時由實作重試
	Transact(ctx context.Context, c Collection, id string, fn func(cur Row) (Row, error)) error
	// Subscribe 在集合有任何變動時呼叫 onChange，回傳取消訂閱的函式
	Subscribe(ctx context.Context, c Collection, onChange func()) (func(), error)
}

// ===== transform sentinels =====

type serverTimestamp struct{}

// ServerTimestamp 由資料庫端填入寫入時間
var ServerTimestamp = serverTimestamp{}

type increment struct{ by float64 }

func Increment(by float64) any { return increment{by: by} }

type arrayUnion struct{ vals []any }

func ArrayUnion(vals ...any) any { return arrayUnion{vals: vals} }

type arrayRemove struct{ vals []any }

func ArrayRemove(vals ...any) any { return arrayRemove{vals: vals} }
