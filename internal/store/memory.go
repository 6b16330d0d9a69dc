package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"local.dev/campus-market/internal/models"
)

// Memory 是 in-process 的 Datastore：NO_AUTH 開發模式與測試使用。
// 有設定 dir 時每次寫入都會把該集合存成 <dir>/<collection>.json。
type Memory struct {
	mu        sync.RWMutex
	rows      map[Collection]map[string]Row
	listeners map[Collection]map[uint64]func()
	nextSub   uint64

	dir   string
	now   func() time.Time
	fault func(op string, c Collection, id string) error
}

type MemoryOption func(*Memory)

// WithClock 測試用：固定或遞增的時間來源
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithDir 開啟 JSON 檔案持久化
func WithDir(dir string) MemoryOption {
	return func(m *Memory) { m.dir = dir }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		rows:      map[Collection]map[string]Row{},
		listeners: map[Collection]map[uint64]func(){},
		now:       time.Now,
	}
	for _, c := range AllCollections {
		m.rows[c] = map[string]Row{}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetFault 注入錯誤：fn 回傳非 nil 時該次操作失敗（op: fetch/get/insert/update/delete/transact）
func (m *Memory) SetFault(fn func(op string, c Collection, id string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *Memory) check(op string, c Collection, id string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op, c, id)
}

func (m *Memory) Fetch(_ context.Context, c Collection) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("fetch", c, ""); err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(m.rows[c]))
	for _, r := range m.rows[c] {
		out = append(out, copyRow(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *Memory) Get(_ context.Context, c Collection, id string) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("get", c, id); err != nil {
		return nil, err
	}
	r, ok := m.rows[c][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	return copyRow(r), nil
}

func (m *Memory) Insert(_ context.Context, c Collection, row Row) (string, error) {
	m.mu.Lock()
	id := row.ID()
	if id == "" {
		id = uuid.NewString()
	}
	if err := m.check("insert", c, id); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if _, exists := m.rows[c][id]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("%s/%s: already exists", c, id)
	}
	stored, err := merge(Row{"id": id}, row, m.now())
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	stored["id"] = id
	m.rows[c][id] = stored
	m.persistLocked(c)
	m.mu.Unlock()

	m.notify(c)
	return id, nil
}

func (m *Memory) Update(_ context.Context, c Collection, id string, patch Row) error {
	m.mu.Lock()
	if err := m.check("update", c, id); err != nil {
		m.mu.Unlock()
		return err
	}
	cur, ok := m.rows[c][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	next, err := merge(cur, patch, m.now())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	next["id"] = id
	m.rows[c][id] = next
	m.persistLocked(c)
	m.mu.Unlock()

	m.notify(c)
	return nil
}

func (m *Memory) Delete(_ context.Context, c Collection, id string) error {
	m.mu.Lock()
	if err := m.check("delete", c, id); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.rows[c][id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	delete(m.rows[c], id)
	m.persistLocked(c)
	m.mu.Unlock()

	m.notify(c)
	return nil
}

// Transact 整段在同一把鎖裡完成，等同 compare-and-swap
func (m *Memory) Transact(_ context.Context, c Collection, id string, fn func(cur Row) (Row, error)) error {
	m.mu.Lock()
	if err := m.check("transact", c, id); err != nil {
		m.mu.Unlock()
		return err
	}
	cur, ok := m.rows[c][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	patch, err := fn(copyRow(cur))
	if err != nil {
		m.mu.Unlock()
		return err
	}
	next, err := merge(cur, patch, m.now())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	next["id"] = id
	m.rows[c][id] = next
	m.persistLocked(c)
	m.mu.Unlock()

	m.notify(c)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, c Collection, onChange func()) (func(), error) {
	m.mu.Lock()
	m.nextSub++
	key := m.nextSub
	if m.listeners[c] == nil {
		m.listeners[c] = map[uint64]func(){}
	}
	m.listeners[c][key] = onChange
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners[c], key)
			m.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}, nil
}

// Subscribers 回傳某集合目前的訂閱數（測試用來確認有沒有漏關）
func (m *Memory) Subscribers(c Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[c])
}

// 鎖放掉之後才通知，listener 會回頭呼叫 Fetch
func (m *Memory) notify(c Collection) {
	m.mu.RLock()
	fns := make([]func(), 0, len(m.listeners[c]))
	for _, fn := range m.listeners[c] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// ===== JSON 檔案 =====

func readJSONFile[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	return os.WriteFile(path, b, 0o644)
}

func (m *Memory) persistLocked(c Collection) {
	if m.dir == "" {
		return
	}
	_ = writeJSONFile(filepath.Join(m.dir, string(c)+".json"), m.rows[c])
}

// Load 讀回 dir 底下的集合檔案；檔案不存在就略過
func (m *Memory) Load() {
	if m.dir == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range AllCollections {
		var rows map[string]Row
		if err := readJSONFile(filepath.Join(m.dir, string(c)+".json"), &rows); err != nil {
			continue
		}
		for id, r := range rows {
			r["id"] = id
			m.rows[c][id] = r
		}
	}
}

// ===== Demo seed =====

func (m *Memory) SeedIfEmpty(ctx context.Context) error {
	m.mu.RLock()
	empty := len(m.rows[Users]) == 0 && len(m.rows[Items]) == 0
	m.mu.RUnlock()
	if !empty {
		return nil
	}

	accounts := []models.Account{
		{ID: "demo_alice@example.edu", FullName: "Alice", Email: "demo_alice@example.edu", RegNo: "21BCE0001",
			Branch: "CSE", Year: 3, HostelBlock: "A", Role: models.RoleStudent, Wishlist: []string{}},
		{ID: "demo_bob@example.edu", FullName: "Bob", Email: "demo_bob@example.edu", RegNo: "22ECE0042",
			Branch: "ECE", Year: 2, HostelBlock: "C", Role: models.RoleStudent, Wishlist: []string{}},
	}
	for _, a := range accounts {
		if _, err := m.Insert(ctx, Users, EncodeAccount(a)); err != nil {
			return err
		}
	}
	listings := []models.NewListing{
		{SellerID: "demo_bob@example.edu", Title: "Calculus Textbook", Description: "Thomas' Calculus, 14th ed. A few pencil notes.",
			Category: models.CategoryTextbooks, Price: 300, Location: "C Block", Condition: models.ConditionGood},
		{SellerID: "demo_alice@example.edu", Title: "Table Lamp", Description: "LED desk lamp with three brightness levels.",
			Category: models.CategoryHostelEssentials, Price: 450, Location: "A Block", Condition: models.ConditionLikeNew, OpenToExchange: true},
	}
	for _, l := range listings {
		if _, err := m.Insert(ctx, Items, EncodeNewListing(l)); err != nil {
			return err
		}
	}
	return nil
}
