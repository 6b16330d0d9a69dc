package mirror

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"local.dev/campus-market/internal/metrics"
	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/store"
)

var (
	ErrNoActor        = errors.New("mirror: no current actor")
	ErrAlreadyStarted = errors.New("mirror: already started")
)

type Options struct {
	FetchRetries int
	RetryBase    time.Duration
}

// SetHealth 是某個集合最近一次同步的狀態
type SetHealth struct {
	LastSync  time.Time `json:"lastSync"`
	LastError string    `json:"lastError,omitempty"`
}

// Mirror keeps a read-only, push-updated copy of every record set the UI
// renders. Each change event triggers a full refetch of that set; readers get
// immutable snapshots.
type Mirror struct {
	ds      store.Datastore
	retries int
	base    time.Duration

	mu        sync.RWMutex
	active    bool
	gen       uint64 // Start/Stop 各 +1；舊世代的結果一律丟掉
	ctx       context.Context
	cancel    context.CancelFunc
	unsubs    []func()
	issued    map[store.Collection]uint64
	published map[store.Collection]uint64
	health    map[store.Collection]SetHealth
	readMarks map[string]struct{} // 已在本地標為已讀、遠端尚未確認的 message id

	accounts   []models.Account
	listings   []models.Listing
	lost       []models.LostReport
	complaints []models.Complaint
	claims     []models.Claim
	messages   []models.Message

	lmu       sync.Mutex
	listeners map[uint64]func(store.Collection)
	nextL     uint64
}

func New(ds store.Datastore, opts Options) *Mirror {
	if opts.FetchRetries < 0 {
		opts.FetchRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	m := &Mirror{
		ds:        ds,
		retries:   opts.FetchRetries,
		base:      opts.RetryBase,
		listeners: map[uint64]func(store.Collection){},
	}
	m.resetLocked()
	return m
}

func (m *Mirror) resetLocked() {
	m.issued = map[store.Collection]uint64{}
	m.published = map[store.Collection]uint64{}
	m.health = map[store.Collection]SetHealth{}
	m.readMarks = map[string]struct{}{}
	m.accounts, m.listings, m.lost = nil, nil, nil
	m.complaints, m.claims, m.messages = nil, nil, nil
}

// Start opens one subscription per record set and loads all of them
// concurrently. The returned error joins the sets whose initial load failed;
// the other sets are live regardless.
func (m *Mirror) Start(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ErrNoActor
	}
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.active = true
	m.gen++
	gen := m.gen
	// 訂閱的壽命跟著 mirror，不跟著呼叫者的 request
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	subCtx := m.ctx
	m.mu.Unlock()

	var unsubs []func()
	for _, c := range store.AllCollections {
		unsub, err := m.ds.Subscribe(subCtx, c, func() { m.onChange(gen, c) })
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			m.Stop()
			return fmt.Errorf("subscribe %s: %w", c, err)
		}
		unsubs = append(unsubs, unsub)
	}
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		return nil
	}
	m.unsubs = unsubs
	m.mu.Unlock()
	metrics.MirrorSubscriptions.Add(float64(len(unsubs)))

	var (
		g    errgroup.Group
		emu  sync.Mutex
		errs []error
	)
	for _, c := range store.AllCollections {
		g.Go(func() error {
			if err := m.refresh(subCtx, gen, c); err != nil {
				emu.Lock()
				errs = append(errs, err)
				emu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop 關閉所有訂閱並清空快照；可重複呼叫
func (m *Mirror) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.gen++
	unsubs := m.unsubs
	cancel := m.cancel
	m.unsubs, m.cancel, m.ctx = nil, nil, nil
	m.resetLocked()
	m.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
	}
	metrics.MirrorSubscriptions.Sub(float64(len(unsubs)))
	for _, c := range store.AllCollections {
		m.emit(c)
	}
}

func (m *Mirror) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Refresh 立即重抓一個集合（寫入後由 gateway 呼叫，確保讀得到自己的寫入）
func (m *Mirror) Refresh(ctx context.Context, c store.Collection) error {
	m.mu.RLock()
	gen, active := m.gen, m.active
	m.mu.RUnlock()
	if !active {
		return nil
	}
	return m.refresh(ctx, gen, c)
}

func (m *Mirror) onChange(gen uint64, c store.Collection) {
	m.mu.RLock()
	ctx := m.ctx
	live := m.active && m.gen == gen
	m.mu.RUnlock()
	if !live || ctx == nil {
		return
	}
	if err := m.refresh(ctx, gen, c); err != nil {
		log.WithError(err).WithField("collection", c).Warn("mirror refetch failed")
	}
}

func (m *Mirror) refresh(ctx context.Context, gen uint64, c store.Collection) error {
	m.mu.Lock()
	if !m.active || m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.issued[c]++
	seq := m.issued[c]
	m.mu.Unlock()

	rows, err := withRetries(ctx, m.retries, m.base, func(ctx context.Context) ([]store.Row, error) {
		return m.ds.Fetch(ctx, c)
	})
	if err != nil {
		metrics.MirrorRefreshTotal.WithLabelValues(string(c), "error").Inc()
		m.mu.Lock()
		if m.active && m.gen == gen {
			h := m.health[c]
			h.LastError = err.Error()
			m.health[c] = h
		}
		m.mu.Unlock()
		return fmt.Errorf("refetch %s: %w", c, err)
	}

	if !m.publish(gen, c, seq, rows) {
		metrics.MirrorRefreshTotal.WithLabelValues(string(c), "stale").Inc()
		return nil
	}
	metrics.MirrorRefreshTotal.WithLabelValues(string(c), "ok").Inc()
	m.emit(c)
	return nil
}

// publish 只接受比上次發佈更新的序號
func (m *Mirror) publish(gen uint64, c store.Collection, seq uint64, rows []store.Row) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.gen != gen || seq <= m.published[c] {
		return false
	}
	m.published[c] = seq
	m.health[c] = SetHealth{LastSync: time.Now()}

	switch c {
	case store.Users:
		out := make([]models.Account, 0, len(rows))
		for _, r := range rows {
			out = append(out, store.DecodeAccount(r))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		m.accounts = out
	case store.Items:
		out := make([]models.Listing, 0, len(rows))
		for _, r := range rows {
			out = append(out, store.DecodeListing(r))
		}
		// 最新的在前
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		m.listings = out
	case store.LostItems:
		out := make([]models.LostReport, 0, len(rows))
		for _, r := range rows {
			out = append(out, store.DecodeLostReport(r))
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].DateFound.Equal(out[j].DateFound) {
				return out[i].DateFound.After(out[j].DateFound)
			}
			return out[i].ID < out[j].ID
		})
		m.lost = out
	case store.Complaints:
		out := make([]models.Complaint, 0, len(rows))
		for _, r := range rows {
			out = append(out, store.DecodeComplaint(r))
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		m.complaints = out
	case store.Claims:
		out := make([]models.Claim, 0, len(rows))
		for _, r := range rows {
			out = append(out, store.DecodeClaim(r))
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		m.claims = out
	case store.Messages:
		out := make([]models.Message, 0, len(rows))
		for _, r := range rows {
			msg := store.DecodeMessage(r)
			if _, marked := m.readMarks[msg.ID]; marked {
				if msg.IsRead {
					delete(m.readMarks, msg.ID)
				} else {
					msg.IsRead = true
				}
			}
			out = append(out, msg)
		}
		// 對話順序：舊到新
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		m.messages = out
	}
	return true
}

// ===== listeners =====

// OnChange 在任一集合重新發佈後呼叫 fn（在訂閱的 goroutine 上執行）
func (m *Mirror) OnChange(fn func(store.Collection)) func() {
	m.lmu.Lock()
	m.nextL++
	key := m.nextL
	m.listeners[key] = fn
	m.lmu.Unlock()
	return func() {
		m.lmu.Lock()
		delete(m.listeners, key)
		m.lmu.Unlock()
	}
}

func (m *Mirror) emit(c store.Collection) {
	m.lmu.Lock()
	keys := make([]uint64, 0, len(m.listeners))
	for k := range m.listeners {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fns := make([]func(store.Collection), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, m.listeners[k])
	}
	m.lmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// ===== 已讀 overlay =====

// MarkMessagesRead 先在本地把訊息標成已讀，直到遠端資料確認為止
func (m *Mirror) MarkMessagesRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.readMarks[id] = struct{}{}
		set[id] = struct{}{}
	}
	m.messages = withReadFlag(m.messages, set, true)
	m.mu.Unlock()
	m.emit(store.Messages)
}

// RevertMessagesRead 撤回寫入失敗的 overlay
func (m *Mirror) RevertMessagesRead(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.readMarks[id]; ok {
			delete(m.readMarks, id)
			set[id] = struct{}{}
		}
	}
	m.messages = withReadFlag(m.messages, set, false)
	m.mu.Unlock()
	m.emit(store.Messages)
}

// 快照不可原地修改，改完換一份新的
func withReadFlag(msgs []models.Message, ids map[string]struct{}, read bool) []models.Message {
	out := slices.Clone(msgs)
	for i := range out {
		if _, ok := ids[out[i].ID]; ok {
			out[i].IsRead = read
		}
	}
	return out
}

// ===== snapshots =====

func (m *Mirror) Accounts() []models.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.accounts)
}

func (m *Mirror) Listings() []models.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.listings)
}

func (m *Mirror) LostReports() []models.LostReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.lost)
}

func (m *Mirror) Complaints() []models.Complaint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.complaints)
}

func (m *Mirror) Claims() []models.Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.claims)
}

func (m *Mirror) Messages() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages)
}

// Health 回傳每個集合最近一次同步的結果
func (m *Mirror) Health() map[store.Collection]SetHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[store.Collection]SetHealth, len(m.health))
	for k, v := range m.health {
		out[k] = v
	}
	return out
}

// ===== lookups =====

func (m *Mirror) AccountByID(id string) (models.Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.ID == id {
			a.Wishlist = slices.Clone(a.Wishlist)
			return a, true
		}
	}
	return models.Account{}, false
}

func (m *Mirror) ListingByID(id string) (models.Listing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return find(m.listings, func(l models.Listing) bool { return l.ID == id })
}

func (m *Mirror) LostReportByID(id string) (models.LostReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return find(m.lost, func(l models.LostReport) bool { return l.ID == id })
}

func (m *Mirror) ComplaintByID(id string) (models.Complaint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return find(m.complaints, func(c models.Complaint) bool { return c.ID == id })
}

func (m *Mirror) ClaimByID(id string) (models.Claim, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return find(m.claims, func(c models.Claim) bool { return c.ID == id })
}

func find[T any](xs []T, match func(T) bool) (T, bool) {
	if i := slices.IndexFunc(xs, match); i >= 0 {
		return xs[i], true
	}
	var zero T
	return zero, false
}
