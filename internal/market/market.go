package market

import (
	"context"
	"sync"

	"github.com/apex/log"

	"local.dev/campus-market/internal/blob"
	"local.dev/campus-market/internal/conversations"
	"local.dev/campus-market/internal/describe"
	"local.dev/campus-market/internal/gateway"
	"local.dev/campus-market/internal/mirror"
	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/session"
	"local.dev/campus-market/internal/store"
)

type Deps struct {
	Store     store.Datastore
	Auth      session.AuthProvider
	Blob      blob.Store
	Describer describe.Generator

	AdminDomain      string
	LostReportPolicy gateway.LostReportPolicy
	Mirror           mirror.Options
}

// Market wires the components together: the mirror follows the session's
// actor, the session follows the mirror's copy of the actor's own row, and
// the projector follows both.
type Market struct {
	Store     store.Datastore
	Session   *session.Session
	Mirror    *mirror.Mirror
	Gateway   *gateway.Gateway
	Projector *conversations.Projector
	Blob      blob.Store
	Describer describe.Generator

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu       sync.Mutex
	mirrored string // 目前 mirror 訂閱所屬的帳號
}

func New(d Deps) *Market {
	if d.Describer == nil {
		d.Describer = describe.Fallback{}
	}
	sess := session.New(d.Auth, d.Store, session.Options{AdminDomain: d.AdminDomain})
	mir := mirror.New(d.Store, d.Mirror)
	m := &Market{
		Store:     d.Store,
		Session:   sess,
		Mirror:    mir,
		Gateway:   gateway.New(d.Store, mir, sess, gateway.Options{LostReportPolicy: d.LostReportPolicy}),
		Projector: conversations.NewProjector(mir, sess),
		Blob:      d.Blob,
		Describer: d.Describer,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.unsubs = append(m.unsubs,
		sess.OnActorChanged(m.actorChanged),
		mir.OnChange(m.mirrorChanged),
	)
	return m
}

// actorChanged 登入換人時重開 mirror，登出時關閉
func (m *Market) actorChanged(a models.Account, ok bool) {
	id := ""
	if ok {
		id = a.ID
	}
	m.mu.Lock()
	same := m.mirrored == id
	m.mirrored = id
	m.mu.Unlock()

	if !same {
		m.Mirror.Stop()
		if id != "" {
			if err := m.Mirror.Start(m.ctx, id); err != nil {
				log.WithError(err).WithField("actor", id).Warn("mirror started with errors")
			}
			// 訂閱沒開成功就忘掉，下次同一帳號再登入會重試
			if !m.Mirror.Active() {
				m.mu.Lock()
				if m.mirrored == id {
					m.mirrored = ""
				}
				m.mu.Unlock()
			}
		}
	}
	m.Projector.Recompute()
}

// mirrorChanged 把 mirror 收到的目前帳號資料交給 session
func (m *Market) mirrorChanged(c store.Collection) {
	if c != store.Users {
		return
	}
	cur, ok := m.Session.CurrentActor()
	if !ok {
		return
	}
	if fresh, ok := m.Mirror.AccountByID(cur.ID); ok {
		m.Session.Observe(fresh)
	}
}

func (m *Market) Close() {
	for _, u := range m.unsubs {
		u()
	}
	m.Projector.Close()
	m.Mirror.Stop()
	m.cancel()
}
