package conversations

import (
	"slices"
	"sync"

	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/store"
)

// Source 是 projector 讀取的 mirror
type Source interface {
	Messages() []models.Message
	Accounts() []models.Account
	Listings() []models.Listing
	OnChange(fn func(store.Collection)) func()
}

type Actors interface {
	CurrentActor() (models.Account, bool)
}

// Projector keeps the current actor's conversation list up to date by
// recomputing it whenever messages, accounts or listings are republished.
type Projector struct {
	src    Source
	actors Actors
	cancel func()

	mu      sync.RWMutex
	current []models.Conversation
	issued  uint64 // 已發出的重算序號
	stored  uint64 // current 對應的序號
}

func NewProjector(src Source, actors Actors) *Projector {
	p := &Projector{src: src, actors: actors}
	p.cancel = src.OnChange(func(c store.Collection) {
		switch c {
		case store.Messages, store.Users, store.Items:
			p.Recompute()
		}
	})
	p.Recompute()
	return p
}

// Recompute 整份重算；登入帳號切換時也要呼叫。
// 序號在讀 mirror 之前取得，較晚開始的重算已寫入時就丟掉自己的結果。
func (p *Projector) Recompute() {
	p.mu.Lock()
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	var convs []models.Conversation
	if a, ok := p.actors.CurrentActor(); ok {
		convs = Project(a.ID, p.src.Messages(), p.src.Accounts(), p.src.Listings())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.stored {
		return
	}
	p.stored = seq
	p.current = convs
}

func (p *Projector) Current() []models.Conversation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.current)
}

func (p *Projector) TotalUnread() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return TotalUnread(p.current)
}

// Thread 目前帳號與 otherID 的訊息
func (p *Projector) Thread(otherID, itemID string) []models.Message {
	a, ok := p.actors.CurrentActor()
	if !ok {
		return []models.Message{}
	}
	return Thread(a.ID, otherID, itemID, p.src.Messages())
}

func (p *Projector) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}
