package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/apex/log"
	"github.com/shopspring/decimal"

	"local.dev/campus-market/internal/metrics"
	"local.dev/campus-market/internal/models"
	"local.dev/campus-market/internal/store"
)

// Actors 提供目前登入的帳號（session 實作）
type Actors interface {
	CurrentActor() (models.Account, bool)
	RefreshActor(ctx context.Context) (models.Account, error)
}

// Snapshot 是 gateway 需要的 mirror 能力
type Snapshot interface {
	ListingByID(id string) (models.Listing, bool)
	ComplaintByID(id string) (models.Complaint, bool)
	ClaimByID(id string) (models.Claim, bool)
	Messages() []models.Message
	MarkMessagesRead(ids []string)
	RevertMessagesRead(ids []string)
	Refresh(ctx context.Context, c store.Collection) error
}

// LostReportPolicy 決定誰可以新增失物招領
type LostReportPolicy string

const (
	LostReportsAnyone    LostReportPolicy = "any"
	LostReportsAdminOnly LostReportPolicy = "admin"
)

func ParseLostReportPolicy(s string) (LostReportPolicy, error) {
	switch p := LostReportPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return LostReportsAnyone, nil
	case LostReportsAnyone, LostReportsAdminOnly:
		return p, nil
	}
	return "", fmt.Errorf("unknown lost report policy %q", s)
}

type Options struct {
	LostReportPolicy LostReportPolicy
}

// Gateway turns named user intentions into remote writes. Every write goes
// through the store field tables; no operation retries on its own.
type Gateway struct {
	ds     store.Datastore
	mirror Snapshot
	actors Actors
	policy LostReportPolicy
}

func New(ds store.Datastore, mirror Snapshot, actors Actors, opts Options) *Gateway {
	if opts.LostReportPolicy == "" {
		opts.LostReportPolicy = LostReportsAnyone
	}
	return &Gateway{ds: ds, mirror: mirror, actors: actors, policy: opts.LostReportPolicy}
}

// ===== actor 檢查 =====

func (g *Gateway) actor() (models.Account, error) {
	a, ok := g.actors.CurrentActor()
	if !ok {
		return models.Account{}, ErrNoActor
	}
	return a, nil
}

// activeActor 停權帳號不能新增任何內容
func (g *Gateway) activeActor() (models.Account, error) {
	a, err := g.actor()
	if err != nil {
		return a, err
	}
	if a.IsSuspended {
		return a, ErrSuspended
	}
	return a, nil
}

func (g *Gateway) admin() (models.Account, error) {
	a, err := g.actor()
	if err != nil {
		return a, err
	}
	if !a.IsAdmin() {
		return a, ErrForbidden
	}
	return a, nil
}

func (g *Gateway) resync(ctx context.Context, cs ...store.Collection) {
	if g.mirror == nil {
		return
	}
	for _, c := range cs {
		if err := g.mirror.Refresh(ctx, c); err != nil {
			log.WithError(err).WithField("collection", c).Warn("resync after write failed")
		}
	}
}

func observe(op string, err error) {
	result := "ok"
	var fu *FollowUpError
	switch {
	case errors.As(err, &fu):
		result = "partial"
		log.WithError(fu.Err).WithFields(log.Fields{"op": fu.Op, "pending": fu.Pending}).Error("follow-up write failed")
	case err != nil:
		result = "error"
	}
	metrics.GatewayOpsTotal.WithLabelValues(op, result).Inc()
}

// ===== listings =====

func (g *Gateway) AddListing(ctx context.Context, in models.NewListing) (id string, err error) {
	defer func() { observe("addListing", err) }()
	a, err := g.activeActor()
	if err != nil {
		return "", err
	}
	in.SellerID = a.ID
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.Title == "":
		return "", invalid("title is required")
	case !in.Category.Valid():
		return "", invalid("unknown category %q", in.Category)
	case !in.Condition.Valid():
		return "", invalid("unknown condition %q", in.Condition)
	case in.Price < 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0):
		return "", invalid("price must be a non-negative number")
	}
	id, err = g.ds.Insert(ctx, store.Items, store.EncodeNewListing(in))
	if err != nil {
		return "", fmt.Errorf("add listing: %w", err)
	}
	g.resync(ctx, store.Items)
	return id, nil
}

// ownedListing 讀取 listing 並確認呼叫者是賣家或管理員
func (g *Gateway) ownedListing(ctx context.Context, a models.Account, id string) (models.Listing, error) {
	row, err := g.ds.Get(ctx, store.Items, id)
	if err != nil {
		return models.Listing{}, err
	}
	l := store.DecodeListing(row)
	if l.SellerID != a.ID && !a.IsAdmin() {
		return l, ErrForbidden
	}
	return l, nil
}

// RemoveListing 刪除已不存在的 listing 視為成功
func (g *Gateway) RemoveListing(ctx context.Context, id string) (err error) {
	defer func() { observe("removeListing", err) }()
	a, err := g.actor()
	if err != nil {
		return err
	}
	if _, err := g.ownedListing(ctx, a, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := g.ds.Delete(ctx, store.Items, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("remove listing: %w", err)
	}
	g.resync(ctx, store.Items)
	return nil
}

func (g *Gateway) MarkListingSold(ctx context.Context, id string) (err error) {
	defer func() { observe("markListingSold", err) }()
	a, err := g.actor()
	if err != nil {
		return err
	}
	if _, err := g.ownedListing(ctx, a, id); err != nil {
		return err
	}
	if err := g.ds.Update(ctx, store.Items, id, store.Row{"is_sold": true}); err != nil {
		return fmt.Errorf("mark listing sold: %w", err)
	}
	g.resync(ctx, store.Items)
	return nil
}

// ===== accounts =====

// ToggleSuspendAccount 回傳切換後的停權狀態
func (g *Gateway) ToggleSuspendAccount(ctx context.Context, accountID string) (suspended bool, err error) {
	defer func() { observe("toggleSuspendAccount", err) }()
	a, err := g.admin()
	if err != nil {
		return false, err
	}
	if accountID == a.ID {
		return false, invalid("cannot suspend yourself")
	}
	err = g.ds.Transact(ctx, store.Users, accountID, func(cur store.Row) (store.Row, error) {
		suspended = !store.DecodeAccount(cur).IsSuspended
		return store.Row{"is_suspended": suspended}, nil
	})
	if err != nil {
		return false, fmt.Errorf("toggle suspend: %w", err)
	}
	g.resync(ctx, store.Users)
	return suspended, nil
}

// UpdateAccount 只寫入 patch 中有給值的欄位
func (g *Gateway) UpdateAccount(ctx context.Context, patch models.AccountPatch) (err error) {
	defer func() { observe("updateAccount", err) }()
	a, err := g.actor()
	if err != nil {
		return err
	}
	if patch.FullName != nil && strings.TrimSpace(*patch.FullName) == "" {
		return invalid("full name cannot be empty")
	}
	if patch.Year != nil && (*patch.Year < 1 || *patch.Year > 6) {
		return invalid("year must be between 1 and 6")
	}
	row := store.EncodeAccountPatch(patch)
	if len(row) == 0 {
		return nil
	}
	if err := g.ds.Update(ctx, store.Users, a.ID, row); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if _, err := g.actors.RefreshActor(ctx); err != nil {
		log.WithError(err).Warn("refresh actor after update failed")
	}
	g.resync(ctx, store.Users)
	return nil
}

// RateSeller 在 transaction 中累加評分總和並重算平均（四捨五入到一位小數）
func (g *Gateway) RateSeller(ctx context.Context, sellerID string, rating int) (err error) {
	defer func() { observe("rateSeller", err) }()
	a, err := g.activeActor()
	if err != nil {
		return err
	}
	if rating < 1 || rating > 5 {
		return invalid("rating must be between 1 and 5")
	}
	if sellerID == a.ID {
		return invalid("cannot rate yourself")
	}
	err = g.ds.Transact(ctx, store.Users, sellerID, func(cur store.Row) (store.Row, error) {
		seller := store.DecodeAccount(cur)
		total := decimal.NewFromFloat(seller.RatingTotal).Add(decimal.NewFromInt(int64(rating)))
		count := seller.RatingsCount + 1
		avg, _ := total.Div(decimal.NewFromInt(int64(count))).Round(1).Float64()
		sum, _ := total.Float64()
		return store.Row{
			"rating":        avg,
			"ratings_count": count,
			"rating_total":  sum,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("rate seller: %w", err)
	}
	g.resync(ctx, store.Users)
	return nil
}

// ===== wishlist =====

// ToggleWishlist 以最新的帳號資料決定加入或移除，回傳切換後是否在清單中
func (g *Gateway) ToggleWishlist(ctx context.Context, itemID string) (in bool, err error) {
	defer func() { observe("toggleWishlist", err) }()
	if _, err := g.actor(); err != nil {
		return false, err
	}
	if itemID == "" {
		return false, invalid("item id is required")
	}
	fresh, err := g.actors.RefreshActor(ctx)
	if err != nil {
		return false, fmt.Errorf("toggle wishlist: %w", err)
	}
	op := store.ArrayUnion(itemID)
	in = true
	if fresh.InWishlist(itemID) {
		op, in = store.ArrayRemove(itemID), false
	}
	if err := g.ds.Update(ctx, store.Users, fresh.ID, store.Row{"wishlist": op}); err != nil {
		return false, fmt.Errorf("toggle wishlist: %w", err)
	}
	if _, err := g.actors.RefreshActor(ctx); err != nil {
		log.WithError(err).Warn("refresh actor after wishlist toggle failed")
	}
	return in, nil
}

func (g *Gateway) IsInWishlist(itemID string) bool {
	a, ok := g.actors.CurrentActor()
	return ok && a.InWishlist(itemID)
}

// ===== lost & found =====

func (g *Gateway) AddLostReport(ctx context.Context, in models.NewLostReport) (id string, err error) {
	defer func() { observe("addLostReport", err) }()
	a, err := g.activeActor()
	if err != nil {
		return "", err
	}
	if g.policy == LostReportsAdminOnly && !a.IsAdmin() {
		return "", ErrForbidden
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return "", invalid("name is required")
	}
	id, err = g.ds.Insert(ctx, store.LostItems, store.EncodeNewLostReport(in))
	if err != nil {
		return "", fmt.Errorf("add lost report: %w", err)
	}
	g.resync(ctx, store.LostItems)
	return id, nil
}

func (g *Gateway) SubmitClaim(ctx context.Context, in models.NewClaim) (id string, err error) {
	defer func() { observe("submitClaim", err) }()
	a, err := g.activeActor()
	if err != nil {
		return "", err
	}
	in.ClaimantID = a.ID
	switch {
	case in.LostItemID == "":
		return "", invalid("lost item id is required")
	case strings.TrimSpace(in.ProofImageURL) == "":
		return "", invalid("proof image is required")
	}
	id, err = g.ds.Insert(ctx, store.Claims, store.EncodeNewClaim(in))
	if err != nil {
		return "", fmt.Errorf("submit claim: %w", err)
	}
	g.resync(ctx, store.Claims)
	return id, nil
}

// ===== moderation =====

func (g *Gateway) ReportListing(ctx context.Context, itemID, reason string) (id string, err error) {
	defer func() { observe("reportListing", err) }()
	a, err := g.activeActor()
	if err != nil {
		return "", err
	}
	reason = strings.TrimSpace(reason)
	switch {
	case itemID == "":
		return "", invalid("item id is required")
	case reason == "":
		return "", invalid("reason is required")
	}
	id, err = g.ds.Insert(ctx, store.Complaints, store.EncodeNewComplaint(itemID, a.ID, reason))
	if err != nil {
		return "", fmt.Errorf("report listing: %w", err)
	}
	g.resync(ctx, store.Complaints)
	return id, nil
}

func (g *Gateway) complaint(ctx context.Context, id string) (models.Complaint, error) {
	if c, ok := g.mirror.ComplaintByID(id); ok {
		return c, nil
	}
	row, err := g.ds.Get(ctx, store.Complaints, id)
	if err != nil {
		return models.Complaint{}, err
	}
	return store.DecodeComplaint(row), nil
}

func (g *Gateway) claim(ctx context.Context, id string) (models.Claim, error) {
	if c, ok := g.mirror.ClaimByID(id); ok {
		return c, nil
	}
	row, err := g.ds.Get(ctx, store.Claims, id)
	if err != nil {
		return models.Claim{}, err
	}
	return store.DecodeClaim(row), nil
}

// ResolveComplaint 先把檢舉標為 resolved，deleteItem 時再刪 listing。
// 第二步失敗回傳 *FollowUpError，第一步不回滾。
func (g *Gateway) ResolveComplaint(ctx context.Context, id string, action models.ComplaintAction) (err error) {
	defer func() { observe("resolveComplaint", err) }()
	if _, err := g.admin(); err != nil {
		return err
	}
	if action != models.ActionDismiss && action != models.ActionDeleteItem {
		return invalid("unknown action %q", action)
	}
	c, err := g.complaint(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve complaint: %w", err)
	}
	if err := g.ds.Update(ctx, store.Complaints, id, store.Row{"status": string(models.ComplaintResolved)}); err != nil {
		return fmt.Errorf("resolve complaint: %w", err)
	}
	g.resync(ctx, store.Complaints)
	if action != models.ActionDeleteItem || c.ItemID == "" {
		return nil
	}

	if err := g.ds.Delete(ctx, store.Items, c.ItemID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return &FollowUpError{Op: "resolveComplaint", Pending: "delete listing " + c.ItemID, Err: err}
	}
	g.resync(ctx, store.Items)
	return nil
}

// ResolveClaim 先寫 claim 狀態，approved 時再把 claimant 寫進失物
func (g *Gateway) ResolveClaim(ctx context.Context, id string, status models.ClaimStatus) (err error) {
	defer func() { observe("resolveClaim", err) }()
	if _, err := g.admin(); err != nil {
		return err
	}
	if status != models.ClaimApproved && status != models.ClaimRejected {
		return invalid("claim can only be approved or rejected")
	}
	c, err := g.claim(ctx, id)
	if err != nil {
		return fmt.Errorf("resolve claim: %w", err)
	}
	// 沒有對應遺失物的申請不能核准，駁回則照常
	if status == models.ClaimApproved && c.LostItemID == "" {
		return invalid("claim has no lost item")
	}
	if err := g.ds.Update(ctx, store.Claims, id, store.Row{"status": string(status)}); err != nil {
		return fmt.Errorf("resolve claim: %w", err)
	}
	g.resync(ctx, store.Claims)
	if status != models.ClaimApproved {
		return nil
	}

	if err := g.ds.Update(ctx, store.LostItems, c.LostItemID, store.Row{"claimed_by": c.ClaimantID}); err != nil {
		return &FollowUpError{Op: "resolveClaim", Pending: "set claimant on lost report " + c.LostItemID, Err: err}
	}
	g.resync(ctx, store.LostItems)
	return nil
}

// ===== messages =====

func (g *Gateway) SendMessage(ctx context.Context, receiverID, content, itemID string) (id string, err error) {
	defer func() { observe("sendMessage", err) }()
	a, err := g.activeActor()
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return "", invalid("message cannot be empty")
	case receiverID == "":
		return "", invalid("receiver is required")
	case receiverID == a.ID:
		return "", invalid("cannot message yourself")
	}
	id, err = g.ds.Insert(ctx, store.Messages, store.EncodeNewMessage(a.ID, receiverID, itemID, content))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	g.resync(ctx, store.Messages)
	return id, nil
}

// MarkMessagesAsRead 把 other 在該對話（itemID 空字串 = 一般對話）寄給目前帳號的未讀訊息標為已讀。
// 本地先標記，寫入失敗的再撤回；回傳實際送出成功的數量。
func (g *Gateway) MarkMessagesAsRead(ctx context.Context, otherID, itemID string) (n int, err error) {
	defer func() { observe("markMessagesAsRead", err) }()
	a, err := g.actor()
	if err != nil {
		return 0, err
	}
	var ids []string
	for _, m := range g.mirror.Messages() {
		if m.ReceiverID == a.ID && m.SenderID == otherID && m.ItemID == itemID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	g.mirror.MarkMessagesRead(ids)

	var (
		failed []string
		errs   []error
	)
	for _, id := range ids {
		if err := g.ds.Update(ctx, store.Messages, id, store.Row{"is_read": true}); err != nil {
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("mark message %s read: %w", id, err))
		}
	}
	g.mirror.RevertMessagesRead(failed)
	return len(ids) - len(failed), errors.Join(errs...)
}
