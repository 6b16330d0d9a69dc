package store

import (
	"fmt"
	"sort"
)

// Field 一組 本地(camelCase) <-> 遠端(snake_case) 欄位名
type Field struct {
	Local  string
	Remote string
}

// Table is the bidirectional field-name mapping for one entity type. It is the
// only place that knows the remote naming convention.
type Table struct {
	fields   []Field
	toRemote map[string]string
	toLocal  map[string]string
}

func NewTable(fields ...Field) Table {
	t := Table{
		fields:   fields,
		toRemote: make(map[string]string, len(fields)),
		toLocal:  make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		if _, dup := t.toRemote[f.Local]; dup {
			panic(fmt.Sprintf("store: duplicate local field %q", f.Local))
		}
		if _, dup := t.toLocal[f.Remote]; dup {
			panic(fmt.Sprintf("store: duplicate remote field %q", f.Remote))
		}
		t.toRemote[f.Local] = f.Remote
		t.toLocal[f.Remote] = f.Local
	}
	return t
}

func (t Table) Fields() []Field { return append([]Field(nil), t.fields...) }

func (t Table) Remote(local string) (string, bool) {
	r, ok := t.toRemote[local]
	return r, ok
}

func (t Table) Local(remote string) (string, bool) {
	l, ok := t.toLocal[remote]
	return l, ok
}

// ToRemote 轉換送出的欄位；未知欄位直接回錯，避免打錯字默默寫進資料庫
func (t Table) ToRemote(local map[string]any) (Row, error) {
	out := make(Row, len(local))
	var unknown []string
	for k, v := range local {
		r, ok := t.toRemote[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		out[r] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("store: unknown local fields %v", unknown)
	}
	return out, nil
}

// ToLocal 轉換收到的 row；遠端多出來的欄位忽略
func (t Table) ToLocal(row Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if l, ok := t.toLocal[k]; ok {
			out[l] = v
		}
	}
	return out
}

// ===== 各 entity 的對照表 =====

var AccountFields = NewTable(
	Field{"id", "id"},
	Field{"fullName", "full_name"},
	Field{"email", "email"},
	Field{"regNo", "reg_no"},
	Field{"branch", "branch"},
	Field{"year", "year"},
	Field{"hostelBlock", "hostel_block"},
	Field{"role", "role"},
	Field{"profilePictureUrl", "profile_picture_url"},
	Field{"rating", "rating"},
	Field{"ratingsCount", "ratings_count"},
	Field{"ratingTotal", "rating_total"},
	Field{"isSuspended", "is_suspended"},
	Field{"wishlist", "wishlist"},
)

var ListingFields = NewTable(
	Field{"id", "id"},
	Field{"sellerId", "seller_id"},
	Field{"title", "title"},
	Field{"description", "description"},
	Field{"category", "category"},
	Field{"price", "price"},
	Field{"location", "location"},
	Field{"condition", "condition"},
	Field{"imageUrl", "image_url"},
	Field{"openToExchange", "open_to_exchange"},
	Field{"isSold", "is_sold"},
	Field{"createdAt", "created_at"},
)

var LostReportFields = NewTable(
	Field{"id", "id"},
	Field{"name", "name"},
	Field{"description", "description"},
	Field{"locationFound", "location_found"},
	Field{"imageUrl", "image_url"},
	Field{"claimedBy", "claimed_by"},
	Field{"dateFound", "date_found"},
)

var ComplaintFields = NewTable(
	Field{"id", "id"},
	Field{"itemId", "item_id"},
	Field{"reporterId", "reporter_id"},
	Field{"reason", "reason"},
	Field{"status", "status"},
	Field{"createdAt", "created_at"},
)

var ClaimFields = NewTable(
	Field{"id", "id"},
	Field{"lostItemId", "lost_item_id"},
	Field{"claimantId", "claimant_id"},
	Field{"proofImageUrl", "proof_image_url"},
	Field{"billImageUrl", "bill_image_url"},
	Field{"comments", "comments"},
	Field{"status", "status"},
	Field{"createdAt", "created_at"},
)

var MessageFields = NewTable(
	Field{"id", "id"},
	Field{"senderId", "sender_id"},
	Field{"receiverId", "receiver_id"},
	Field{"itemId", "item_id"},
	Field{"content", "content"},
	Field{"isRead", "is_read"},
	Field{"createdAt", "created_at"},
)

// timeFields 在 decode 時一定會被解析成 time.Time
var timeFields = map[string]bool{"createdAt": true, "dateFound": true}

func TableFor(c Collection) Table {
	switch c {
	case Users:
		return AccountFields
	case Items:
		return ListingFields
	case LostItems:
		return LostReportFields
	case Complaints:
		return ComplaintFields
	case Claims:
		return ClaimFields
	case Messages:
		return MessageFields
	}
	panic(fmt.Sprintf("store: no field table for collection %q", c))
}
