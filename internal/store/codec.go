package store

import (
	"math"
	"strconv"
	"time"

	"local.dev/campus-market/internal/models"
)

// values 是已轉成本地欄位名的 row
type values map[string]any

func (v values) str(k string) string {
	switch x := v[k].(type) {
	case string:
		return x
	case nil:
		return ""
	case []byte:
		return string(x)
	}
	return ""
}

func (v values) num(k string) float64 {
	switch x := v[k].(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func (v values) integer(k string) int { return int(math.Round(v.num(k))) }

func (v values) boolean(k string) bool {
	b, _ := v[k].(bool)
	return b
}

func (v values) strings(k string) []string {
	switch x := v[k].(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

func (v values) time(k string) time.Time { return ParseTime(v[k]) }

// ParseTime 接受 time.Time、RFC3339 字串或 unix 秒；無法解析回傳零值
func ParseTime(raw any) time.Time {
	switch x := raw.(type) {
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x != nil {
			return x.UTC()
		}
	case string:
		if x == "" {
			return time.Time{}
		}
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t.UTC()
		}
	case float64:
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	case int64:
		return time.Unix(x, 0).UTC()
	case int:
		return time.Unix(int64(x), 0).UTC()
	}
	return time.Time{}
}

func local(c Collection, row Row) values {
	v := values(TableFor(c).ToLocal(row))
	for k := range timeFields {
		if _, ok := v[k]; ok {
			v[k] = v.time(k)
		}
	}
	return v
}

// ===== decode（遠端 -> 本地）=====

func DecodeAccount(row Row) models.Account {
	v := local(Users, row)
	a := models.Account{
		ID:                v.str("id"),
		FullName:          v.str("fullName"),
		Email:             v.str("email"),
		RegNo:             v.str("regNo"),
		Branch:            v.str("branch"),
		Year:              v.integer("year"),
		HostelBlock:       v.str("hostelBlock"),
		Role:              models.Role(v.str("role")),
		ProfilePictureURL: v.str("profilePictureUrl"),
		Rating:            v.num("rating"),
		RatingsCount:      v.integer("ratingsCount"),
		RatingTotal:       v.num("ratingTotal"),
		IsSuspended:       v.boolean("isSuspended"),
		Wishlist:          v.strings("wishlist"),
	}
	if a.Role == "" {
		a.Role = models.RoleStudent
	}
	// 舊資料沒有 rating_total，用 平均*次數 還原
	if _, ok := v["ratingTotal"]; !ok {
		a.RatingTotal = a.Rating * float64(a.RatingsCount)
	}
	return a
}

func DecodeListing(row Row) models.Listing {
	v := local(Items, row)
	return models.Listing{
		ID:             v.str("id"),
		SellerID:       v.str("sellerId"),
		Title:          v.str("title"),
		Description:    v.str("description"),
		Category:       models.Category(v.str("category")),
		Price:          v.num("price"),
		Location:       v.str("location"),
		Condition:      models.Condition(v.str("condition")),
		ImageURL:       v.str("imageUrl"),
		OpenToExchange: v.boolean("openToExchange"),
		IsSold:         v.boolean("isSold"),
		CreatedAt:      v.time("createdAt"),
	}
}

func DecodeLostReport(row Row) models.LostReport {
	v := local(LostItems, row)
	return models.LostReport{
		ID:            v.str("id"),
		Name:          v.str("name"),
		Description:   v.str("description"),
		LocationFound: v.str("locationFound"),
		ImageURL:      v.str("imageUrl"),
		ClaimedBy:     v.str("claimedBy"),
		DateFound:     v.time("dateFound"),
	}
}

func DecodeComplaint(row Row) models.Complaint {
	v := local(Complaints, row)
	return models.Complaint{
		ID:         v.str("id"),
		ItemID:     v.str("itemId"),
		ReporterID: v.str("reporterId"),
		Reason:     v.str("reason"),
		Status:     models.ComplaintStatus(v.str("status")),
		CreatedAt:  v.time("createdAt"),
	}
}

func DecodeClaim(row Row) models.Claim {
	v := local(Claims, row)
	return models.Claim{
		ID:            v.str("id"),
		LostItemID:    v.str("lostItemId"),
		ClaimantID:    v.str("claimantId"),
		ProofImageURL: v.str("proofImageUrl"),
		BillImageURL:  v.str("billImageUrl"),
		Comments:      v.str("comments"),
		Status:        models.ClaimStatus(v.str("status")),
		CreatedAt:     v.time("createdAt"),
	}
}

func DecodeMessage(row Row) models.Message {
	v := local(Messages, row)
	return models.Message{
		ID:         v.str("id"),
		SenderID:   v.str("senderId"),
		ReceiverID: v.str("receiverId"),
		ItemID:     v.str("itemId"),
		Content:    v.str("content"),
		IsRead:     v.boolean("isRead"),
		CreatedAt:  v.time("createdAt"),
	}
}

// ===== encode（本地 -> 遠端）=====

// Encode 把本地欄位 map 轉成遠端 row
func Encode(c Collection, fields map[string]any) (Row, error) {
	return TableFor(c).ToRemote(fields)
}

func EncodeAccount(a models.Account) Row {
	row, _ := Encode(Users, map[string]any{
		"id":                a.ID,
		"fullName":          a.FullName,
		"email":             a.Email,
		"regNo":             a.RegNo,
		"branch":            a.Branch,
		"year":              a.Year,
		"hostelBlock":       a.HostelBlock,
		"role":              string(a.Role),
		"profilePictureUrl": a.ProfilePictureURL,
		"rating":            a.Rating,
		"ratingsCount":      a.RatingsCount,
		"ratingTotal":       a.RatingTotal,
		"isSuspended":       a.IsSuspended,
		"wishlist":          toAny(a.Wishlist),
	})
	return row
}

// EncodeAccountPatch 只送出有給值的欄位
func EncodeAccountPatch(p models.AccountPatch) Row {
	m := map[string]any{}
	if p.FullName != nil {
		m["fullName"] = *p.FullName
	}
	if p.RegNo != nil {
		m["regNo"] = *p.RegNo
	}
	if p.Branch != nil {
		m["branch"] = *p.Branch
	}
	if p.Year != nil {
		m["year"] = *p.Year
	}
	if p.HostelBlock != nil {
		m["hostelBlock"] = *p.HostelBlock
	}
	if p.ProfilePictureURL != nil {
		m["profilePictureUrl"] = *p.ProfilePictureURL
	}
	row, _ := Encode(Users, m)
	return row
}

func EncodeNewListing(l models.NewListing) Row {
	row, _ := Encode(Items, map[string]any{
		"sellerId":       l.SellerID,
		"title":          l.Title,
		"description":    l.Description,
		"category":       string(l.Category),
		"price":          l.Price,
		"location":       l.Location,
		"condition":      string(l.Condition),
		"imageUrl":       l.ImageURL,
		"openToExchange": l.OpenToExchange,
		"isSold":         false,
		"createdAt":      ServerTimestamp,
	})
	return row
}

func EncodeNewLostReport(l models.NewLostReport) Row {
	row, _ := Encode(LostItems, map[string]any{
		"name":          l.Name,
		"description":   l.Description,
		"locationFound": l.LocationFound,
		"imageUrl":      l.ImageURL,
		"dateFound":     ServerTimestamp,
	})
	return row
}

func EncodeNewComplaint(itemID, reporterID, reason string) Row {
	row, _ := Encode(Complaints, map[string]any{
		"itemId":     itemID,
		"reporterId": reporterID,
		"reason":     reason,
		"status":     string(models.ComplaintPending),
		"createdAt":  ServerTimestamp,
	})
	return row
}

func EncodeNewClaim(c models.NewClaim) Row {
	m := map[string]any{
		"lostItemId":    c.LostItemID,
		"claimantId":    c.ClaimantID,
		"proofImageUrl": c.ProofImageURL,
		"comments":      c.Comments,
		"status":        string(models.ClaimPending),
		"createdAt":     ServerTimestamp,
	}
	if c.BillImageURL != "" {
		m["billImageUrl"] = c.BillImageURL
	}
	row, _ := Encode(Claims, m)
	return row
}

func EncodeNewMessage(senderID, receiverID, itemID, content string) Row {
	m := map[string]any{
		"senderId":   senderID,
		"receiverId": receiverID,
		"content":    content,
		"isRead":     false,
		"createdAt":  ServerTimestamp,
	}
	if itemID != "" {
		m["itemId"] = itemID
	}
	row, _ := Encode(Messages, m)
	return row
}

func toAny(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}
