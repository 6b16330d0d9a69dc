package models

import (
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleAdmin   Role = "ADMIN"
)

type Category string

const (
	CategoryTextbooks        Category = "Textbooks"
	CategoryElectronics      Category = "Electronics"
	CategoryNotes            Category = "Notes"
	CategoryHostelEssentials Category = "Hostel Essentials"
	CategoryOther            Category = "Other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTextbooks, CategoryElectronics, CategoryNotes, CategoryHostelEssentials, CategoryOther:
		return true
	}
	return false
}

type Condition string

const (
	ConditionNew     Condition = "New"
	ConditionLikeNew Condition = "Like New"
	ConditionGood    Condition = "Good"
	ConditionUsed    Condition = "Used"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionUsed:
		return true
	}
	return false
}

type ComplaintStatus string

const (
	ComplaintPending  ComplaintStatus = "pending"
	ComplaintResolved ComplaintStatus = "resolved"
)

// 管理員處理檢舉的方式
type ComplaintAction string

const (
	ActionDismiss    ComplaintAction = "dismiss"
	ActionDeleteItem ComplaintAction = "deleteItem"
)

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

type Account struct {
	ID                string   `json:"id"`
	FullName          string   `json:"fullName"`
	Email             string   `json:"email"`
	RegNo             string   `json:"regNo"`
	Branch            string   `json:"branch"`
	Year              int      `json:"year"`
	HostelBlock       string   `json:"hostelBlock"`
	Role              Role     `json:"role"`
	ProfilePictureURL string   `json:"profilePictureUrl"`
	Rating            float64  `json:"rating"`       // 一位小數，ratingsCount > 0 才有意義
	RatingsCount      int      `json:"ratingsCount"` // >= 0
	RatingTotal       float64  `json:"ratingTotal"`  // 所有評分加總，避免平均值累積誤差
	IsSuspended       bool     `json:"isSuspended"`
	Wishlist          []string `json:"wishlist"` // listing id 集合，順序無意義
}

func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Account) InWishlist(listingID string) bool {
	for _, id := range a.Wishlist {
		if id == listingID {
			return true
		}
	}
	return false
}

// DefaultAvatarURL 用名字的第一個字產生頭像
func DefaultAvatarURL(name string) string {
	initial := "U"
	if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name)); r != utf8.RuneError {
		initial = string(unicode.ToUpper(r))
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(initial) + "&background=1a1a1a&color=ffffff&size=200&bold=true"
}

// AccountPatch 只有非 nil 的欄位會被送出
type AccountPatch struct {
	FullName          *string `json:"fullName,omitempty"`
	RegNo             *string `json:"regNo,omitempty"`
	Branch            *string `json:"branch,omitempty"`
	Year              *int    `json:"year,omitempty"`
	HostelBlock       *string `json:"hostelBlock,omitempty"`
	ProfilePictureURL *string `json:"profilePictureUrl,omitempty"`
}

type Listing struct {
	ID             string    `json:"id"`
	SellerID       string    `json:"sellerId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Category       Category  `json:"category"`
	Price          float64   `json:"price"`
	Location       string    `json:"location"`
	Condition      Condition `json:"condition"`
	ImageURL       string    `json:"imageUrl"`
	OpenToExchange bool      `json:"openToExchange"`
	IsSold         bool      `json:"isSold"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewListing = Listing 去掉 id / createdAt / isSold
type NewListing struct {
	SellerID       string    `json:"sellerId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Category       Category  `json:"category"`
	Price          float64   `json:"price"`
	Location       string    `json:"location"`
	Condition      Condition `json:"condition"`
	ImageURL       string    `json:"imageUrl"`
	OpenToExchange bool      `json:"openToExchange"`
}

type LostReport struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	LocationFound string    `json:"locationFound"`
	ImageURL      string    `json:"imageUrl"`
	ClaimedBy     string    `json:"claimedBy,omitempty"`
	DateFound     time.Time `json:"dateFound"`
}

type NewLostReport struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	LocationFound string `json:"locationFound"`
	ImageURL      string `json:"imageUrl"`
}

type Complaint struct {
	ID         string          `json:"id"`
	ItemID     string          `json:"itemId"`
	ReporterID string          `json:"reporterId"`
	Reason     string          `json:"reason"`
	Status     ComplaintStatus `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Claim struct {
	ID            string      `json:"id"`
	LostItemID    string      `json:"lostItemId"`
	ClaimantID    string      `json:"claimantId"`
	ProofImageURL string      `json:"proofImageUrl"`
	BillImageURL  string      `json:"billImageUrl,omitempty"`
	Comments      string      `json:"comments"`
	Status        ClaimStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type NewClaim struct {
	LostItemID    string `json:"lostItemId"`
	ClaimantID    string `json:"claimantId"`
	ProofImageURL string `json:"proofImageUrl"`
	BillImageURL  string `json:"billImageUrl,omitempty"`
	Comments      string `json:"comments"`
}

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	ItemID     string    `json:"itemId,omitempty"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Conversation 由 messages 推導，不會寫回資料庫
type Conversation struct {
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	UserAvatar      string    `json:"userAvatar"`
	ItemID          string    `json:"itemId,omitempty"`
	ItemTitle       string    `json:"itemTitle,omitempty"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}
