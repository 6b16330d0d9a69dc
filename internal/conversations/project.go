package conversations

import (
	"sort"

	"local.dev/campus-market/internal/models"
)

// General 是沒有綁定 listing 的對話
const General = "general"

type key struct {
	counterpart string
	item        string
}

type bucket struct {
	last   models.Message
	unread int
}

// later 以 createdAt 比較，相同時間取 id 較大者
func later(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Project groups the actor's messages by (counterpart, listing) and returns one
// entry per group, newest first. Groups whose counterpart account is not in
// accounts are left out until it arrives.
func Project(actorID string, messages []models.Message, accounts []models.Account, listings []models.Listing) []models.Conversation {
	if actorID == "" {
		return nil
	}
	buckets := map[key]*bucket{}
	for _, m := range messages {
		var counterpart string
		switch actorID {
		case m.SenderID:
			counterpart = m.ReceiverID
		case m.ReceiverID:
			counterpart = m.SenderID
		default:
			continue
		}
		if counterpart == actorID || counterpart == "" {
			continue
		}
		k := key{counterpart: counterpart, item: m.ItemID}
		if k.item == "" {
			k.item = General
		}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{last: m}
			buckets[k] = b
		} else if later(m, b.last) {
			b.last = m
		}
		if m.ReceiverID == actorID && !m.IsRead {
			b.unread++
		}
	}

	people := make(map[string]models.Account, len(accounts))
	for _, a := range accounts {
		people[a.ID] = a
	}
	titles := make(map[string]string, len(listings))
	for _, l := range listings {
		titles[l.ID] = l.Title
	}

	out := make([]models.Conversation, 0, len(buckets))
	for k, b := range buckets {
		who, ok := people[k.counterpart]
		if !ok {
			continue
		}
		c := models.Conversation{
			UserID:          who.ID,
			UserName:        who.FullName,
			UserAvatar:      who.ProfilePictureURL,
			LastMessage:     b.last.Content,
			LastMessageTime: b.last.CreatedAt,
			UnreadCount:     b.unread,
		}
		if c.UserAvatar == "" {
			c.UserAvatar = models.DefaultAvatarURL(who.FullName)
		}
		if k.item != General {
			c.ItemID = k.item
			c.ItemTitle = titles[k.item]
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastMessageTime.Equal(b.LastMessageTime) {
			return a.LastMessageTime.After(b.LastMessageTime)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.ItemID < b.ItemID
	})
	return out
}

// Thread 回傳兩人在某個對話（itemID 空字串 = 一般對話）中的訊息，舊到新
func Thread(actorID, otherID, itemID string, messages []models.Message) []models.Message {
	out := []models.Message{}
	for _, m := range messages {
		if m.ItemID != itemID {
			continue
		}
		if (m.SenderID == actorID && m.ReceiverID == otherID) || (m.SenderID == otherID && m.ReceiverID == actorID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return later(out[j], out[i]) })
	return out
}

func TotalUnread(convs []models.Conversation) int {
	n := 0
	for _, c := range convs {
		n += c.UnreadCount
	}
	return n
}
