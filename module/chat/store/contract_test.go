package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"PPFeed/module/chat/model"
	"PPFeed/tools/errs"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConversationStore(t *testing.T, s ConversationStore) {
	ctx := context.Background()

	t.Run("direct is idempotent and order independent", func(t *testing.T) {
		c1, created, err := s.GetOrCreateDirect(ctx, "alice", "bob", t0)
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}
		c2, created, err := s.GetOrCreateDirect(ctx, "bob", "alice", t0.Add(time.Minute))
		if err != nil || created {
			t.Fatalf("second create: created=%v err=%v", created, err)
		}
		if c1.ID != c2.ID {
			t.Fatalf("ids differ: %s vs %s", c1.ID, c2.ID)
		}
		if len(c2.UnreadCount) != 2 || c2.UnreadCount["alice"] != 0 || c2.UnreadCount["bob"] != 0 {
			t.Fatalf("unread keys = %v", c2.UnreadCount)
		}
	})

	t.Run("direct concurrent creates converge", func(t *testing.T) {
		var wg sync.WaitGroup
		ids := make([]string, 16)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, b := "carol", "dave"
				if i%2 == 1 {
					a, b = b, a
				}
				c, _, err := s.GetOrCreateDirect(ctx, a, b, t0)
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				ids[i] = c.ID
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			if id != ids[0] {
				t.Fatalf("concurrent creates produced %v", ids)
			}
		}
	})

	t.Run("self conversation rejected", func(t *testing.T) {
		if _, _, err := s.GetOrCreateDirect(ctx, "alice", "alice", t0); !errors.Is(err, errs.ErrInvalidParticipant) {
			t.Fatalf("expected InvalidParticipant, got %v", err)
		}
		if _, _, err := s.GetOrCreateDirect(ctx, "a.b", "alice", t0); !errors.Is(err, errs.ErrInvalidParticipant) {
			t.Fatalf("expected InvalidParticipant for dotted id, got %v", err)
		}
	})

	t.Run("append increments everyone but sender", func(t *testing.T) {
		c, _, _ := s.GetOrCreateDirect(ctx, "erin", "frank", t0)
		for i := 0; i < 3; i++ {
			msg := &model.Message{ID: fmt.Sprintf("m-%s-%d", c.ID, i), SenderID: "erin", Content: model.Text("hi"), CreatedAt: t0.Add(time.Duration(i+1) * time.Second)}
			if _, err := s.AppendMessage(ctx, c.ID, msg); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		got, err := s.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.UnreadCount["frank"] != 3 || got.UnreadCount["erin"] != 0 {
			t.Fatalf("unread = %v", got.UnreadCount)
		}
		if got.LastMessageID != fmt.Sprintf("m-%s-2", c.ID) || !got.LastActivity.Equal(t0.Add(3*time.Second)) {
			t.Fatalf("last = %s @ %v", got.LastMessageID, got.LastActivity)
		}

		if err := s.MarkRead(ctx, c.ID, "frank"); err != nil {
			t.Fatalf("mark read: %v", err)
		}
		if err := s.MarkRead(ctx, c.ID, "frank"); err != nil {
			t.Fatalf("mark read twice: %v", err)
		}
		got, _ = s.Get(ctx, c.ID)
		if got.UnreadCount["frank"] != 0 {
			t.Fatalf("unread after read = %v", got.UnreadCount)
		}
		if err := s.MarkRead(ctx, c.ID, "mallory"); !errors.Is(err, errs.ErrForbidden) {
			t.Fatalf("outsider mark read: %v", err)
		}
		if err := s.MarkRead(ctx, "missing", "frank"); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("missing conversation: %v", err)
		}
	})

	t.Run("list sorted by last activity", func(t *testing.T) {
		older, _, _ := s.GetOrCreateDirect(ctx, "gina", "hank", t0)
		newer, _, _ := s.GetOrCreateDirect(ctx, "gina", "ivan", t0)
		_, _ = s.AppendMessage(ctx, older.ID, &model.Message{ID: "x1-" + older.ID, SenderID: "hank", Content: model.Text("a"), CreatedAt: t0.Add(time.Hour)})
		_, _ = s.AppendMessage(ctx, newer.ID, &model.Message{ID: "x2-" + newer.ID, SenderID: "ivan", Content: model.Text("b"), CreatedAt: t0.Add(2 * time.Hour)})
		list, err := s.ListForUser(ctx, "gina", Page{Page: 1, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
			t.Fatalf("order wrong: %v", ids(list))
		}
		page2, _ := s.ListForUser(ctx, "gina", Page{Page: 2, Limit: 1})
		if len(page2) != 1 || page2[0].ID != older.ID {
			t.Fatalf("page 2 = %v", ids(page2))
		}
	})

	t.Run("group participants", func(t *testing.T) {
		g, err := s.CreateGroup(ctx, "owner", []string{"m1", "m2", "m1"}, "  team ", t0)
		if err != nil {
			t.Fatalf("create group: %v", err)
		}
		if len(g.Participants) != 3 || g.Name != "team" {
			t.Fatalf("group = %+v", g)
		}
		g, err = s.AddParticipant(ctx, g.ID, "m3", t0)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if !g.HasParticipant("m3") || len(g.UnreadCount) != 4 {
			t.Fatalf("after add = %v / %v", g.Participants, g.UnreadCount)
		}
		if _, err := s.CreateGroup(ctx, "solo", nil, "x", t0); !errors.Is(err, errs.ErrInvalidParticipant) {
			t.Fatalf("empty group: %v", err)
		}
		d, _, _ := s.GetOrCreateDirect(ctx, "owner", "m1", t0)
		if _, err := s.AddParticipant(ctx, d.ID, "m9", t0); !errors.Is(err, errs.ErrInvalidParticipant) {
			t.Fatalf("add to direct: %v", err)
		}
	})

	t.Run("mute and archive", func(t *testing.T) {
		c, _, _ := s.GetOrCreateDirect(ctx, "jill", "kim", t0)
		if err := s.SetMuted(ctx, c.ID, "jill", true, t0); err != nil {
			t.Fatalf("mute: %v", err)
		}
		if err := s.SetMuted(ctx, c.ID, "jill", true, t0); err != nil {
			t.Fatalf("mute twice: %v", err)
		}
		got, _ := s.Get(ctx, c.ID)
		if len(got.Metadata.MutedBy) != 1 {
			t.Fatalf("muted = %v", got.Metadata.MutedBy)
		}
		_ = s.SetMuted(ctx, c.ID, "jill", false, t0)
		_ = s.SetArchived(ctx, c.ID, true, t0)
		got, _ = s.Get(ctx, c.ID)
		if len(got.Metadata.MutedBy) != 0 || !got.Metadata.IsArchived {
			t.Fatalf("meta = %+v", got.Metadata)
		}
	})
}

func testMessageStore(t *testing.T, s MessageStore) {
	ctx := context.Background()
	insert := func(t *testing.T, conv string, i int, c model.Content) *model.Message {
		t.Helper()
		m := &model.Message{
			ConversationID: conv,
			SenderID:       "alice",
			Content:        c,
			Status:         model.StatusSent,
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
			UpdatedAt:      t0.Add(time.Duration(i) * time.Second),
		}
		if err := s.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if m.ID == "" {
			t.Fatalf("insert did not assign an id")
		}
		return m
	}

	t.Run("status never regresses and readBy is unique", func(t *testing.T) {
		m := insert(t, "c-status", 1, model.Text("hi"))
		got, err := s.MarkRead(ctx, m.ID, "bob", t0)
		if err != nil || got.Status != model.StatusRead {
			t.Fatalf("read: %v %v", got, err)
		}
		got, _ = s.MarkRead(ctx, m.ID, "bob", t0.Add(time.Second))
		if len(got.ReadBy) != 1 {
			t.Fatalf("readBy = %v", got.ReadBy)
		}
		got, _ = s.MarkDelivered(ctx, m.ID, "bob", t0.Add(2*time.Second))
		if got.Status != model.StatusRead {
			t.Fatalf("status regressed to %s", got.Status)
		}
		if _, err := s.MarkRead(ctx, "nope", "bob", t0); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("missing: %v", err)
		}
	})

	t.Run("concurrent reads keep one receipt per user", func(t *testing.T) {
		m := insert(t, "c-conc", 1, model.Text("hi"))
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user := []string{"bob", "carol"}[i%2]
				_, _ = s.MarkRead(ctx, m.ID, user, t0)
			}(i)
		}
		wg.Wait()
		got, _ := s.Get(ctx, m.ID)
		if len(got.ReadBy) != 2 {
			t.Fatalf("readBy = %v", got.ReadBy)
		}
	})

	t.Run("one reaction per user", func(t *testing.T) {
		m := insert(t, "c-react", 1, model.Text("hi"))
		_, _ = s.SetReaction(ctx, m.ID, "bob", "👍", t0)
		_, _ = s.SetReaction(ctx, m.ID, "carol", "🎉", t0)
		got, err := s.SetReaction(ctx, m.ID, "bob", "❤️", t0.Add(time.Second))
		if err != nil {
			t.Fatalf("react: %v", err)
		}
		if len(got.Reactions) != 2 {
			t.Fatalf("reactions = %v", got.Reactions)
		}
		for _, r := range got.Reactions {
			if r.UserID == "bob" && r.Emoji != "❤️" {
				t.Fatalf("bob reaction = %q", r.Emoji)
			}
		}
		got, _ = s.RemoveReaction(ctx, m.ID, "bob", t0)
		if len(got.Reactions) != 1 || got.Reactions[0].UserID != "carol" {
			t.Fatalf("after remove = %v", got.Reactions)
		}
	})

	t.Run("recall sets expiry and is one-shot", func(t *testing.T) {
		m := insert(t, "c-recall", 1, model.Text("oops"))
		at := t0.Add(time.Hour)
		got, err := s.Recall(ctx, m.ID, "alice", at)
		if err != nil {
			t.Fatalf("recall: %v", err)
		}
		if !got.IsDeleted || got.ExpiresAt == nil || !got.ExpiresAt.Equal(at.Add(30*24*time.Hour)) {
			t.Fatalf("recalled = %+v", got)
		}
		if _, err := s.Recall(ctx, m.ID, "alice", at); !errors.Is(err, errs.ErrAlreadyRecalled) {
			t.Fatalf("second recall: %v", err)
		}
		if _, err := s.Edit(ctx, m.ID, "new", at); !errors.Is(err, errs.ErrImmutable) {
			t.Fatalf("edit after recall: %v", err)
		}
		if _, err := s.SetReaction(ctx, m.ID, "bob", "👍", at); !errors.Is(err, errs.ErrImmutable) {
			t.Fatalf("react after recall: %v", err)
		}
	})

	t.Run("edit keeps history", func(t *testing.T) {
		m := insert(t, "c-edit", 1, model.Text("v1"))
		_, _ = s.Edit(ctx, m.ID, "v2", t0.Add(time.Second))
		got, err := s.Edit(ctx, m.ID, "v3", t0.Add(2*time.Second))
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if v, _ := got.Content.TextValue(); v != "v3" || !got.IsEdited {
			t.Fatalf("content = %q edited=%v", v, got.IsEdited)
		}
		if len(got.EditHistory) != 2 || got.EditHistory[0].Content != "v1" || got.EditHistory[1].Content != "v2" {
			t.Fatalf("history = %v", got.EditHistory)
		}
		img := insert(t, "c-edit", 2, model.Image("https://cdn/x.png"))
		if _, err := s.Edit(ctx, img.ID, "caption", t0); !errors.Is(err, errs.ErrImmutable) {
			t.Fatalf("edit image: %v", err)
		}
	})

	t.Run("dollar-prefixed input is stored verbatim", func(t *testing.T) {
		m := insert(t, "c-dollar", 1, model.Text("plain"))
		got, err := s.Edit(ctx, m.ID, "$status", t0.Add(time.Second))
		if err != nil {
			t.Fatalf("edit: %v", err)
		}
		if v, _ := got.Content.TextValue(); v != "$status" {
			t.Fatalf("edited text = %q", v)
		}
		got, err = s.SetReaction(ctx, m.ID, "bob", "$sender_id", t0)
		if err != nil {
			t.Fatalf("react: %v", err)
		}
		if len(got.Reactions) != 1 || got.Reactions[0].Emoji != "$sender_id" || got.Reactions[0].UserID != "bob" {
			t.Fatalf("reactions = %v", got.Reactions)
		}
		got, err = s.SetReaction(ctx, m.ID, "$conversation_id", "👍", t0)
		if err != nil {
			t.Fatalf("react: %v", err)
		}
		if len(got.Reactions) != 2 || got.Reactions[1].UserID != "$conversation_id" {
			t.Fatalf("reactions = %v", got.Reactions)
		}
		got, err = s.MarkRead(ctx, m.ID, "$sender_id", t0)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(got.ReadBy) != 1 || got.ReadBy[0].UserID != "$sender_id" {
			t.Fatalf("readBy = %v", got.ReadBy)
		}
		// alice 是发送者，"$sender_id" 不能被解析成她
		got, _ = s.MarkRead(ctx, m.ID, "alice", t0)
		if len(got.ReadBy) != 2 {
			t.Fatalf("readBy after alice = %v", got.ReadBy)
		}
	})

	t.Run("list pages newest first, oldest-first inside", func(t *testing.T) {
		var all []*model.Message
		for i := 0; i < 5; i++ {
			all = append(all, insert(t, "c-list", i+1, model.Text(fmt.Sprint(i))))
		}
		p1, err := s.ListByConversation(ctx, "c-list", Page{Page: 1, Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(p1) != 2 || p1[0].ID != all[3].ID || p1[1].ID != all[4].ID {
			t.Fatalf("page1 = %v", msgIDs(p1))
		}
		p3, _ := s.ListByConversation(ctx, "c-list", Page{Page: 3, Limit: 2})
		if len(p3) != 1 || p3[0].ID != all[0].ID {
			t.Fatalf("page3 = %v", msgIDs(p3))
		}
		p9, _ := s.ListByConversation(ctx, "c-list", Page{Page: 9, Limit: 2})
		if len(p9) != 0 {
			t.Fatalf("page9 = %v", msgIDs(p9))
		}
	})

	t.Run("purge removes only expired", func(t *testing.T) {
		keep := insert(t, "c-purge", 1, model.Text("keep"))
		gone := insert(t, "c-purge", 2, model.Text("gone"))
		at := t0.Add(-31 * 24 * time.Hour)
		if _, err := s.Recall(ctx, gone.ID, "alice", at); err != nil {
			t.Fatalf("recall: %v", err)
		}
		n, err := s.PurgeExpired(ctx, t0)
		if err != nil || n < 1 {
			t.Fatalf("purge n=%d err=%v", n, err)
		}
		if _, err := s.Get(ctx, gone.ID); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expired message still present: %v", err)
		}
		if _, err := s.Get(ctx, keep.ID); err != nil {
			t.Fatalf("live message purged: %v", err)
		}
	})
}

func ids(cs []*model.Conversation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func msgIDs(ms []*model.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
