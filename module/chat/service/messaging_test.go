package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPFeed/module/chat/model"
	"PPFeed/module/chat/store"
	"PPFeed/service/chat"
	"PPFeed/tools/errs"
)

type emitted struct {
	rooms   []string
	t       chat.EventType
	payload any
}

type recorder struct {
	mu  sync.Mutex
	got []emitted
}

func (r *recorder) BroadcastToMany(rooms []string, t chat.EventType, payload any, _ ...chat.BroadcastOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, emitted{rooms: rooms, t: t, payload: payload})
}

func (r *recorder) of(t chat.EventType) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.got {
		if e.t == t {
			out = append(out, e)
		}
	}
	return out
}

type sinkRecorder struct{ got []Lifecycle }

func (s *sinkRecorder) Emit(_ context.Context, ev Lifecycle) { s.got = append(s.got, ev) }

type fixture struct {
	svc   *Messaging
	convs *store.MemoryConversations
	msgs  *store.MemoryMessages
	rec   *recorder
	sink  *sinkRecorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		convs: store.NewMemoryConversations(),
		msgs:  store.NewMemoryMessages(),
		rec:   &recorder{},
		sink:  &sinkRecorder{},
		now:   time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewMessaging(f.convs, f.msgs, f.rec, Options{Clock: func() time.Time { return f.now }})
	f.svc.SetSink(f.sink)
	return f
}

func (f *fixture) direct(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	conv, err := f.svc.GetOrCreateDirect(context.Background(), a, b)
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestSendUpdatesUnreadAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	msg, err := f.svc.Send(ctx, conv.ID, "alice", model.Text("hi"), "")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != model.StatusSent || msg.ID == "" {
		t.Fatalf("msg = %+v", msg)
	}
	got, _ := f.convs.Get(ctx, conv.ID)
	if got.UnreadCount["bob"] != 1 || got.UnreadCount["alice"] != 0 || got.LastMessageID != msg.ID {
		t.Fatalf("conversation = %+v", got)
	}

	news := f.rec.of(chat.EvMessageNew)
	if len(news) != 1 || news[0].rooms[0] != chat.ConversationRoom(conv.ID) {
		t.Fatalf("message:new = %+v", news)
	}
	ups := f.rec.of(chat.EvConversationUpdated)
	if len(ups) != 1 || ups[0].rooms[0] != chat.UserRoom("bob") {
		t.Fatalf("conversation:updated = %+v", ups)
	}
	if p := ups[0].payload.(ConversationUpdated); p.UnreadCount != 1 {
		t.Fatalf("unread in payload = %d", p.UnreadCount)
	}
	if len(f.sink.got) != 1 || f.sink.got[0].Kind != LifecycleSent {
		t.Fatalf("sink = %+v", f.sink.got)
	}
}

func TestSendRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	other := f.direct(t, "alice", "carol")
	otherMsg, _ := f.svc.Send(ctx, other.ID, "alice", model.Text("x"), "")

	cases := []struct {
		name    string
		convID  string
		sender  string
		content model.Content
		replyTo string
		want    error
	}{
		{"outsider", conv.ID, "mallory", model.Text("hi"), "", errs.ErrForbidden},
		{"missing conversation", "nope", "alice", model.Text("hi"), "", errs.ErrNotFound},
		{"empty content", conv.ID, "alice", model.Content{Type: model.ContentText}, "", errs.ErrInvalidArgument},
		{"reply to unknown", conv.ID, "alice", model.Text("hi"), "ghost", errs.ErrNotFound},
		{"reply across conversations", conv.ID, "alice", model.Text("hi"), otherMsg.ID, errs.ErrInvalidArgument},
	}
	for _, c := range cases {
		if _, err := f.svc.Send(ctx, c.convID, c.sender, c.content, c.replyTo); !errors.Is(err, c.want) {
			t.Errorf("%s: err = %v", c.name, err)
		}
	}
	if n := len(f.rec.of(chat.EvMessageNew)); n != 1 {
		t.Fatalf("rejected sends must not broadcast, got %d message:new", n)
	}
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t)
	f.svc = NewMessaging(f.convs, f.msgs, f.rec, Options{MessagesPerMinute: 2, Clock: func() time.Time { return f.now }})
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Send(ctx, conv.ID, "alice", model.Text("x"), ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Send(ctx, conv.ID, "alice", model.Text("x"), ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
	f.now = f.now.Add(time.Minute)
	if _, err := f.svc.Send(ctx, conv.ID, "alice", model.Text("x"), ""); err != nil {
		t.Fatalf("limiter should refill: %v", err)
	}
}

func TestReceiptsNeverRegress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	msg, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("hi"), "")

	if m, err := f.svc.MarkRead(ctx, msg.ID, "bob"); err != nil || m.Status != model.StatusRead {
		t.Fatalf("read: %+v %v", m, err)
	}
	if got, _ := f.convs.Get(ctx, conv.ID); got.UnreadCount["bob"] != 0 {
		t.Fatalf("unread after read = %d", got.UnreadCount["bob"])
	}
	if m, err := f.svc.MarkDelivered(ctx, msg.ID, "bob"); err != nil || m.Status != model.StatusRead {
		t.Fatalf("delivered after read regressed: %+v %v", m, err)
	}
	m, _ := f.svc.MarkRead(ctx, msg.ID, "bob")
	if len(m.ReadBy) != 1 {
		t.Fatalf("readBy = %+v", m.ReadBy)
	}
	// 后到的送达回执和重复已读都不再广播
	status := f.rec.of(chat.EvChatMessageStatus)
	if len(status) != 1 {
		t.Fatalf("status events = %d", len(status))
	}
	if p := status[0].payload.(MessageStatusChanged); p.Status != model.StatusRead || p.UserID != "bob" {
		t.Fatalf("status payload = %+v", p)
	}
	rooms := status[0].rooms
	if len(rooms) != 2 || rooms[0] != chat.ConversationRoom(conv.ID) || rooms[1] != chat.UserRoom("alice") {
		t.Fatalf("status rooms = %v", rooms)
	}

	// 发送者自己标记不改变状态
	conv2 := f.direct(t, "alice", "dave")
	own, _ := f.svc.Send(ctx, conv2.ID, "alice", model.Text("mine"), "")
	if m, _ := f.svc.MarkRead(ctx, own.ID, "alice"); m.Status != model.StatusSent {
		t.Fatalf("sender read changed status: %s", m.Status)
	}
	if _, err := f.svc.MarkRead(ctx, own.ID, "mallory"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("outsider read err = %v", err)
	}
}

func TestStatusEventCarriesStoredStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.svc.CreateGroup(ctx, "alice", []string{"bob", "carol"}, "team")
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("hi"), "")

	_, _ = f.svc.MarkDelivered(ctx, msg.ID, "bob")
	_, _ = f.svc.MarkDelivered(ctx, msg.ID, "bob")
	_, _ = f.svc.MarkRead(ctx, msg.ID, "bob")
	// carol 的送达不会把已读的消息降级，事件里也是 read
	_, _ = f.svc.MarkDelivered(ctx, msg.ID, "carol")

	status := f.rec.of(chat.EvChatMessageStatus)
	want := []struct {
		user   string
		status model.MessageStatus
	}{
		{"bob", model.StatusDelivered},
		{"bob", model.StatusRead},
		{"carol", model.StatusRead},
	}
	if len(status) != len(want) {
		t.Fatalf("status events = %d, want %d", len(status), len(want))
	}
	for i, w := range want {
		p := status[i].payload.(MessageStatusChanged)
		if p.UserID != w.user || p.Status != w.status {
			t.Fatalf("event %d = %+v, want %s/%s", i, p, w.user, w.status)
		}
	}
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	m1, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("1"), "")
	m2, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("2"), "")
	mine, _ := f.svc.Send(ctx, conv.ID, "bob", model.Text("3"), "")

	for i := 0; i < 2; i++ {
		marked, err := f.svc.MarkConversationRead(ctx, conv.ID, "bob", []string{m1.ID, m2.ID, mine.ID, "ghost"})
		if err != nil {
			t.Fatal(err)
		}
		if len(marked) != 2 {
			t.Fatalf("marked = %v", marked)
		}
		got, _ := f.convs.Get(ctx, conv.ID)
		if got.UnreadCount["bob"] != 0 || got.UnreadCount["alice"] != 1 {
			t.Fatalf("unread = %v", got.UnreadCount)
		}
	}
	reads := f.rec.of(chat.EvMessagesRead)
	if len(reads) != 2 || reads[0].rooms[0] != chat.UserRoom("alice") {
		t.Fatalf("messages:read = %+v", reads)
	}
}

func TestReactReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	msg, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("hi"), "")

	f.svc.React(ctx, msg.ID, "bob", "👍")
	m, err := f.svc.React(ctx, msg.ID, "bob", "❤️")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Reactions) != 1 || m.Reactions[0].Emoji != "❤️" {
		t.Fatalf("reactions = %+v", m.Reactions)
	}
	m, _ = f.svc.Unreact(ctx, msg.ID, "bob")
	if len(m.Reactions) != 0 {
		t.Fatalf("reactions after unreact = %+v", m.Reactions)
	}
	if _, err := f.svc.React(ctx, msg.ID, "bob", " "); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("blank emoji err = %v", err)
	}
	if n := len(f.rec.of(chat.EvMessageReaction)); n != 3 {
		t.Fatalf("reaction events = %d", n)
	}
}

func TestRecall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	msg, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("oops"), "")

	if _, err := f.svc.Recall(ctx, msg.ID, "bob"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("non-owner recall err = %v", err)
	}
	f.now = f.now.Add(time.Hour)
	m, err := f.svc.Recall(ctx, msg.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsDeleted || m.ExpiresAt == nil || !m.ExpiresAt.Equal(f.now.Add(30*24*time.Hour)) {
		t.Fatalf("recalled = %+v", m)
	}
	if text, _ := m.Content.TextValue(); text != model.RecalledText {
		t.Fatalf("recalled content = %q", text)
	}
	if _, err := f.svc.Recall(ctx, msg.ID, "alice"); !errors.Is(err, errs.ErrAlreadyRecalled) {
		t.Fatalf("second recall err = %v", err)
	}
	if len(f.rec.of(chat.EvMessageDeleted)) != 1 {
		t.Fatalf("message:deleted not broadcast once")
	}

	list, _ := f.svc.ListMessages(ctx, conv.ID, "bob", store.Page{})
	if len(list) != 1 {
		t.Fatalf("list = %d", len(list))
	}
	if text, _ := list[0].Content.TextValue(); text != model.RecalledText {
		t.Fatalf("listed recalled content = %q", text)
	}

	f.now = f.now.Add(30*24*time.Hour - time.Second)
	if n, _ := f.svc.PurgeExpired(ctx); n != 0 {
		t.Fatalf("purged too early: %d", n)
	}
	f.now = f.now.Add(time.Second)
	if n, _ := f.svc.PurgeExpired(ctx); n != 1 {
		t.Fatalf("purged = %d", n)
	}
	if _, err := f.msgs.Get(ctx, msg.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("purged message still readable: %v", err)
	}
}

func TestEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	msg, _ := f.svc.Send(ctx, conv.ID, "alice", model.Text("v1"), "")
	img, _ := f.svc.Send(ctx, conv.ID, "alice", model.Image("https://cdn/x.png"), "")

	if _, err := f.svc.Edit(ctx, msg.ID, "bob", "hack"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("non-owner edit err = %v", err)
	}
	m, err := f.svc.Edit(ctx, msg.ID, "alice", "v2")
	if err != nil {
		t.Fatal(err)
	}
	if text, _ := m.Content.TextValue(); text != "v2" || !m.IsEdited || len(m.EditHistory) != 1 || m.EditHistory[0].Content != "v1" {
		t.Fatalf("edited = %+v", m)
	}
	if _, err := f.svc.Edit(ctx, img.ID, "alice", "caption"); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("image edit err = %v", err)
	}
	f.svc.Recall(ctx, msg.ID, "alice")
	if _, err := f.svc.Edit(ctx, msg.ID, "alice", "v3"); !errors.Is(err, errs.ErrImmutable) {
		t.Fatalf("recalled edit err = %v", err)
	}
}

func TestCanJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	if err := f.svc.CanJoin(ctx, conv.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.CanJoin(ctx, conv.ID, "mallory"); !errors.Is(err, errs.ErrInvalidParticipant) {
		t.Fatalf("err = %v", err)
	}
	if err := f.svc.CanJoin(ctx, "nope", "bob"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGroupLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.CreateGroup(ctx, "alice", []string{"bob"}, " "); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("blank name err = %v", err)
	}
	g, err := f.svc.CreateGroup(ctx, "alice", []string{"bob", "carol"}, "trip")
	if err != nil {
		t.Fatal(err)
	}
	if len(f.rec.of(chat.EvConversationUpdated)) != 3 {
		t.Fatalf("each member should be told about the new group")
	}
	if _, err := f.svc.AddParticipant(ctx, g.ID, "mallory", "eve"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("outsider add err = %v", err)
	}
	g, err = f.svc.AddParticipant(ctx, g.ID, "alice", "dave")
	if err != nil || !g.HasParticipant("dave") {
		t.Fatalf("add: %+v %v", g, err)
	}
	if err := f.svc.SetMuted(ctx, g.ID, "dave", true); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetArchived(ctx, g.ID, "eve", true); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("archive err = %v", err)
	}
	list, _ := f.svc.ListConversations(ctx, "dave", store.Page{})
	if len(list) != 1 || list[0].ID != g.ID {
		t.Fatalf("list = %+v", list)
	}
}
