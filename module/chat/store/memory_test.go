package store

import "testing"

func TestMemoryConversations(t *testing.T) {
	testConversationStore(t, NewMemoryConversations())
}

func TestMemoryMessages(t *testing.T) {
	testMessageStore(t, NewMemoryMessages())
}

func TestPageNormalize(t *testing.T) {
	p := Page{Page: 0, Limit: 500}.Normalize(DefaultMessageLimit, MaxMessageLimit)
	if p.Page != 1 || p.Limit != MaxMessageLimit {
		t.Fatalf("page = %+v", p)
	}
	p = Page{Page: 3}.Normalize(DefaultConversationLimit, MaxConversationLimit)
	if p.Limit != DefaultConversationLimit || p.Skip() != 40 {
		t.Fatalf("page = %+v skip=%d", p, p.Skip())
	}
}
