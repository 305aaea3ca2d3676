package engine

import (
	"context"
	"testing"

	"github.com/artasov/winky-cli/pkg/chat"
	"github.com/artasov/winky-cli/pkg/werrors"
)

func TestLocalTreeBranchAndSiblings(t *testing.T) {
	tree := newLocalTree()
	chatID := newLocalChatID()
	if !IsLocalChat(chatID) {
		t.Fatalf("chat id %q missing local prefix", chatID)
	}

	u1 := tree.append(chatID, "", chat.RoleUser, "first")
	a1 := tree.append(chatID, u1.ID.Value, chat.RoleAssistant, "reply one")
	a2 := tree.append(chatID, u1.ID.Value, chat.RoleAssistant, "reply two")

	page, err := tree.FetchBranch(context.Background(), chatID, chat.BranchQuery{})
	if err != nil {
		t.Fatalf("FetchBranch: %v", err)
	}
	if page.HasMore || page.NextCursor != "" {
		t.Errorf("in-memory chat paginated: %+v", page)
	}
	if page.LeafMessageID != a2.ID.Value {
		t.Errorf("default leaf = %q, want newest write %q", page.LeafMessageID, a2.ID.Value)
	}
	if len(page.Items) != 2 || page.Items[0].Content != "first" || page.Items[1].Content != "reply two" {
		t.Fatalf("branch = %+v", page.Items)
	}
	if got := page.Items[1]; got.SiblingCount != 2 || got.SiblingIndex != 1 {
		t.Errorf("leaf siblings = %d/%d, want index 1 of 2", got.SiblingIndex, got.SiblingCount)
	}
	if got := page.Items[0]; got.SiblingCount != 1 || got.SiblingIndex != 0 {
		t.Errorf("root siblings = %d/%d", got.SiblingIndex, got.SiblingCount)
	}

	kids, err := tree.FetchChildren(context.Background(), u1.ID.Value)
	if err != nil {
		t.Fatalf("FetchChildren: %v", err)
	}
	if kids.Total != 2 || len(kids.Items) != 2 {
		t.Fatalf("children = %+v", kids)
	}
	if kids.Items[0].ID.Value != a1.ID.Value || kids.Items[1].ID.Value != a2.ID.Value {
		t.Errorf("children out of creation order: %+v", kids.Items)
	}

	// Pinning the leaf selects the other variant.
	page, err = tree.FetchBranch(context.Background(), chatID, chat.BranchQuery{LeafID: a1.ID.Value})
	if err != nil {
		t.Fatalf("FetchBranch pinned: %v", err)
	}
	if len(page.Items) != 2 || page.Items[1].Content != "reply one" {
		t.Errorf("pinned branch = %+v", page.Items)
	}
}

func TestLocalTreeBranchToAndFrom(t *testing.T) {
	tree := newLocalTree()
	chatID := newLocalChatID()
	u1 := tree.append(chatID, "", chat.RoleUser, "u1")
	a1 := tree.append(chatID, u1.ID.Value, chat.RoleAssistant, "a1")
	u2 := tree.append(chatID, a1.ID.Value, chat.RoleUser, "u2")
	a2 := tree.append(chatID, u2.ID.Value, chat.RoleAssistant, "a2")
	a1b := tree.append(chatID, u1.ID.Value, chat.RoleAssistant, "a1b")
	tree.append(chatID, a1b.ID.Value, chat.RoleUser, "u2b")

	chain, err := tree.FetchBranchTo(context.Background(), a2.ID.Value)
	if err != nil {
		t.Fatalf("FetchBranchTo: %v", err)
	}
	want := []string{"u1", "a1", "u2", "a2"}
	if len(chain) != len(want) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(want))
	}
	for i, content := range want {
		if chain[i].Content != content {
			t.Errorf("chain[%d] = %q, want %q", i, chain[i].Content, content)
		}
	}

	// Downstream follows the newest child at each level.
	down, err := tree.FetchBranchFrom(context.Background(), u1.ID.Value)
	if err != nil {
		t.Fatalf("FetchBranchFrom: %v", err)
	}
	wantDown := []string{"u1", "a1b", "u2b"}
	if len(down) != len(wantDown) {
		t.Fatalf("downstream length = %d, want %d", len(down), len(wantDown))
	}
	for i, content := range wantDown {
		if down[i].Content != content {
			t.Errorf("down[%d] = %q, want %q", i, down[i].Content, content)
		}
	}

	if down[1].SiblingCount != 2 || down[1].SiblingIndex != 1 {
		t.Errorf("a1b siblings = %d/%d, want index 1 of 2", down[1].SiblingIndex, down[1].SiblingCount)
	}
}

func TestLocalTreeDeleteChat(t *testing.T) {
	tree := newLocalTree()
	first := newLocalChatID()
	second := newLocalChatID()
	u1 := tree.append(first, "", chat.RoleUser, "doomed")
	tree.append(first, u1.ID.Value, chat.RoleAssistant, "doomed reply")
	u2 := tree.append(second, "", chat.RoleUser, "kept")

	tree.deleteChat(first)
	tree.deleteChat(first)

	if _, err := tree.FetchBranch(context.Background(), first, chat.BranchQuery{}); !werrors.IsCode(err, werrors.ErrCodeChatFetch) {
		t.Errorf("deleted chat err = %v, want CHAT_FETCH", err)
	}
	if _, err := tree.FetchChildren(context.Background(), u1.ID.Value); !werrors.IsCode(err, werrors.ErrCodeSiblingFetch) {
		t.Errorf("deleted message children err = %v, want SIBLING_FETCH", err)
	}

	page, err := tree.FetchBranch(context.Background(), second, chat.BranchQuery{})
	if err != nil {
		t.Fatalf("surviving chat: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID.Value != u2.ID.Value {
		t.Errorf("surviving branch = %+v", page.Items)
	}
}

func TestLocalTreeLeafFromAnotherChatRejected(t *testing.T) {
	tree := newLocalTree()
	first := newLocalChatID()
	second := newLocalChatID()
	tree.append(first, "", chat.RoleUser, "mine")
	other := tree.append(second, "", chat.RoleUser, "theirs")

	_, err := tree.FetchBranch(context.Background(), first, chat.BranchQuery{LeafID: other.ID.Value})
	if !werrors.IsCode(err, werrors.ErrCodeChatFetch) {
		t.Errorf("cross-chat leaf err = %v, want CHAT_FETCH", err)
	}
}
