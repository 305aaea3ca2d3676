package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artasov/winky-cli/pkg/events"
	"github.com/artasov/winky-cli/pkg/logging"
	"github.com/artasov/winky-cli/pkg/werrors"
)

// Direction selects which sibling to switch to.
type Direction int

const (
	DirectionPrev Direction = -1
	DirectionNext Direction = 1
)

const defaultPageSize = 20

// ErrBusy is returned when a send or edit is attempted while a generation
// is already in flight on this navigator.
var ErrBusy = werrors.New(werrors.ErrCodeInvalidInput, "a generation is already in flight")

// NavigatorOptions carries the optional collaborators of a Navigator.
type NavigatorOptions struct {
	Leaves   LeafStore
	Hub      *events.Hub
	Logger   *logging.Logger
	PageSize int
}

// Navigator owns the displayed branch of one chat panel. Panels never share
// a navigator. All methods are safe for concurrent use; backend calls run
// outside the state lock, and every asynchronous result revalidates against
// the current branch before applying.
type Navigator struct {
	src      BranchSource
	gen      Generator
	leaves   LeafStore
	hub      *events.Hub
	logger   *logging.Logger
	pageSize int

	mu         sync.Mutex
	chatID     string
	branch     Branch
	loaded     bool
	nextCursor string
	hasMore    bool

	// generation counts suffix-affecting branch replacements (load, switch
	// truncate/splice, edit reconcile, rollback). In-flight operations
	// capture it and discard their result when it moved on. Pagination
	// prepends do not bump it.
	generation uint64

	loading    bool
	paginating bool
	sending    bool
	switching  map[string]struct{}

	siblings  *siblingCache
	draft     strings.Builder
	cancelGen context.CancelFunc
}

// NewNavigator builds a navigator for one chat. chatID may be empty for a
// chat that does not exist yet; the id reported by the first completed
// generation is adopted.
func NewNavigator(chatID string, src BranchSource, gen Generator, opts NavigatorOptions) *Navigator {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Navigator{
		src:       src,
		gen:       gen,
		leaves:    opts.Leaves,
		hub:       opts.Hub,
		logger:    opts.Logger,
		pageSize:  opts.PageSize,
		chatID:    chatID,
		switching: make(map[string]struct{}),
		siblings:  newSiblingCache(src),
	}
}

// ChatID returns the chat this navigator is bound to; empty until a first
// generation creates the chat.
func (n *Navigator) ChatID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chatID
}

// Branch returns a copy of the displayed branch.
func (n *Navigator) Branch() Branch {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.branch.Clone()
}

// HasMore reports whether older messages can still be paginated in.
func (n *Navigator) HasMore() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hasMore
}

// Generating reports whether a send or edit is in flight.
func (n *Navigator) Generating() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sending
}

// Draft returns the working buffer of the in-flight generation.
func (n *Navigator) Draft() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.draft.String()
}

// SiblingInfo returns the cached sibling group for a message's parent.
func (n *Navigator) SiblingInfo(id MessageID) (SiblingGroup, bool) {
	n.mu.Lock()
	idx := n.branch.IndexOf(id)
	if idx < 0 {
		n.mu.Unlock()
		return SiblingGroup{}, false
	}
	parent := n.branch[idx].ParentID
	n.mu.Unlock()
	return n.siblings.cached(parent)
}

// Load fetches the branch for the chat's remembered leaf and replaces the
// displayed branch wholesale. On a navigator that has already loaded, a
// failed refresh keeps the previous branch.
func (n *Navigator) Load(ctx context.Context) error {
	n.mu.Lock()
	if n.loading || n.chatID == "" {
		n.mu.Unlock()
		return nil
	}
	n.loading = true
	chatID := n.chatID
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.loading = false
		n.mu.Unlock()
	}()

	var leaf string
	if n.leaves != nil {
		// A missing or unreadable remembered leaf falls back to the
		// server-side default branch.
		leaf, _ = n.leaves.Leaf(chatID)
	}

	page, err := n.src.FetchBranch(ctx, chatID, BranchQuery{LeafID: leaf, Limit: n.pageSize})
	if err != nil {
		werr := werrors.Wrap(err, werrors.ErrCodeBranchFetch, "branch load failed").
			WithContext("chat_id", chatID).
			WithRetryable(true).
			WithUserMessage("Failed to load the conversation.")
		n.logger.Error(logging.CategoryChat, "branch_load_failed", werr.Error(), nil)
		n.notifyBlocking(werr.Notice())
		return werr
	}

	n.mu.Lock()
	n.branch = Branch(page.Items)
	n.loaded = true
	n.nextCursor = page.NextCursor
	n.hasMore = page.HasMore
	n.generation++
	n.mu.Unlock()

	if page.LeafMessageID != "" {
		n.persistLeaf(chatID, page.LeafMessageID)
	}
	n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
		"size": len(page.Items),
	}})
	return nil
}

// LoadOlder pages older messages into the top of the branch. Calls while a
// pagination or load is already running, or when no cursor remains, are
// ignored.
func (n *Navigator) LoadOlder(ctx context.Context) error {
	n.mu.Lock()
	if n.paginating || n.loading || !n.hasMore || n.nextCursor == "" {
		n.mu.Unlock()
		return nil
	}
	n.paginating = true
	chatID := n.chatID
	cursor := n.nextCursor
	gen := n.generation
	var leaf string
	for i := len(n.branch) - 1; i >= 0; i-- {
		if !n.branch[i].ID.Pending {
			leaf = n.branch[i].ID.Value
			break
		}
	}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.paginating = false
		n.mu.Unlock()
	}()

	page, err := n.src.FetchBranch(ctx, chatID, BranchQuery{LeafID: leaf, Cursor: cursor, Limit: n.pageSize})
	if err != nil {
		werr := werrors.Wrap(err, werrors.ErrCodeBranchFetch, "branch pagination failed").
			WithContext("chat_id", chatID).
			WithRetryable(true).
			WithUserMessage("Failed to load older messages.")
		n.logger.Warn(logging.CategoryChat, "branch_page_failed", werr.Error(), nil)
		n.notifySoft(werr.Notice())
		return werr
	}

	n.mu.Lock()
	if n.generation != gen {
		// The branch was replaced while we paged; the window this page
		// belongs to no longer exists.
		n.mu.Unlock()
		return nil
	}
	n.branch = append(Branch(page.Items).Clone(), n.branch...)
	n.nextCursor = page.NextCursor
	n.hasMore = page.HasMore
	n.mu.Unlock()

	n.publish(events.Event{Type: events.EventBranchPaginated, ChatID: chatID, Data: map[string]any{
		"added": len(page.Items),
	}})
	return nil
}

// SwitchSibling swaps the message at id for its previous or next sibling and
// splices in that sibling's downstream branch. Validation misses (unknown
// id, root message, pending message, no sibling in that direction) are
// silent no-ops. A switch already in flight for the same message id makes
// later calls for that id no-ops; switches for other ids proceed.
func (n *Navigator) SwitchSibling(ctx context.Context, id MessageID, dir Direction) error {
	n.mu.Lock()
	idx := n.branch.IndexOf(id)
	if idx < 0 || id.Pending || n.branch[idx].IsRoot() {
		n.mu.Unlock()
		return nil
	}
	if _, inFlight := n.switching[id.Value]; inFlight {
		n.mu.Unlock()
		return nil
	}
	n.switching[id.Value] = struct{}{}
	parent := n.branch[idx].ParentID
	chatID := n.chatID
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.switching, id.Value)
		n.mu.Unlock()
	}()

	group, err := n.siblings.resolve(ctx, parent)
	if err != nil {
		werr := werrors.Wrap(err, werrors.ErrCodeSiblingFetch, "children fetch failed").
			WithContext("parent_id", parent.Value).
			WithRetryable(true).
			WithUserMessage("Couldn't load message variants.")
		n.logger.Warn(logging.CategoryChat, "sibling_fetch_failed", werr.Error(), nil)
		n.notifySoft(werr.Notice())
		return werr
	}

	cur := group.IndexOf(id)
	target := cur + int(dir)
	if cur < 0 || target < 0 || target >= len(group.IDs) {
		return nil
	}
	targetID := group.IDs[target]

	// Optimistic truncate: keep everything up to and including the switch
	// point while the downstream branch loads.
	n.mu.Lock()
	idx = n.branch.IndexOf(id)
	if idx < 0 {
		// A concurrent operation replaced the suffix and took the switch
		// point with it.
		n.mu.Unlock()
		return nil
	}
	saved := n.branch.Clone()
	savedCursor, savedHasMore := n.nextCursor, n.hasMore
	n.branch = n.branch[:idx+1].Clone()
	n.generation++
	gen := n.generation
	n.mu.Unlock()

	n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
		"size": idx + 1,
	}})

	downstream, err := n.src.FetchBranchFrom(ctx, targetID.Value)
	if err == nil && len(downstream) == 0 {
		err = werrors.New(werrors.ErrCodeAPIResponse, "empty downstream branch").
			WithContext("message_id", targetID.Value)
	}

	n.mu.Lock()
	if n.generation != gen {
		// Someone else replaced the branch after our truncate; their state
		// wins and this result is dropped.
		n.mu.Unlock()
		return nil
	}

	if err != nil {
		n.branch = saved
		n.nextCursor, n.hasMore = savedCursor, savedHasMore
		n.generation++
		n.mu.Unlock()

		werr := werrors.Wrap(err, werrors.ErrCodeBranchFetch, "sibling switch failed").
			WithContext("message_id", targetID.Value).
			WithRetryable(true).
			WithUserMessage("Couldn't switch to that variant.")
		n.logger.Error(logging.CategoryChat, "sibling_switch_failed", werr.Error(), nil)
		n.notifyBlocking(werr.Notice())
		n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
			"size": len(saved),
		}})
		return werr
	}

	idx = n.branch.IndexOf(id)
	if idx < 0 {
		n.mu.Unlock()
		return nil
	}
	n.branch = append(n.branch[:idx].Clone(), downstream...)
	n.generation++
	leaf, _ := n.branch.Leaf()
	size := len(n.branch)
	n.mu.Unlock()

	n.persistLeaf(chatID, leaf.ID.Value)
	n.publish(events.Event{Type: events.EventSiblingSwitched, ChatID: chatID, Data: map[string]any{
		"message_id": targetID.Value,
		"index":      target,
		"total":      group.Total,
	}})
	n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
		"size": size,
	}})
	n.logger.Info(logging.CategoryChat, "sibling_switched", "", map[string]any{
		"chat_id": chatID, "message_id": targetID.Value,
	})
	return nil
}

// PrefetchSiblings warms the sibling cache for the given messages' parents.
// Fetches run with bounded concurrency; failures are silent and retried on
// the next interaction.
func (n *Navigator) PrefetchSiblings(ctx context.Context, ids []MessageID) {
	var parents []MessageID
	n.mu.Lock()
	for _, id := range ids {
		idx := n.branch.IndexOf(id)
		if idx < 0 || n.branch[idx].IsRoot() || id.Pending {
			continue
		}
		parents = append(parents, n.branch[idx].ParentID)
	}
	n.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, parent := range parents {
		g.Go(func() error {
			if _, err := n.siblings.resolve(ctx, parent); err != nil {
				n.logger.Debug(logging.CategoryChat, "sibling_prefetch_failed", err.Error(), map[string]any{
					"parent_id": parent.Value,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Send appends a user message below the current leaf and streams the
// assistant reply. One generation at a time per navigator.
func (n *Navigator) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	if n.sending {
		n.mu.Unlock()
		return ErrBusy
	}
	n.sending = true
	saved := n.branch.Clone()
	var parent MessageID
	if leaf, ok := n.branch.Leaf(); ok {
		parent = leaf.ID
	}
	pending := NewPendingUser(parent, text)
	n.branch = append(n.branch, pending)
	n.draft.Reset()
	chatID := n.chatID
	genCtx, cancel := context.WithCancel(ctx)
	n.cancelGen = cancel
	n.mu.Unlock()

	n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
		"size": len(saved) + 1,
	}})

	return n.generate(genCtx, generation{
		chatID:    chatID,
		parent:    parent,
		prompt:    text,
		pendingID: pending.ID,
		rollback: func() {
			// A failed send filters optimistic messages back out by tag.
			n.branch = n.branch.WithoutPending()
		},
	})
}

// Edit replaces a user message with new text and regenerates from its
// parent. Non-user messages and unknown ids are silent no-ops. The old and
// new variant are never displayed together: the branch is truncated to
// strictly before the edited message while the replacement streams.
func (n *Navigator) Edit(ctx context.Context, id MessageID, text string) error {
	n.mu.Lock()
	idx := n.branch.IndexOf(id)
	if idx < 0 || n.branch[idx].Role != RoleUser || id.Pending {
		n.mu.Unlock()
		return nil
	}
	if n.sending {
		n.mu.Unlock()
		return ErrBusy
	}
	n.sending = true
	saved := n.branch.Clone()
	savedCursor, savedHasMore := n.nextCursor, n.hasMore
	parent := n.branch[idx].ParentID
	pending := NewPendingUser(parent, text)
	n.branch = append(n.branch[:idx].Clone(), pending)
	n.generation++
	n.draft.Reset()
	chatID := n.chatID
	genCtx, cancel := context.WithCancel(ctx)
	n.cancelGen = cancel
	n.mu.Unlock()

	n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
		"size": idx + 1,
	}})

	return n.generate(genCtx, generation{
		chatID:    chatID,
		parent:    parent,
		prompt:    text,
		pendingID: pending.ID,
		editedOf:  parent,
		rollback: func() {
			n.branch = saved
			n.nextCursor, n.hasMore = savedCursor, savedHasMore
		},
	})
}

// Cancel aborts the in-flight generation, if any. The optimistic suffix is
// rolled back by the generation's own error path.
func (n *Navigator) Cancel() {
	n.mu.Lock()
	cancel := n.cancelGen
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// generation bundles the state one send/edit carries across the stream.
type generation struct {
	chatID    string
	parent    MessageID
	prompt    string
	pendingID MessageID
	// editedOf is set for edits: the parent whose sibling group gained a
	// variant and must be refreshed.
	editedOf MessageID
	rollback func()
}

func (n *Navigator) generate(ctx context.Context, g generation) error {
	defer func() {
		n.mu.Lock()
		n.sending = false
		n.cancelGen = nil
		n.draft.Reset()
		n.mu.Unlock()
	}()

	n.publish(events.Event{Type: events.EventStreamStarted, ChatID: g.chatID})
	n.logger.Info(logging.CategoryStream, "generation_started", "", map[string]any{
		"chat_id": g.chatID,
	})

	res, err := n.gen.Generate(ctx, GenerateRequest{
		ChatID:          g.chatID,
		ParentMessageID: g.parent.Value,
		Prompt:          g.prompt,
	}, func(delta string) {
		n.mu.Lock()
		n.draft.WriteString(delta)
		n.mu.Unlock()
		n.publish(events.Event{Type: events.EventStreamDelta, ChatID: g.chatID, Data: map[string]any{
			"text": delta,
		}})
	})

	if err != nil {
		n.mu.Lock()
		rolledBack := false
		if n.branch.IndexOf(g.pendingID) >= 0 {
			g.rollback()
			n.generation++
			rolledBack = true
		}
		size := len(n.branch)
		n.mu.Unlock()

		if werrors.IsCode(err, werrors.ErrCodeGenerationCancelled) {
			n.publish(events.Event{Type: events.EventStreamCancelled, ChatID: g.chatID})
			n.notifySoft("Generation cancelled.")
		} else {
			n.publish(events.Event{Type: events.EventStreamErrored, ChatID: g.chatID, Data: map[string]any{
				"code": string(werrors.CodeOf(err)),
			}})
			n.notifyBlocking(werrors.NoticeOf(err))
			n.logger.Error(logging.CategoryStream, "generation_failed", err.Error(), map[string]any{
				"chat_id": g.chatID,
			})
		}
		if rolledBack {
			n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: g.chatID, Data: map[string]any{
				"size": size,
			}})
		}
		return err
	}

	n.adopt(res)
	n.reconcile(ctx, g, res)

	n.publish(events.Event{Type: events.EventStreamDone, ChatID: n.ChatID(), Data: map[string]any{
		"message_id": res.MessageID,
		"credits":    res.Credits,
	}})
	n.logger.Info(logging.CategoryUsage, "credits_remaining", "", map[string]any{
		"credits": res.Credits,
	})
	return nil
}

// adopt takes over the backend-assigned chat id after the first generation
// in a brand-new chat.
func (n *Navigator) adopt(res *GenerateResult) {
	if res.ChatID == "" {
		return
	}
	n.mu.Lock()
	if n.chatID == "" {
		n.chatID = res.ChatID
	}
	n.mu.Unlock()
}

// reconcile replaces the optimistic suffix with the confirmed rows the
// backend persisted. When the confirmed chain can't be fetched the
// accumulated text is committed locally so the reply isn't lost.
func (n *Navigator) reconcile(ctx context.Context, g generation, res *GenerateResult) {
	chatID := n.ChatID()
	confirmed, err := n.src.FetchBranchTo(ctx, res.MessageID)

	n.mu.Lock()
	idx := n.branch.IndexOf(g.pendingID)
	if idx < 0 {
		// The suffix was replaced while the stream ran; whoever replaced it
		// owns the branch now.
		n.mu.Unlock()
		return
	}

	if err != nil || len(confirmed) == 0 {
		last := n.branch[len(n.branch)-1]
		n.branch = append(n.branch, Message{
			ID:        ConfirmedID(res.MessageID),
			ParentID:  last.ID,
			Role:      RoleAssistant,
			Content:   res.Text,
			CreatedAt: time.Now(),
		})
		n.generation++
		size := len(n.branch)
		n.mu.Unlock()
		n.logger.Warn(logging.CategoryChat, "reconcile_fetch_failed", "", map[string]any{
			"chat_id": chatID, "message_id": res.MessageID,
		})
		n.notifySoft("Reply saved, but refreshing the conversation failed.")
		n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
			"size": size,
		}})
		return
	}

	prefix := n.branch[:idx].Clone()
	n.branch = spliceConfirmed(prefix, confirmed)
	if idx == 0 {
		// Wholesale replacement: the confirmed chain reaches the root, so
		// the pagination window is gone.
		n.nextCursor = ""
		n.hasMore = false
	}
	n.generation++
	leaf, _ := n.branch.Leaf()
	size := len(n.branch)
	n.mu.Unlock()

	n.persistLeaf(chatID, leaf.ID.Value)
	n.publish(events.Event{Type: events.EventBranchReplaced, ChatID: chatID, Data: map[string]any{
		"size": size,
	}})

	if !g.editedOf.IsZero() {
		// The edited message's parent gained a variant; refresh its group so
		// sibling arrows reflect the new total immediately.
		if _, rerr := n.siblings.refresh(ctx, g.editedOf); rerr != nil {
			n.logger.Debug(logging.CategoryChat, "sibling_refresh_failed", rerr.Error(), nil)
		}
	}
}

// spliceConfirmed joins the preserved window prefix with the confirmed
// chain, anchored on the last shared confirmed message. A chain that does
// not contain the anchor replaces the branch wholesale.
func spliceConfirmed(prefix Branch, chain []Message) Branch {
	if len(prefix) == 0 {
		return Branch(chain).Clone()
	}
	anchor := prefix[len(prefix)-1].ID
	for i := range chain {
		if chain[i].ID == anchor {
			return append(prefix.Clone(), chain[i+1:]...)
		}
	}
	return Branch(chain).Clone()
}

func (n *Navigator) persistLeaf(chatID, leafID string) {
	if n.leaves == nil || chatID == "" || leafID == "" {
		return
	}
	if err := n.leaves.SaveLeaf(chatID, leafID); err != nil {
		n.logger.Warn(logging.CategoryStorage, "leaf_persist_failed", err.Error(), map[string]any{
			"chat_id": chatID,
		})
	}
}

func (n *Navigator) publish(ev events.Event) {
	if n.hub != nil {
		n.hub.Publish(ev)
	}
}

func (n *Navigator) notifySoft(msg string) {
	n.publish(events.Notification(events.SeveritySoft, msg))
}

func (n *Navigator) notifyBlocking(msg string) {
	n.publish(events.Notification(events.SeverityBlocking, msg))
}
