package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cognidesk/cognidesk/pkg/kvstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStoreFromClient(client)
	return NewManager(NewHistoryStore(store), Config{})
}

func TestAddMessageSequencing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.AddMessage(ctx, "c1", RoleUser, "Hello")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.AddMessage(ctx, "c1", RoleAssistant, "Hello! How can I help?")
	if err != nil {
		t.Fatal(err)
	}

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("sequences = %d, %d; want 0, 1", first.Sequence, second.Sequence)
	}
	if first.MessageID != "c1_0" || second.MessageID != "c1_1" {
		t.Errorf("message ids = %q, %q", first.MessageID, second.MessageID)
	}

	cc := m.GetContext("c1")
	if cc == nil || cc.MessageCount != 2 {
		t.Fatalf("context = %+v, want message count 2", cc)
	}
}

func TestHistoryInsertionOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	contents := []string{"one", "two", "three", "four"}
	for _, c := range contents {
		if _, err := m.AddMessage(ctx, "c1", RoleUser, c); err != nil {
			t.Fatal(err)
		}
	}

	history, err := m.GetHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != len(contents) {
		t.Fatalf("history length = %d", len(history))
	}
	for i, msg := range history {
		if msg.Content != contents[i] {
			t.Errorf("message %d = %q, want %q", i, msg.Content, contents[i])
		}
		if msg.Sequence != i {
			t.Errorf("message %d sequence = %d", i, msg.Sequence)
		}
	}
}

func TestGetHistoryLimitReturnsMostRecent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c", "d", "e"} {
		m.AddMessage(ctx, "c1", RoleUser, c)
	}

	history, err := m.GetHistory(ctx, "c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Content != "d" || history[1].Content != "e" {
		t.Fatalf("limited history = %v", history)
	}
}

func TestMessageAnnotations(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	msg, err := m.AddMessage(ctx, "c1", RoleAssistant, "Done",
		WithIntent("create_contact", 0.9),
		WithTools([]string{"create_crm_contact"}),
		WithRouting("tools", "CRM_AGENT"))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Intent != "create_contact" || msg.RoutingUsed != "tools" || msg.AgentType != "CRM_AGENT" {
		t.Errorf("annotations lost: %+v", msg)
	}

	cc := m.GetContext("c1")
	if !cc.ActiveTools["create_crm_contact"] {
		t.Error("tool should be recorded in context")
	}
	if len(cc.Intents) != 1 || cc.Intents[0] != "create_contact" {
		t.Errorf("context intents = %v", cc.Intents)
	}
}

func TestSummaryAnalytics(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.AddMessage(ctx, "c1", RoleUser, "Create a contact", WithIntent("create_contact", 0.8))
	m.AddMessage(ctx, "c1", RoleAssistant, "Created", WithTools([]string{"create_crm_contact"}))
	m.AddMessage(ctx, "c1", RoleUser, "Now check inventory", WithIntent("get_inventory", 0.7))
	m.RecordError("c1")

	summary, err := m.GetSummary(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if summary.MessageCount != 3 {
		t.Errorf("message count = %d", summary.MessageCount)
	}
	if summary.RoleDistribution[RoleUser] != 2 || summary.RoleDistribution[RoleAssistant] != 1 {
		t.Errorf("role distribution = %v", summary.RoleDistribution)
	}
	if summary.IntentChanges != 1 {
		t.Errorf("intent changes = %d", summary.IntentChanges)
	}
	if summary.ToolsUsed != 1 {
		t.Errorf("tools used = %d", summary.ToolsUsed)
	}
	if summary.ErrorRate <= 0 {
		t.Errorf("error rate = %f", summary.ErrorRate)
	}
}

func TestSummaryUnknownConversation(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.GetSummary(context.Background(), "ghost"); err == nil {
		t.Error("expected error for empty conversation")
	}
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.AddMessage(ctx, "c1", RoleUser, "hello")
	if err := m.Delete(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	if m.GetContext("c1") != nil {
		t.Error("context should be gone")
	}
	history, err := m.GetHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("history should be empty, got %d", len(history))
	}
}

func TestEvictionOnlyTouchesMemory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.AddMessage(ctx, "c1", RoleUser, "hello")

	// Age the context past the idle timeout.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	m.evictIdle()
	m.now = time.Now

	if m.GetContext("c1") != nil {
		t.Error("idle context should be evicted")
	}
	history, err := m.GetHistory(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Error("durable history must survive eviction")
	}
}

func TestGetActiveOrdering(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }
	m.AddMessage(ctx, "old", RoleUser, "x")
	m.now = func() time.Time { return base.Add(time.Minute) }
	m.AddMessage(ctx, "new", RoleUser, "y")

	active := m.GetActive(1)
	if len(active) != 1 || active[0].ConversationID != "new" {
		t.Fatalf("active = %v", active)
	}
}

func TestGetActiveSnapshotsAreIndependent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.AddMessage(ctx, "c1", RoleAssistant, "done",
		WithIntent("create_contact", 0.9),
		WithTools([]string{"create_crm_contact"}))

	// Snapshots must not share reference fields with the live context;
	// callers marshal them outside the manager lock while writes continue.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			m.AddMessage(ctx, "c1", RoleAssistant, "again",
				WithIntent("get_inventory", 0.8),
				WithTools([]string{"check_erp_inventory"}))
		}
	}()
	for i := 0; i < 200; i++ {
		for _, cc := range m.GetActive(10) {
			if _, err := json.Marshal(cc); err != nil {
				t.Fatalf("marshal snapshot: %v", err)
			}
		}
	}
	<-done

	snap := m.GetActive(1)[0]
	snap.ActiveTools["mutated"] = true
	snap.Intents = append(snap.Intents, "mutated")
	if live := m.GetContext("c1"); live.ActiveTools["mutated"] {
		t.Error("snapshot mutation leaked into the live context")
	}
}

func TestUpdateTopic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.AddMessage(ctx, "c1", RoleUser, "hello")
	if err := m.UpdateTopic(ctx, "c1", "billing"); err != nil {
		t.Fatal(err)
	}
	if cc := m.GetContext("c1"); cc.Topic != "billing" {
		t.Errorf("topic = %q", cc.Topic)
	}

	if err := m.UpdateTopic(ctx, "ghost", "x"); err == nil {
		t.Error("expected not-found for unknown conversation")
	}
}
