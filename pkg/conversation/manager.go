package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cognidesk/cognidesk/pkg/fault"
)

// Config configures the conversation manager.
type Config struct {
	// CleanupInterval is the eviction sweep period (default: 5m).
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`

	// IdleTimeout evicts contexts inactive for this long (default: 1h).
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Hour
	}
}

// Manager owns the in-memory conversation contexts and routes message
// writes through the durable history store. Eviction only touches memory.
type Manager struct {
	history HistoryStore

	mu       sync.RWMutex
	contexts map[string]*Context

	cleanupInterval time.Duration
	idleTimeout     time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewManager creates a manager over the given history store.
func NewManager(history HistoryStore, cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{
		history:         history,
		contexts:        make(map[string]*Context),
		cleanupInterval: cfg.CleanupInterval,
		idleTimeout:     cfg.IdleTimeout,
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}
}

// Start launches the periodic eviction sweep.
func (m *Manager) Start() {
	go func() {
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.evictIdle()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the eviction sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Create registers a new in-memory context. Creating an existing id is a
// no-op returning the existing context.
func (m *Manager) Create(conversationID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(conversationID)
}

func (m *Manager) getOrCreateLocked(conversationID string) *Context {
	if cc, ok := m.contexts[conversationID]; ok {
		return cc
	}
	cc := &Context{
		ConversationID: conversationID,
		CreatedAt:      m.now(),
		LastActivity:   m.now(),
		ActiveTools:    make(map[string]bool),
	}
	m.contexts[conversationID] = cc
	return cc
}

// AddMessage persists a message and updates the context. The sequence is the
// context's message count at insertion; message ids derive from it.
func (m *Manager) AddMessage(ctx context.Context, conversationID string, role Role, content string, opts ...MessageOption) (Message, error) {
	m.mu.Lock()
	cc := m.getOrCreateLocked(conversationID)

	// Reserve the sequence slot up front so concurrent writers to the same
	// conversation cannot collide.
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
		Sequence:  cc.MessageCount,
		MessageID: fmt.Sprintf("%s_%d", conversationID, cc.MessageCount),
	}
	cc.MessageCount++
	for _, opt := range opts {
		opt(&msg)
	}
	m.mu.Unlock()

	if err := m.history.AddMessage(ctx, conversationID, msg); err != nil {
		m.mu.Lock()
		cc.MessageCount--
		m.mu.Unlock()
		return Message{}, fault.Unavailable("conversation", "persist message: %v", err)
	}

	m.mu.Lock()
	cc.LastActivity = m.now()
	if msg.Intent != "" {
		cc.Intents = append(cc.Intents, msg.Intent)
		cc.ConfidenceScores = append(cc.ConfidenceScores, msg.Confidence)
	}
	for _, tool := range msg.ToolsUsed {
		cc.ActiveTools[tool] = true
	}
	m.mu.Unlock()

	return msg, nil
}

// MessageOption attaches optional NLU annotations to a message.
type MessageOption func(*Message)

func WithIntent(intent string, confidence float64) MessageOption {
	return func(m *Message) {
		m.Intent = intent
		m.Confidence = confidence
	}
}

func WithTools(tools []string) MessageOption {
	return func(m *Message) { m.ToolsUsed = tools }
}

func WithRouting(routing, agentType string) MessageOption {
	return func(m *Message) {
		m.RoutingUsed = routing
		m.AgentType = agentType
	}
}

// GetHistory returns up to limit most recent messages in insertion order.
// Zero limit returns everything.
func (m *Manager) GetHistory(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	return m.history.GetMessages(ctx, conversationID, limit)
}

// GetContext returns the in-memory context, or nil when evicted or unknown.
func (m *Manager) GetContext(conversationID string) *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cc, ok := m.contexts[conversationID]
	if !ok {
		return nil
	}
	return cloneContextLocked(cc)
}

// cloneContextLocked deep-copies a context so callers can read it outside
// the manager lock. Caller must hold at least the read lock.
func cloneContextLocked(cc *Context) *Context {
	snapshot := *cc
	snapshot.ActiveTools = make(map[string]bool, len(cc.ActiveTools))
	for k, v := range cc.ActiveTools {
		snapshot.ActiveTools[k] = v
	}
	snapshot.Intents = append([]string(nil), cc.Intents...)
	snapshot.ConfidenceScores = append([]float64(nil), cc.ConfidenceScores...)
	return &snapshot
}

// UpdateTopic sets the conversation topic in memory and metadata.
func (m *Manager) UpdateTopic(ctx context.Context, conversationID, topic string) error {
	m.mu.Lock()
	cc, ok := m.contexts[conversationID]
	if ok {
		cc.Topic = topic
		cc.LastActivity = m.now()
	}
	m.mu.Unlock()

	if !ok {
		return fault.NotFound("conversation", "conversation %s not active", conversationID)
	}
	return m.history.SetMetadata(ctx, conversationID, map[string]string{"topic": topic})
}

// RecordError bumps the context error counter.
func (m *Manager) RecordError(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cc, ok := m.contexts[conversationID]; ok {
		cc.ErrorCount++
	}
}

// GetSummary computes analytics over the durable history plus context.
func (m *Manager) GetSummary(ctx context.Context, conversationID string) (*Summary, error) {
	messages, err := m.history.GetMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fault.NotFound("conversation", "conversation %s has no messages", conversationID)
	}

	summary := &Summary{
		ConversationID:   conversationID,
		MessageCount:     len(messages),
		RoleDistribution: make(map[Role]int),
	}

	totalLen := 0
	lastIntent := ""
	tools := make(map[string]bool)
	for _, msg := range messages {
		summary.RoleDistribution[msg.Role]++
		totalLen += len(msg.Content)
		if msg.Intent != "" && msg.Intent != lastIntent {
			if lastIntent != "" {
				summary.IntentChanges++
			}
			lastIntent = msg.Intent
		}
		for _, tool := range msg.ToolsUsed {
			tools[tool] = true
		}
	}
	summary.AvgContentLength = float64(totalLen) / float64(len(messages))
	summary.ToolsUsed = len(tools)

	m.mu.RLock()
	if cc, ok := m.contexts[conversationID]; ok {
		summary.Topic = cc.Topic
		summary.CreatedAt = cc.CreatedAt
		summary.LastActivity = cc.LastActivity
		summary.ErrorRate = float64(cc.ErrorCount) / float64(max(cc.MessageCount, 1))
	}
	m.mu.RUnlock()

	return summary, nil
}

// GetActive lists the most recently active contexts, newest first.
func (m *Manager) GetActive(limit int) []*Context {
	m.mu.RLock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, cc := range m.contexts {
		contexts = append(contexts, cloneContextLocked(cc))
	}
	m.mu.RUnlock()

	sort.Slice(contexts, func(i, j int) bool {
		return contexts[i].LastActivity.After(contexts[j].LastActivity)
	})
	if limit > 0 && len(contexts) > limit {
		contexts = contexts[:limit]
	}
	return contexts
}

// Delete removes the conversation from memory and the durable store.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.contexts, conversationID)
	m.mu.Unlock()

	return m.history.DeleteConversation(ctx, conversationID)
}

// evictIdle removes contexts idle past the timeout. It snapshots keys first
// so eviction never holds the lock across the whole sweep.
func (m *Manager) evictIdle() {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.RLock()
	var stale []string
	for id, cc := range m.contexts {
		if cc.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.mu.Lock()
		if cc, ok := m.contexts[id]; ok && cc.LastActivity.Before(cutoff) {
			delete(m.contexts, id)
		}
		m.mu.Unlock()
	}
}

// ActiveCount reports the number of in-memory contexts.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}
