// Package testutil provides shared test utilities and mocks for nrelay tests.
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/nbd-wtf/go-nostr"
)

// Identity is a key pair used to sign test events.
type Identity struct {
	SecretKey string
	PubKey    string
}

// NewIdentity generates a fresh key pair.
func NewIdentity(t *testing.T) Identity {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("failed to derive public key: %v", err)
	}
	return Identity{SecretKey: sk, PubKey: pk}
}

// SignedEvent builds and signs an event authored by id.
func (id Identity) SignedEvent(t *testing.T, kind int, content string, createdAt time.Time, tags ...nostr.Tag) *domain.Event {
	t.Helper()
	ev := nostr.Event{
		PubKey:    id.PubKey,
		CreatedAt: nostr.Timestamp(createdAt.Unix()),
		Kind:      kind,
		Tags:      nostr.Tags(tags),
		Content:   content,
	}
	if ev.Tags == nil {
		ev.Tags = nostr.Tags{}
	}
	if err := ev.Sign(id.SecretKey); err != nil {
		t.Fatalf("failed to sign event: %v", err)
	}
	return domain.NewEvent(ev)
}

// TextNote is a signed kind-1 event created now.
func (id Identity) TextNote(t *testing.T, content string) *domain.Event {
	t.Helper()
	return id.SignedEvent(t, 1, content, time.Now())
}

// MockRepository is an in-memory event repository.
type MockRepository struct {
	mu          sync.Mutex
	events      map[string]*domain.Event
	createCalls int
	createErr   error
	findErr     error
}

// NewMockRepository creates an empty repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{events: make(map[string]*domain.Event)}
}

// Create stores ev and returns 1, or 0 if an event with the same id exists.
func (m *MockRepository) Create(_ context.Context, ev *domain.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if m.createErr != nil {
		return 0, m.createErr
	}
	if _, ok := m.events[ev.ID]; ok {
		return 0, nil
	}
	m.events[ev.ID] = ev
	return 1, nil
}

// Find returns stored events matching any filter, newest first.
func (m *MockRepository) Find(_ context.Context, filters nostr.Filters) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}

	result := make([]*domain.Event, 0)
	for _, ev := range m.events {
		if filters.Match(&ev.Event) {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	return result, nil
}

// CreateCalls returns how many times Create was invoked.
func (m *MockRepository) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// Count returns the number of stored events.
func (m *MockRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// SetCreateError configures an error to return on Create.
func (m *MockRepository) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetFindError configures an error to return on Find.
func (m *MockRepository) SetFindError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
}

// MockRateGate limits a configured set of addresses.
type MockRateGate struct {
	mu      sync.Mutex
	limited map[string]bool
	queries []string
}

// NewMockRateGate creates a gate that admits everyone.
func NewMockRateGate() *MockRateGate {
	return &MockRateGate{limited: make(map[string]bool)}
}

// IsLimited reports whether addr was marked limited.
func (m *MockRateGate) IsLimited(_ context.Context, addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, addr)
	return m.limited[addr]
}

// Limit marks addr as limited.
func (m *MockRateGate) Limit(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limited[addr] = true
}

// Queries returns the addresses that were checked.
func (m *MockRateGate) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.queries))
	copy(result, m.queries)
	return result
}

// MockBroadcaster records broadcast events.
type MockBroadcaster struct {
	mu     sync.Mutex
	events []*domain.Event
}

// NewMockBroadcaster creates a new mock broadcaster.
func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{}
}

// Broadcast records ev.
func (m *MockBroadcaster) Broadcast(ev *domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns all broadcast events.
func (m *MockBroadcaster) Events() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*domain.Event, len(m.events))
	copy(result, m.events)
	return result
}

// Count returns the number of broadcasts.
func (m *MockBroadcaster) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// MockConnection records frames sent to a client and holds its subscriptions.
type MockConnection struct {
	id   string
	addr string

	mu            sync.Mutex
	frames        [][]byte
	subscriptions map[string]nostr.Filters
}

// NewMockConnection creates a new mock connection.
func NewMockConnection(id string) *MockConnection {
	return &MockConnection{
		id:            id,
		addr:          "127.0.0.1",
		subscriptions: make(map[string]nostr.Filters),
	}
}

// ID returns the connection ID.
func (m *MockConnection) ID() string { return m.id }

// RemoteAddr returns the connection address.
func (m *MockConnection) RemoteAddr() string { return m.addr }

// Send records frame.
func (m *MockConnection) Send(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
}

// SendContext records frame unless ctx is done.
func (m *MockConnection) SendContext(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Send(frame)
	return nil
}

// Subscribe opens or replaces a subscription.
func (m *MockConnection) Subscribe(id string, filters nostr.Filters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[id] = filters
}

// Unsubscribe closes a subscription.
func (m *MockConnection) Unsubscribe(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[id]
	delete(m.subscriptions, id)
	return ok
}

// HasSubscription reports whether id is open.
func (m *MockConnection) HasSubscription(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[id]
	return ok
}

// SubscriptionCount returns the number of open subscriptions.
func (m *MockConnection) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// Frames returns every sent frame decoded as a JSON array.
func (m *MockConnection) Frames() [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]any, 0, len(m.frames))
	for _, f := range m.frames {
		var decoded []any
		if err := json.Unmarshal(f, &decoded); err == nil {
			result = append(result, decoded)
		}
	}
	return result
}

// FramesOfType returns the decoded frames whose first element is typ.
func (m *MockConnection) FramesOfType(typ string) [][]any {
	var result [][]any
	for _, f := range m.Frames() {
		if len(f) > 0 && f[0] == typ {
			result = append(result, f)
		}
	}
	return result
}
