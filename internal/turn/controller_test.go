package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

// mockStore records appends and point increments in memory, with
// behavior flags for failure-path tests. Assistant dedup mirrors the
// real store: same (conversation, hash) reports stored=false.
type mockStore struct {
	mu sync.Mutex

	appends         []appendedMessage
	assistantHashes map[string]bool
	pointsByEmail   map[string]int
	pointsCalls     int

	failUserAppend      bool
	failAssistantAppend bool
	failIncrement       bool

	recent []types.ChatMessage
	topic  string
}

type appendedMessage struct {
	conversationID string
	role           string
	content        string
	hash           string
}

func newMockStore() *mockStore {
	return &mockStore{
		assistantHashes: make(map[string]bool),
		pointsByEmail:   make(map[string]int),
		topic:           "photosynthesis",
	}
}

func (m *mockStore) AppendMessage(ctx context.Context, conversationID, role, content, questionHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if role == types.MessageRoleUser && m.failUserAppend {
		return false, errors.New("disk full")
	}
	if role == types.MessageRoleAssistant {
		if m.failAssistantAppend {
			return false, errors.New("disk full")
		}
		key := conversationID + "/" + questionHash
		if m.assistantHashes[key] {
			return false, nil
		}
		m.assistantHashes[key] = true
	}

	m.appends = append(m.appends, appendedMessage{conversationID, role, content, questionHash})
	return true, nil
}

func (m *mockStore) IncrementPoints(ctx context.Context, email string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pointsCalls++
	if m.failIncrement {
		return 0, errors.New("ledger unavailable")
	}
	m.pointsByEmail[email] += delta
	return m.pointsByEmail[email], nil
}

func (m *mockStore) EnsureConversation(ctx context.Context, studentID, teacherID, topic string) (string, error) {
	return "conv-" + studentID, nil
}

func (m *mockStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recent) > limit {
		return m.recent[len(m.recent)-limit:], nil
	}
	return m.recent, nil
}

func (m *mockStore) GetUserByEmail(ctx context.Context, email string) (*types.Identity, error) {
	return nil, interfaces.ErrUnknownIdentity
}

func (m *mockStore) ResolveToken(ctx context.Context, token string) (string, error) {
	return "", interfaces.ErrUnknownIdentity
}

func (m *mockStore) ActiveTopic(ctx context.Context) (string, string, error) {
	if m.topic == "" {
		return "", "", interfaces.ErrNoActiveTopic
	}
	return m.topic, "teacher@test.edu", nil
}

func (m *mockStore) SetTopic(ctx context.Context, email, topic string) error { return nil }

func (m *mockStore) Leaderboard(ctx context.Context, limit int) ([]types.Identity, error) {
	return nil, nil
}

func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }

func (m *mockStore) userAppendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appends {
		if a.role == types.MessageRoleUser {
			n++
		}
	}
	return n
}

// mockCompleter returns scripted results in call order, optionally
// blocking until released so tests can observe queueing.
type mockCompleter struct {
	mu      sync.Mutex
	results []types.CompletionResult
	errs    []error
	calls   int
	prompts [][]types.ChatMessage
	release chan struct{}
}

func (m *mockCompleter) Complete(ctx context.Context, prompt []types.ChatMessage) (types.CompletionResult, error) {
	if m.release != nil {
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)

	if i < len(m.errs) && m.errs[i] != nil {
		return types.CompletionResult{}, m.errs[i]
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return types.CompletionResult{Reply: "What else?", Points: 5}, nil
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestController(store *mockStore, completer *mockCompleter) *Controller {
	return newController("conv-1", "alice@test.edu", NewWindow("photosynthesis"),
		store, completer, 5*time.Second)
}

func TestTurnPersistsAndScores(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{
		results: []types.CompletionResult{{Reply: "Why do leaves look green?", Points: 12}},
	}
	c := newTestController(store, completer)
	defer c.Close()

	reply, err := c.OnUserMessage(context.Background(), "Plants use sunlight")
	if err != nil {
		t.Fatalf("OnUserMessage failed: %v", err)
	}
	if reply != "Why do leaves look green?" {
		t.Errorf("reply = %q", reply)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.appends) != 2 {
		t.Fatalf("appends = %d, want 2 (user + assistant)", len(store.appends))
	}
	if store.appends[0].role != types.MessageRoleUser || store.appends[1].role != types.MessageRoleAssistant {
		t.Errorf("append order wrong: %+v", store.appends)
	}
	if store.appends[1].hash == "" {
		t.Error("assistant row stored without fingerprint")
	}
	if store.pointsByEmail["alice@test.edu"] != 12 {
		t.Errorf("points = %d, want 12", store.pointsByEmail["alice@test.edu"])
	}
}

func TestTurnsRunStrictlyInOrder(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{release: make(chan struct{})}
	c := newTestController(store, completer)
	defer c.Close()

	const turns = 5
	var wg sync.WaitGroup
	errs := make([]error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.OnUserMessage(context.Background(), "question")
		}(i)
	}

	// With the completer blocked, at most one turn is in flight: its
	// user message is persisted, the rest are still queued.
	deadline := time.After(2 * time.Second)
	for store.userAppendCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("first turn never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if n := store.userAppendCount(); n != 1 {
		t.Fatalf("turns overlapped: %d user messages persisted while completion blocked", n)
	}

	close(completer.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("turn %d failed: %v", i, err)
		}
	}
	if got := completer.callCount(); got != turns {
		t.Errorf("completion calls = %d, want %d", got, turns)
	}
}

func TestEnqueueOrderIsSendOrder(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{release: make(chan struct{})}
	c := newTestController(store, completer)
	defer c.Close()

	// Enqueue from a single goroutine while the first turn is blocked in
	// the completer; the queue must preserve this exact order.
	texts := []string{"q1", "q2", "q3", "q4"}
	channels := make([]<-chan TurnResult, 0, len(texts))
	for _, text := range texts {
		ch, err := c.Enqueue(text)
		if err != nil {
			t.Fatalf("Enqueue(%q) failed: %v", text, err)
		}
		channels = append(channels, ch)
	}

	close(completer.release)
	for i, ch := range channels {
		if res := <-ch; res.Err != nil {
			t.Fatalf("turn %d failed: %v", i, res.Err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	var users []string
	for _, a := range store.appends {
		if a.role == types.MessageRoleUser {
			users = append(users, a.content)
		}
	}
	if len(users) != len(texts) {
		t.Fatalf("user messages persisted = %d, want %d", len(users), len(texts))
	}
	for i, text := range texts {
		if users[i] != text {
			t.Errorf("position %d persisted %q, want %q", i, users[i], text)
		}
	}
}

func TestPointsClampedAtIncrement(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{
		results: []types.CompletionResult{
			{Reply: "Outstanding answer.", Points: 50},
			{Reply: "Hmm, not quite.", Points: -5},
		},
	}
	c := newTestController(store, completer)
	defer c.Close()

	if _, err := c.OnUserMessage(context.Background(), "first answer"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if _, err := c.OnUserMessage(context.Background(), "second answer"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.pointsByEmail["alice@test.edu"] != maxPointsPerTurn {
		t.Errorf("points = %d, want %d (completer results must be re-bounded)",
			store.pointsByEmail["alice@test.edu"], maxPointsPerTurn)
	}
	if store.pointsCalls != 1 {
		t.Errorf("increment calls = %d, want 1 (negative points skip the ledger)", store.pointsCalls)
	}
}

func TestFailedTurnDoesNotPoisonQueue(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{
		errs:    []error{errors.New("upstream timeout"), nil},
		results: []types.CompletionResult{{}, {Reply: "Better.", Points: 3}},
	}
	c := newTestController(store, completer)
	defer c.Close()

	if _, err := c.OnUserMessage(context.Background(), "first"); err == nil {
		t.Fatal("first turn succeeded, want completion error")
	}

	reply, err := c.OnUserMessage(context.Background(), "second")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if reply != "Better." {
		t.Errorf("reply = %q, want Better.", reply)
	}

	// The failed turn's user message is still durable history.
	if n := store.userAppendCount(); n != 2 {
		t.Errorf("user messages persisted = %d, want 2", n)
	}
}

func TestDuplicateReplyNotScoredTwice(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{
		results: []types.CompletionResult{
			{Reply: "What is chlorophyll?", Points: 10},
			{Reply: "What is chlorophyll?", Points: 10},
		},
	}
	c := newTestController(store, completer)
	defer c.Close()

	for i := 0; i < 2; i++ {
		reply, err := c.OnUserMessage(context.Background(), "tell me about plants")
		if err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
		// The student still sees the reply both times.
		if reply != "What is chlorophyll?" {
			t.Errorf("turn %d reply = %q", i, reply)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.pointsCalls != 1 {
		t.Errorf("increment calls = %d, want 1 (duplicate reply must not re-score)", store.pointsCalls)
	}
	if store.pointsByEmail["alice@test.edu"] != 10 {
		t.Errorf("points = %d, want 10", store.pointsByEmail["alice@test.edu"])
	}
}

func TestStoreFailureAbortsBeforeCompletion(t *testing.T) {
	store := newMockStore()
	store.failUserAppend = true
	completer := &mockCompleter{}
	c := newTestController(store, completer)
	defer c.Close()

	if _, err := c.OnUserMessage(context.Background(), "hello"); err == nil {
		t.Fatal("turn succeeded despite store failure")
	}
	if completer.callCount() != 0 {
		t.Error("completion called after user persistence failed")
	}
}

func TestZeroPointsSkipsLedger(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{
		results: []types.CompletionResult{{Reply: "Try harder.", Points: 0}},
	}
	c := newTestController(store, completer)
	defer c.Close()

	if _, err := c.OnUserMessage(context.Background(), "idk"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.pointsCalls != 0 {
		t.Errorf("increment calls = %d, want 0 for a zero-point turn", store.pointsCalls)
	}
}

func TestLedgerFailureDoesNotFailTurn(t *testing.T) {
	store := newMockStore()
	store.failIncrement = true
	completer := &mockCompleter{
		results: []types.CompletionResult{{Reply: "Good.", Points: 8}},
	}
	c := newTestController(store, completer)
	defer c.Close()

	reply, err := c.OnUserMessage(context.Background(), "answer")
	if err != nil {
		t.Fatalf("turn failed on ledger error: %v", err)
	}
	if reply != "Good." {
		t.Errorf("reply = %q", reply)
	}
}

func TestPromptCarriesWindowHistory(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{
		results: []types.CompletionResult{
			{Reply: "r1", Points: 1},
			{Reply: "r2", Points: 1},
		},
	}
	c := newTestController(store, completer)
	defer c.Close()

	if _, err := c.OnUserMessage(context.Background(), "first question"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if _, err := c.OnUserMessage(context.Background(), "second question"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	completer.mu.Lock()
	defer completer.mu.Unlock()

	// First prompt: system + the user message, exactly once.
	if len(completer.prompts[0]) != 2 {
		t.Errorf("first prompt length = %d, want 2", len(completer.prompts[0]))
	}
	// Second prompt: system + user + assistant + user.
	second := completer.prompts[1]
	if len(second) != 4 {
		t.Fatalf("second prompt length = %d, want 4", len(second))
	}
	if second[2].Content != "r1" || second[2].Role != types.MessageRoleAssistant {
		t.Errorf("assistant reply missing from history: %+v", second[2])
	}
	if second[3].Content != "second question" {
		t.Errorf("latest user message not last: %+v", second[3])
	}
}

func TestRejectedWhenQueueFull(t *testing.T) {
	store := newMockStore()
	completer := &mockCompleter{release: make(chan struct{})}
	c := newTestController(store, completer)
	defer func() {
		close(completer.release)
		c.Close()
	}()

	// Occupy the in-flight slot first, then fill the whole queue.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.OnUserMessage(context.Background(), "q")
	}()

	deadline := time.After(2 * time.Second)
	for store.userAppendCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("first turn never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	for i := 0; i < turnQueueSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.OnUserMessage(context.Background(), "q")
		}()
	}

	for len(c.requests) < turnQueueSize {
		select {
		case <-deadline:
			t.Fatal("queue never saturated")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := c.OnUserMessage(context.Background(), "overflow"); !errors.Is(err, ErrTurnQueueFull) {
		t.Errorf("got %v, want ErrTurnQueueFull", err)
	}
	wg.Wait()
}

func TestOnUserMessageValidatesText(t *testing.T) {
	c := newTestController(newMockStore(), &mockCompleter{})
	defer c.Close()

	if _, err := c.OnUserMessage(context.Background(), "   "); !errors.Is(err, types.ErrEmptyMessage) {
		t.Errorf("got %v, want ErrEmptyMessage", err)
	}
}

func TestCloseRefusesNewTurns(t *testing.T) {
	c := newTestController(newMockStore(), &mockCompleter{})
	c.Close()

	if _, err := c.OnUserMessage(context.Background(), "late"); !errors.Is(err, ErrControllerClosed) {
		t.Errorf("got %v, want ErrControllerClosed", err)
	}

	// Close is idempotent.
	c.Close()
}
