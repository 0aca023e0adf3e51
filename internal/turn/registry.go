package turn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

// Registry keys controllers by conversation id so a fast reconnect
// resumes in-memory state, and evicts controllers once no connection
// has been attached for the idle TTL. Two sockets of the same student
// always share one controller instance.
type Registry struct {
	store       interfaces.ConversationStore
	completer   interfaces.CompletionClient
	idleTTL     time.Duration
	turnTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	sweepTicker *time.Ticker
	shutdown    chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// entry tracks one controller and how many connections hold it.
type entry struct {
	controller *Controller
	attached   int
	lastDetach time.Time
}

// sweepInterval is how often idle controllers are checked for eviction.
const sweepInterval = time.Minute

// NewRegistry creates a controller registry and starts its idle sweeper.
func NewRegistry(
	store interfaces.ConversationStore,
	completer interfaces.CompletionClient,
	idleTTL, turnTimeout time.Duration,
) *Registry {
	r := &Registry{
		store:       store,
		completer:   completer,
		idleTTL:     idleTTL,
		turnTimeout: turnTimeout,
		entries:     make(map[string]*entry),
		sweepTicker: time.NewTicker(sweepInterval),
		shutdown:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Attach binds a student connection to its conversation's controller,
// creating both the conversation row and the controller on first use.
// The conversation row is refreshed (topic, updated_at) on every
// re-entry.
func (r *Registry) Attach(ctx context.Context, student *types.Identity) (*Controller, error) {
	if student.Role != types.RoleStudent {
		return nil, ErrNotAStudent
	}

	topic, teacherEmail, err := r.store.ActiveTopic(ctx)
	if err != nil {
		return nil, err
	}

	conversationID, err := r.store.EnsureConversation(ctx, student.Email, teacherEmail, topic)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.entries[conversationID]; exists {
		e.attached++
		return e.controller, nil
	}

	// Rebuild the window from the store: the window is disposable cache,
	// the message log is the source of truth.
	window := NewWindow(topic)
	recent, err := r.store.RecentMessages(ctx, conversationID, WindowSize)
	if err != nil {
		return nil, fmt.Errorf("rebuild context window: %w", err)
	}
	for _, m := range recent {
		window.Append(m)
	}

	controller := newController(conversationID, student.Email, window, r.store, r.completer, r.turnTimeout)
	r.entries[conversationID] = &entry{controller: controller, attached: 1}

	log.Printf("turn: controller created: conversation=%s student=%s history=%d",
		conversationID, student.Email, len(recent))
	return controller, nil
}

// Detach releases one connection's hold on a controller. The controller
// stays resident until the idle TTL passes with no attachments, so a
// quick reconnect resumes the same in-memory window.
func (r *Registry) Detach(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[conversationID]
	if !exists {
		return
	}
	if e.attached > 0 {
		e.attached--
	}
	if e.attached == 0 {
		e.lastDetach = time.Now()
	}
}

// ActiveControllers returns how many controllers are resident.
func (r *Registry) ActiveControllers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.sweepTicker.C:
			r.evictIdle(time.Now())
		case <-r.shutdown:
			return
		}
	}
}

// evictIdle tears down controllers with no attachments whose idle TTL
// has elapsed. Exported to tests via the sweeper only; eviction never
// interrupts an attached connection.
func (r *Registry) evictIdle(now time.Time) {
	r.mu.Lock()
	var evict []*entry
	for id, e := range r.entries {
		if e.attached == 0 && now.Sub(e.lastDetach) >= r.idleTTL {
			evict = append(evict, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	// Close outside the lock: Close waits for an in-flight turn.
	for _, e := range evict {
		log.Printf("turn: controller evicted: conversation=%s", e.controller.ConversationID())
		e.controller.Close()
	}
}

// Close stops the sweeper and tears down all controllers.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.shutdown)
		r.sweepTicker.Stop()
	})
	r.wg.Wait()

	r.mu.Lock()
	controllers := make([]*Controller, 0, len(r.entries))
	for id, e := range r.entries {
		controllers = append(controllers, e.controller)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
