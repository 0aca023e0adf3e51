// Package turn owns per-conversation turn processing: the bounded
// context window, the serialized turn pipeline, and the registry that
// keys controllers by conversation so reconnects resume state.
package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

// turnQueueSize bounds how many turns may wait behind the one being
// processed before callers are refused.
const turnQueueSize = 32

// maxPointsPerTurn caps what a single turn may add to the ledger. The
// parser already bounds what it returns, but CompletionClient is an
// interface and the clamp is the controller's invariant to keep.
const maxPointsPerTurn = 20

// turnRequest is one queued user message and its completion channel.
type turnRequest struct {
	text   string
	result chan TurnResult
}

// TurnResult is the outcome of one completed turn, delivered on the
// channel returned by Enqueue.
type TurnResult struct {
	Reply string
	Err   error
}

// Controller is the sole authority over one conversation's turn order.
// A single worker goroutine drains a FIFO request channel, so turn N+1
// never begins until turn N has fully persisted its assistant reply or
// failed — an explicit, testable serialization contract. The controller
// exclusively owns its Window; nothing else mutates it.
type Controller struct {
	conversationID string
	studentEmail   string
	window         *Window
	store          interfaces.ConversationStore
	completer      interfaces.CompletionClient
	turnTimeout    time.Duration

	requests  chan *turnRequest
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// newController builds a controller whose window has already been
// loaded from the store. Callers go through Registry.Attach.
func newController(
	conversationID, studentEmail string,
	window *Window,
	store interfaces.ConversationStore,
	completer interfaces.CompletionClient,
	turnTimeout time.Duration,
) *Controller {
	c := &Controller{
		conversationID: conversationID,
		studentEmail:   studentEmail,
		window:         window,
		store:          store,
		completer:      completer,
		turnTimeout:    turnTimeout,
		requests:       make(chan *turnRequest, turnQueueSize),
		done:           make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// ConversationID returns the conversation this controller owns.
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// Enqueue submits one turn and returns without waiting. Turn order is
// fixed at the moment Enqueue returns: callers that Enqueue from a
// single goroutine, the way a connection's read loop does, get strict
// FIFO for free. The result channel is buffered, so an abandoned
// waiter never blocks the worker.
func (c *Controller) Enqueue(text string) (<-chan TurnResult, error) {
	if err := types.ValidateMessageText(text); err != nil {
		return nil, err
	}

	req := &turnRequest{text: text, result: make(chan TurnResult, 1)}

	select {
	case c.requests <- req:
		return req.result, nil
	case <-c.done:
		return nil, ErrControllerClosed
	default:
		return nil, ErrTurnQueueFull
	}
}

// OnUserMessage enqueues one turn and waits for its reply. ctx bounds
// only the caller's wait: an abandoned wait (disconnect) does not
// cancel the turn, which completes and persists normally since points
// earned and history written are real state transitions independent of
// transport lifetime.
func (c *Controller) OnUserMessage(ctx context.Context, text string) (string, error) {
	resultCh, err := c.Enqueue(text)
	if err != nil {
		return "", err
	}

	select {
	case res := <-resultCh:
		return res.Reply, res.Err
	case <-c.done:
		return "", ErrControllerClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run is the single worker draining the turn queue. One failed turn
// never poisons the queue; the next queued turn still proceeds.
func (c *Controller) run() {
	defer c.wg.Done()

	for {
		select {
		case req := <-c.requests:
			reply, err := c.handleTurn(req.text)
			req.result <- TurnResult{Reply: reply, Err: err}
		case <-c.done:
			c.drainQueue()
			return
		}
	}
}

func (c *Controller) drainQueue() {
	for {
		select {
		case req := <-c.requests:
			req.result <- TurnResult{Err: ErrControllerClosed}
		default:
			return
		}
	}
}

// handleTurn runs one full turn. It deliberately uses its own timeout
// context rather than the caller's: an in-flight turn outlives the
// connection that started it.
func (c *Controller) handleTurn(text string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.turnTimeout)
	defer cancel()

	// Persist the user message before anything external runs; a store
	// failure here aborts the turn without generating model cost. The
	// window is only mutated after persistence succeeded.
	if _, err := c.store.AppendMessage(ctx, c.conversationID, types.MessageRoleUser, text, ""); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}
	c.window.Append(types.ChatMessage{Role: types.MessageRoleUser, Content: text})

	// At most one completion call per turn; a timeout is a failed turn,
	// not a retry. The user message stays persisted — it happened.
	result, err := c.completer.Complete(ctx, c.window.Prompt())
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}

	// Idempotent insert keyed by (conversation, reply fingerprint). A
	// duplicate reply is still reported to the student but is neither
	// stored again nor scored again.
	hash := fingerprint(result.Reply)
	stored, err := c.store.AppendMessage(ctx, c.conversationID, types.MessageRoleAssistant, result.Reply, hash)
	if err != nil {
		return "", fmt.Errorf("persist assistant message: %w", err)
	}

	points := result.Points
	if points > maxPointsPerTurn {
		points = maxPointsPerTurn
	}
	if stored && points > 0 {
		if _, err := c.store.IncrementPoints(ctx, c.studentEmail, points); err != nil {
			// The reply is already durable; losing one score increment is
			// logged rather than failing the turn.
			log.Printf("turn: failed to increment points for %s: %v", c.studentEmail, err)
		}
	}

	c.window.Append(types.ChatMessage{Role: types.MessageRoleAssistant, Content: result.Reply})
	return result.Reply, nil
}

// Close stops the worker. Queued turns are refused with
// ErrControllerClosed; the in-flight turn, if any, completes first.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// fingerprint computes the content hash that keys assistant dedup.
func fingerprint(reply string) string {
	sum := sha256.Sum256([]byte(reply))
	return hex.EncodeToString(sum[:])
}
