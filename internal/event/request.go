package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantryio/gantry/internal/event/topic"
)

// Coordination channel topics shared by all requesters and responders.
const (
	// TopicRequest carries RequestMessage payloads.
	TopicRequest topic.Topic = "request"

	// TopicResponse carries ResponseMessage payloads.
	TopicResponse topic.Topic = "response"
)

// DefaultRequestTimeout bounds requests issued without an explicit timeout.
const DefaultRequestTimeout = 30 * time.Second

// RequestMessage is the payload emitted on the request channel.
type RequestMessage struct {
	// ID correlates the request with its response.
	ID string `json:"id"`

	// Topic is the logical request topic the responder routes on.
	Topic string `json:"topic"`

	// Payload is the request body.
	Payload any `json:"payload"`
}

// ResponseMessage is the payload emitted on the response channel.
type ResponseMessage struct {
	// ID echoes the request ID.
	ID string `json:"id"`

	// Payload is the response body, nil on error.
	Payload any `json:"payload"`

	// Error is the responder's fault as text, empty on success.
	Error string `json:"error,omitempty"`
}

// RequestHandler serves requests routed through HandleRequests. A returned
// error (or panic) is converted into an error response, never propagated back
// into the bus.
type RequestHandler func(ctx context.Context, requestTopic string, payload any) (any, error)

// pendingRequest is alive until either a matching response arrives or the
// timer fires, never both.
type pendingRequest struct {
	id       string
	topic    topic.Topic
	issuedAt time.Time
	done     chan ResponseMessage
}

// Coordinator layers correlated request/response semantics with timeouts on
// top of the bus. A single coordinator-owned subscription on the response
// channel settles pending requests by ID; each request settles exactly once.
type Coordinator struct {
	bus    *Bus
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	respSub *Subscription
}

// NewCoordinator creates a coordinator bound to the bus and installs its
// response listener.
func NewCoordinator(bus *Bus, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		bus:     bus,
		logger:  logger.With(slog.String("component", "event.coordinator")),
		pending: make(map[string]*pendingRequest),
	}

	sub, err := bus.SubscribeFunc(TopicResponse, func(_ context.Context, evt Envelope) error {
		msg, ok := evt.Payload.(ResponseMessage)
		if !ok {
			return nil
		}
		c.settle(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.respSub = sub

	return c, nil
}

// Request emits on the request channel and blocks until the first of a
// matching response, the timeout, or context cancellation. A timeout rejects
// with *TimeoutError; a response arriving after settlement is dropped.
func (c *Coordinator) Request(ctx context.Context, t topic.Topic, payload any, timeout time.Duration) (any, error) {
	if !t.IsValid() {
		return nil, ErrInvalidTopic
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	req := &pendingRequest{
		id:       uuid.NewString(),
		topic:    t,
		issuedAt: time.Now(),
		done:     make(chan ResponseMessage, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	c.pending[req.id] = req
	c.mu.Unlock()

	evt := NewEnvelope(TopicRequest, RequestMessage{
		ID:      req.id,
		Topic:   t.String(),
		Payload: payload,
	}, "").WithCorrelation(req.id)

	if err := c.bus.EmitEnvelope(ctx, evt); err != nil {
		c.drop(req.id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-req.done:
		if msg.Error != "" {
			return nil, fmt.Errorf("request on %q failed: %s", t, msg.Error)
		}
		return msg.Payload, nil

	case <-timer.C:
		c.drop(req.id)
		return nil, &TimeoutError{Topic: t, Timeout: timeout}

	case <-ctx.Done():
		c.drop(req.id)
		return nil, ctx.Err()
	}
}

// settle resolves a pending request by ID. The entry is deleted under the
// lock, so exactly one of settle and drop wins; a late response is a no-op.
func (c *Coordinator) settle(msg ResponseMessage) {
	c.mu.Lock()
	req, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping response for settled request",
			slog.String("request_id", msg.ID))
		return
	}
	req.done <- msg
}

// drop removes a pending entry after a timeout or cancellation.
func (c *Coordinator) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// HandleRequests installs a responder on the request channel. The handler's
// return value or fault is always converted into a response; a panic or error
// never propagates back into the bus. Returns the responder's subscription so
// the caller can remove it.
func (c *Coordinator) HandleRequests(handler RequestHandler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	return c.bus.SubscribeFunc(TopicRequest, func(ctx context.Context, evt Envelope) error {
		msg, ok := evt.Payload.(RequestMessage)
		if !ok {
			return nil
		}

		resp := c.serve(ctx, handler, msg)
		respEvt := NewEnvelope(TopicResponse, resp, "").WithCorrelation(msg.ID)
		return c.bus.EmitEnvelope(ctx, respEvt)
	}, opts...)
}

// serve runs the handler with panic recovery and shapes the response.
func (c *Coordinator) serve(ctx context.Context, handler RequestHandler, msg RequestMessage) (resp ResponseMessage) {
	resp.ID = msg.ID

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("request handler panic recovered",
				slog.String("request_topic", msg.Topic),
				slog.Any("panic", r))
			resp.Payload = nil
			resp.Error = fmt.Sprintf("handler panic: %v", r)
		}
	}()

	payload, err := handler(ctx, msg.Topic, msg.Payload)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Payload = payload
	return resp
}

// PendingCount returns the number of unsettled requests.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close removes the response listener and fails all unsettled requests.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.done <- ResponseMessage{ID: req.id, Error: ErrCoordinatorClosed.Error()}
	}

	return c.bus.Unsubscribe(c.respSub)
}
