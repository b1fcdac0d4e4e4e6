package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/engine"
	"github.com/hupe1980/flowmesh/flow"
	"github.com/hupe1980/flowmesh/logging"
)

// DefaultSubject is where routine firings are published.
const DefaultSubject = "flowmesh.routine"

// Runtime is the part of the engine the subscriber drives.
type Runtime interface {
	Callback(ctx context.Context, req engine.RoutineRequest) (*flow.Result, error)
}

// Reply is sent back to requests that carry a reply subject.
type Reply struct {
	ExecutionID  string      `json:"execution_id,omitempty"`
	Status       flow.Status `json:"status,omitempty"`
	FailedNodeID string      `json:"failed_node_id,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Options configures a NATSSubscriber.
type Options struct {
	// Subject to subscribe to. Defaults to DefaultSubject.
	Subject string
	// Queue group shared by every runtime replica so that each firing is
	// handled once. Defaults to "flowmesh".
	Queue string
	// Timeout bounds a single routine run. Zero means no bound.
	Timeout time.Duration
	Logger  logging.Logger
}

// NATSSubscriber receives routine firings from the task scheduler over NATS
// and re-enters the runtime through Runtime.Callback.
type NATSSubscriber struct {
	conn *nats.Conn
	rt   Runtime
	opts Options

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connect dials url and returns a subscriber owning the connection.
func Connect(url string, rt Runtime, optFns ...func(o *Options)) (*NATSSubscriber, error) {
	nc, err := nats.Connect(url, nats.Name("flowmesh-routines"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATSSubscriber(nc, rt, optFns...), nil
}

// NewNATSSubscriber creates a subscriber on an existing connection.
func NewNATSSubscriber(conn *nats.Conn, rt Runtime, optFns ...func(o *Options)) *NATSSubscriber {
	opts := Options{
		Subject: DefaultSubject,
		Queue:   "flowmesh",
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSSubscriber{conn: conn, rt: rt, opts: opts, ctx: ctx, cancel: cancel}
}

// Start subscribes to the configured subject. Each message is handled on
// its own goroutine.
func (s *NATSSubscriber) Start() error {
	sub, err := s.conn.QueueSubscribe(s.opts.Subject, s.opts.Queue, func(msg *nats.Msg) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			reply := s.Handle(s.ctx, msg.Data)
			if msg.Reply == "" {
				return
			}
			data, err := json.Marshal(reply)
			if err != nil {
				s.opts.Logger.Error("scheduler.reply.marshal_failed", "error", err.Error())
				return
			}
			if err := msg.Respond(data); err != nil {
				s.opts.Logger.Warn("scheduler.reply.failed", "error", err.Error())
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", s.opts.Subject, err)
	}
	s.sub = sub
	s.opts.Logger.Info("scheduler.subscribed", "subject", s.opts.Subject, "queue", s.opts.Queue)
	return nil
}

// Handle decodes one routine firing and runs it.
func (s *NATSSubscriber) Handle(ctx context.Context, data []byte) Reply {
	var req engine.RoutineRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.opts.Logger.Warn("scheduler.message.invalid", "error", err.Error())
		return Reply{Error: "invalid routine message: " + err.Error()}
	}
	if req.FlowCode == "" {
		return Reply{Error: core.NewValidationError("flow_code", "required").Error()}
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	began := time.Now()
	res, err := s.rt.Callback(ctx, req)
	if err != nil {
		s.opts.Logger.Warn("scheduler.routine.rejected", "flow", req.FlowCode, "error", err.Error())
		return Reply{Error: err.Error()}
	}

	reply := Reply{ExecutionID: res.ExecutionID, Status: res.Status, FailedNodeID: res.FailedNodeID}
	if res.Err != nil {
		reply.Error = res.Err.Error()
	}
	s.opts.Logger.Info("scheduler.routine.done",
		"flow", req.FlowCode,
		"execution_id", res.ExecutionID,
		"status", string(res.Status),
		"duration_ms", time.Since(began).Milliseconds(),
	)
	return reply
}

// Close stops receiving, waits for in-flight routines and drains the
// connection.
func (s *NATSSubscriber) Close() error {
	var errs []error
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	s.cancel()
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher fires routines onto a subject. The external task scheduler (or
// an operator from the CLI) uses it.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher creates a publisher on subject, or DefaultSubject when empty.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Fire publishes req without waiting.
func (p *Publisher) Fire(req engine.RoutineRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// FireAndWait publishes req and waits for the runtime's reply.
func (p *Publisher) FireAndWait(ctx context.Context, req engine.RoutineRequest) (Reply, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Reply{}, err
	}
	msg, err := p.conn.RequestWithContext(ctx, p.subject, data)
	if err != nil {
		return Reply{}, fmt.Errorf("routine request: %w", err)
	}
	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode routine reply: %w", err)
	}
	return reply, nil
}
