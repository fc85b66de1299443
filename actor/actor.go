package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultAskTimeout bounds an Ask when the caller context has no deadline.
const DefaultAskTimeout = 30 * time.Second

// Handler processes the messages of one actor. Receive is never called
// concurrently for the same actor.
type Handler interface {
	Receive(ctx context.Context, msg any) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg any) (any, error)

// Receive calls f.
func (f HandlerFunc) Receive(ctx context.Context, msg any) (any, error) { return f(ctx, msg) }

// Ref addresses an actor.
type Ref interface {
	// ID uniquely identifies the actor.
	ID() string
	// Ask delivers msg and waits for the reply.
	Ask(ctx context.Context, msg any) (any, error)
}

// Option configures a System.
type Option func(*System)

// WithAskTimeout sets the default Ask timeout.
func WithAskTimeout(d time.Duration) Option {
	return func(s *System) {
		s.askTimeout = d
	}
}

// WithMailboxSize sets the buffered mailbox size of spawned actors.
func WithMailboxSize(n int) Option {
	return func(s *System) {
		s.mailboxSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		s.logger = l
	}
}

// System hosts local actors under a logical cluster name.
type System struct {
	name        string
	askTimeout  time.Duration
	mailboxSize int
	logger      *slog.Logger

	mu     sync.RWMutex
	actors map[string]*local
	closed bool
}

// NewSystem creates an actor system.
func NewSystem(name string, opts ...Option) *System {
	s := &System{
		name:        name,
		askTimeout:  DefaultAskTimeout,
		mailboxSize: 64,
		logger:      slog.New(slog.DiscardHandler),
		actors:      make(map[string]*local),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.mailboxSize < 0 {
		s.mailboxSize = 0
	}
	return s
}

// Name returns the logical cluster name.
func (s *System) Name() string { return s.name }

// Spawn starts an actor under name.
func (s *System) Spawn(name string, h Handler) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStopped
	}
	if _, ok := s.actors[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
	}
	a := &local{
		id:      fmt.Sprintf("%s/%s#%s", s.name, name, uuid.NewString()),
		handler: h,
		timeout: s.askTimeout,
		mailbox: make(chan envelope, s.mailboxSize),
		stopCh:  make(chan struct{}),
		logger:  s.logger.With("actor", name),
	}
	a.wg.Add(1)
	go a.run()
	s.actors[name] = a
	s.logger.Debug("actor spawned", "id", a.id)
	return a, nil
}

// Lookup returns the actor registered under name.
func (s *System) Lookup(name string) (Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return a, nil
}

// Stop stops the actor registered under name after it drains its mailbox.
func (s *System) Stop(name string) error {
	s.mu.Lock()
	a, ok := s.actors[name]
	delete(s.actors, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	a.stop()
	return nil
}

// Shutdown stops all actors. It returns ctx.Err() if ctx ends first.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	actors := s.actors
	s.actors = make(map[string]*local)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, a := range actors {
			a.stop()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type reply struct {
	value any
	err   error
}

type envelope struct {
	ctx   context.Context
	msg   any
	reply chan reply
}

type local struct {
	id      string
	handler Handler
	timeout time.Duration
	logger  *slog.Logger

	mailbox  chan envelope
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	submitMu sync.RWMutex
}

func (a *local) ID() string { return a.id }

func (a *local) Ask(ctx context.Context, msg any) (any, error) {
	if _, ok := ctx.Deadline(); !ok && a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	env := envelope{ctx: context.WithoutCancel(ctx), msg: msg, reply: make(chan reply, 1)}
	if err := a.enqueue(ctx, env); err != nil {
		return nil, err
	}

	select {
	case r := <-env.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, askError(ctx.Err())
	}
}

func (a *local) enqueue(ctx context.Context, env envelope) error {
	a.submitMu.RLock()
	defer a.submitMu.RUnlock()

	if a.closed.Load() {
		return ErrStopped
	}
	select {
	case a.mailbox <- env:
		return nil
	case <-a.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return askError(ctx.Err())
	}
}

func askError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func (a *local) run() {
	defer a.wg.Done()
	for env := range a.mailbox {
		a.handle(env)
	}
}

func (a *local) handle(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("actor handler panicked", "panic", r)
			env.reply <- reply{err: fmt.Errorf("actor %s: handler panic: %v", a.id, r)}
		}
	}()
	v, err := a.handler.Receive(env.ctx, env.msg)
	env.reply <- reply{value: v, err: err}
}

// stop closes the mailbox; queued messages are still processed.
func (a *local) stop() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	a.submitMu.Lock()
	close(a.stopCh)
	close(a.mailbox)
	a.submitMu.Unlock()

	a.wg.Wait()
	a.logger.Debug("actor stopped", "id", a.id)
}
