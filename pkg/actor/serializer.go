// Package actor runs order mutations through protoactor mailboxes so that all
// writes to one order id execute one at a time, in arrival order.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	protoactor "github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a mutation did not start within the request
// timeout. The mutation is then never run.
var ErrTimeout = errors.New("actor: request timed out")

// Serializer spawns one child actor per key under a registry actor. The child
// lives while work for its key is queued or running.
type Serializer struct {
	system   *protoactor.ActorSystem
	registry *protoactor.PID
	timeout  time.Duration
	logger   *zap.Logger
}

const (
	workQueued int32 = iota
	workRunning
	workDropped
)

// Messages
type work struct {
	ctx   context.Context
	key   string
	fn    func(ctx context.Context) error
	state atomic.Int32
	done  chan error
}

// start moves queued work to running. It fails once the work was dropped.
func (w *work) start() bool {
	return w.state.CompareAndSwap(workQueued, workRunning)
}

// drop withdraws work that has not started. It reports false when fn is
// already running, in which case its result is still delivered on done.
func (w *work) drop() bool {
	return w.state.CompareAndSwap(workQueued, workDropped) || w.state.Load() == workDropped
}

type workDone struct {
	key string
}

func NewSerializer(timeout time.Duration, logger *zap.Logger) *Serializer {
	system := protoactor.NewActorSystem()
	props := protoactor.PropsFromProducer(func() protoactor.Actor {
		return &registryActor{logger: logger.Named("order-registry")}
	})
	return &Serializer{
		system:   system,
		registry: system.Root.Spawn(props),
		timeout:  timeout,
		logger:   logger,
	}
}

// Serialize runs fn after every earlier fn submitted for key has finished.
// fn receives ctx bounded by the request timeout. If the timeout or ctx ends
// while fn is still queued, fn is withdrawn and never runs; once fn has
// started, Serialize waits for it and returns its result. A panic in fn is
// returned as an error.
func (s *Serializer) Serialize(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	w := &work{ctx: ctx, key: key, fn: fn, done: make(chan error, 1)}
	s.system.Root.Send(s.registry, w)

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		if !w.drop() {
			return <-w.done
		}
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("Order mutation timed out in queue", zap.String("order_id", key))
			return fmt.Errorf("%w: order %s: %w", ErrTimeout, key, err)
		}
		return err
	}
}

// Shutdown stops the actor system. Pending work is dropped.
func (s *Serializer) Shutdown() {
	s.system.Shutdown()
}

type child struct {
	pid      *protoactor.PID
	inflight int
}

// registryActor routes work to the child that owns the key.
type registryActor struct {
	logger   *zap.Logger
	children map[string]*child
}

func (a *registryActor) Receive(ctx protoactor.Context) {
	switch msg := ctx.Message().(type) {
	case *protoactor.Started:
		a.children = make(map[string]*child)

	case *work:
		c, ok := a.children[msg.key]
		if !ok {
			key := msg.key
			props := protoactor.PropsFromProducer(func() protoactor.Actor {
				return &orderActor{key: key, logger: a.logger}
			})
			c = &child{pid: ctx.Spawn(props)}
			a.children[msg.key] = c
		}
		c.inflight++
		ctx.Send(c.pid, msg)

	case *workDone:
		c, ok := a.children[msg.key]
		if !ok {
			return
		}
		c.inflight--
		if c.inflight == 0 {
			ctx.Poison(c.pid)
			delete(a.children, msg.key)
		}
	}
}

// orderActor executes the work for a single key, one message at a time.
type orderActor struct {
	key    string
	logger *zap.Logger
}

func (a *orderActor) Receive(ctx protoactor.Context) {
	switch msg := ctx.Message().(type) {
	case *work:
		// the caller may have given up while the work sat in the mailbox
		if msg.ctx.Err() != nil {
			msg.drop()
		}
		if msg.start() {
			msg.done <- a.run(msg.ctx, msg.fn)
		}
		ctx.Send(ctx.Parent(), &workDone{key: a.key})
	}
}

func (a *orderActor) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Order mutation panicked", zap.String("order_id", a.key), zap.Any("panic", r))
			err = fmt.Errorf("actor: mutation of order %s panicked: %v", a.key, r)
		}
	}()
	return fn(ctx)
}
