package controller

import (
	"context"
	"time"

	"github.com/r3e-network/mgmtctl/infrastructure/cache"
	"github.com/r3e-network/mgmtctl/internal/address"
	"github.com/r3e-network/mgmtctl/internal/dmr"
	"github.com/r3e-network/mgmtctl/internal/envelope"
	"github.com/r3e-network/mgmtctl/internal/model"
	"github.com/r3e-network/mgmtctl/internal/registry"
)

// ModelController is the entry point operations are submitted to: it
// routes to a proxy or a local handler, builds the operation context, and
// on success writes changes back to the live tree and triggers best-effort
// persistence (spec.md §4.1's "Model Controller core").
type ModelController struct {
	tree       *model.Tree
	registry   *registry.Registry
	persister  Persister
	composite  CompositeEngine
	queryCache *cache.TTLCache
	logger     warnLogger
}

// Config wires a ModelController's collaborators. Composite may be nil
// until the composite engine is constructed (it in turn needs a reference
// back to this controller's registry/tree/persister, so callers typically
// build the controller first, then call SetCompositeEngine).
type Config struct {
	Tree      *model.Tree
	Registry  *registry.Registry
	Persister Persister
	Composite CompositeEngine
	Logger    warnLogger
	// QueryCacheTTL enables caching of read-resource results keyed by
	// address and recursive flag when non-zero; any other operation invalidates the
	// whole cache on success, since this implementation does not track
	// which addresses a mutation actually touched.
	QueryCacheTTL time.Duration
}

// New constructs a ModelController. Tree and Registry must be non-nil.
func New(cfg Config) *ModelController {
	c := &ModelController{
		tree:      cfg.Tree,
		registry:  cfg.Registry,
		persister: cfg.Persister,
		composite: cfg.Composite,
		logger:    cfg.Logger,
	}
	if cfg.QueryCacheTTL > 0 {
		c.queryCache = cache.NewTTLCache(cfg.QueryCacheTTL)
	}
	return c
}

// SetCompositeEngine wires the composite engine after construction,
// breaking the controller/composite construction-order cycle (the
// composite engine needs this controller's registry and tree).
func (c *ModelController) SetCompositeEngine(e CompositeEngine) { c.composite = e }

// Registry returns the controller's registration trie, for wiring handlers
// and proxies at startup.
func (c *ModelController) Registry() *registry.Registry { return c.registry }

// Tree returns the controller's live model tree.
func (c *ModelController) Tree() *model.Tree { return c.tree }

func (c *ModelController) deps() Deps {
	return Deps{
		Registry:  c.registry,
		Target:    c.tree,
		Persister: c.persister,
		Composite: c.composite,
		Logger:    c.logger,
	}
}

// channelSink bridges the fragment/terminal callback interface to a single
// blocking Execute() call. It implements SubmodelCarrier so its envelope's
// "result" is the final submodel the handler left behind, matching how a
// query handler reports what it read (spec.md §3's result envelope).
type channelSink struct {
	result chan *dmr.Value
	opCtx  *registry.OperationContext
}

func newChannelSink() *channelSink {
	return &channelSink{result: make(chan *dmr.Value, 1)}
}

func (s *channelSink) SetOpCtx(ctx *registry.OperationContext) { s.opCtx = ctx }

func (s *channelSink) Fragment(location []string, value *dmr.Value) {}

func (s *channelSink) Complete(compensatingOp *dmr.Value) {
	result := dmr.Undefined()
	if s.opCtx != nil {
		result = s.opCtx.Submodel
	}
	s.result <- envelope.Success(result, compensatingOp)
}

func (s *channelSink) Failed(description string) {
	s.result <- envelope.Failed(description)
}

func (s *channelSink) Cancelled() {
	s.result <- envelope.Cancelled()
}

var (
	_ registry.ResultSink = (*channelSink)(nil)
	_ SubmodelCarrier     = (*channelSink)(nil)
)

// Execute runs op synchronously: it blocks until one of
// success/failed/cancelled (spec.md §4.1's "execute(op) → Result"). A
// context cancellation propagates as the operation's own cancellation.
func (c *ModelController) Execute(ctx context.Context, op *dmr.Value) *dmr.Value {
	opName := op.Get("operation").AsString()

	if c.queryCache != nil && opName == "read-resource" {
		key := queryCacheKey(op)
		if cached, ok := c.queryCache.Get(ctx, key); ok {
			return cached.(*dmr.Value)
		}
		env := c.executeUncached(ctx, op)
		if envelope.IsSuccess(env) {
			c.queryCache.Set(ctx, key, env)
		}
		return env
	}

	env := c.executeUncached(ctx, op)
	if opName != "read-resource" && envelope.IsSuccess(env) {
		c.InvalidateQueryCache()
	}
	return env
}

func (c *ModelController) executeUncached(ctx context.Context, op *dmr.Value) *dmr.Value {
	sink := newChannelSink()
	Dispatch(ctx, c.deps(), op, sink)
	select {
	case env := <-sink.result:
		return env
	case <-ctx.Done():
		return envelope.Cancelled()
	}
}

// queryCacheKey derives a cache key from a read-resource operation's
// address and recursive flag. A malformed address still yields a stable
// (if useless) key rather than an error — Dispatch will fail the operation
// itself when it re-parses the same address.
func queryCacheKey(op *dmr.Value) string {
	addr, _ := address.FromValue(op.Get("address"))
	recursive := "0"
	if op.Get("recursive").AsBool() {
		recursive = "1"
	}
	return addr.String() + "|" + recursive
}

// ExecuteAsync runs op against sink asynchronously, returning a handle the
// caller can cancel or, after success, read the compensating operation
// from (spec.md §4.1's "execute(op, sink) → OperationHandle").
func (c *ModelController) ExecuteAsync(ctx context.Context, op *dmr.Value, sink registry.ResultSink) OperationHandle {
	return Dispatch(ctx, c.deps(), op, sink)
}

// InvalidateQueryCache drops every cached read-resource result. Called
// after any successful non-query operation, since this implementation does
// not track which addresses a mutation touched.
func (c *ModelController) InvalidateQueryCache() {
	if c.queryCache != nil {
		c.queryCache.InvalidateAll()
	}
}
