package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/storekit/lib/engine"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var Logger = logger.GetLogger("coordinator")

// Record fields maintained by Insert
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

// Coordinator runs batched record operations against an engine.
// Every operation opens its own connection, fans out one sub-request per key and
// returns once all of them are terminal. Callbacks of an operation are invoked
// exactly once, after the connection was closed.
//
// Thread-safety: All methods are safe for concurrent use.
type Coordinator struct {
	eng       engine.Engine
	supported bool
	ready     atomic.Bool
	limit     int
	clock     *clock
	inflight  singleflight.Group
}

// Options configures a Coordinator
type Options struct {
	// MaxConcurrency bounds the sub-requests in flight per operation (<= 0 = unbounded)
	MaxConcurrency int
	// Now is the time source of createdAt/updatedAt (nil = time.Now)
	Now func() time.Time
}

// Target identifies the store an operation works on
type Target struct {
	DBName    string
	Version   uint64
	StoreName string
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%d/%s", t.DBName, t.Version, t.StoreName)
}

// New creates a coordinator for eng. A nil engine or an engine without the core
// features yields an unsupported coordinator, all its operations return ErrUnavailable.
func New(eng engine.Engine, opts *Options) *Coordinator {
	if opts == nil {
		opts = &Options{}
	}
	return &Coordinator{
		eng:       eng,
		supported: eng != nil && eng.SupportsFeature(engine.FeatureCore),
		limit:     opts.MaxConcurrency,
		clock:     newClock(opts.Now),
	}
}

// Supported reports whether the coordinator has a usable engine
func (c *Coordinator) Supported() bool {
	return c.supported
}

// Ready reports whether a schema reconciliation has completed
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// SetupResult is the explicit initialization result of Setup
type SetupResult struct {
	Supported bool
	Ready     bool
	Schemas   []SchemaResult
	Err       error // ErrUnavailable if not supported
}

// Setup probes the engine and reconciles the declared schemas
func (c *Coordinator) Setup(ctx context.Context, schemas []Schema) SetupResult {
	res := SetupResult{Supported: c.supported}
	if !c.supported {
		res.Err = c.unavailable("setup")
		return res
	}
	res.Schemas, res.Err = c.DefineSchemas(ctx, DefineOptions{Schemas: schemas})
	res.Ready = c.Ready()
	return res
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// unavailable logs the capability diagnostic and returns the error every operation of an
// unsupported coordinator returns
func (c *Coordinator) unavailable(op string) error {
	Logger.Errorf("%s: no usable storage engine, the operation was not executed", op)
	return newError(RetCUnavailable, op, "", ErrUnavailable)
}

// fanOut calls fn for every index in [0, n) on its own goroutine and returns once all calls returned.
// Each call must only write the result slot of its own index.
func (c *Coordinator) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// rejectUpgrade is the upgrade function of record operations, structure is only changed by DefineSchemas
func rejectUpgrade(tx engine.UpgradeTx) error {
	return fmt.Errorf("%w (stored version %d, requested %d)", ErrSchemaNotDefined, tx.OldVersion(), tx.NewVersion())
}

// connect opens the target database and checks that the target store exists.
// It returns the connection and the key path of the store.
func (c *Coordinator) connect(ctx context.Context, op string, t Target) (engine.Conn, string, error) {
	conn, err := c.eng.Open(ctx, t.DBName, t.Version, rejectUpgrade)
	if err != nil {
		Logger.Warningf("%s: failed to open %s: %v", op, t, err)
		countOpenFailure(op)
		return nil, "", newError(RetCConnectionOpen, op, "", err)
	}

	scope, err := conn.Store(t.StoreName, engine.ModeReadOnly)
	if err != nil {
		_ = conn.Close()
		Logger.Warningf("%s: failed to begin scope on %s: %v", op, t, err)
		countOpenFailure(op)
		return nil, "", newError(RetCConnectionOpen, op, "", err)
	}

	Logger.Debugf("%s: connection %s open on %s", op, conn.ID(), t)
	return conn, scope.KeyPath(), nil
}

// closeConn closes the connection of an operation, a close error is only logged
func closeConn(op string, conn engine.Conn) {
	if err := conn.Close(); err != nil {
		Logger.Warningf("%s: failed to close connection %s: %v", op, conn.ID(), err)
	}
}

// subError wraps the error of one key
func subError(op, key string, err error) error {
	return newError(RetCSubRequest, op, key, err)
}
