// Package container implements the top-level lifecycle object of spec
// §4.6: it opens the database, adopts a DirectoryLayer, owns the
// namespace root, caches Store handles, and lazily builds the main
// Context. Grounded on ethdb's fluent
// NewLMDB().InMem().MustOpen(ctx) builder idiom and BoltDatabase's
// cached-handle pattern, generalized from a concrete storage-engine
// builder to a functional-options Container constructor.
package container

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdblog"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/migrations"
	"github.com/graphene-db/fdbrecord/recordctx"
	"github.com/graphene-db/fdbrecord/schema"
	"github.com/graphene-db/fdbrecord/store"
)

// Option configures a Container at construction. Exactly one of
// WithRootSubspace / WithDirectoryPath must be supplied, locking the
// root-subspace flavor for the Container's lifetime (spec §4.6: "Either
// choice is locked at construction").
type Option func(*config)

type config struct {
	rootPrefix    []byte
	directoryPath []string
	autosave      bool
	registerer    prometheus.Registerer
	schemas       []*schema.Schema
	stages        []migrations.Stage
}

// WithRootSubspace locks the container to the shared, fixed-prefix
// layout (spec §4.6: "shared layout uses a fixed single-byte prefix").
func WithRootSubspace(prefix []byte) Option {
	return func(c *config) { c.rootPrefix = prefix }
}

// WithDirectoryPath locks the container to the multi-tenant layout,
// resolving path through the DirectoryLayer at Open time (spec §4.6:
// "Multi-tenant layout mandates metadata_subspace = root/_metadata").
func WithDirectoryPath(path []string) Option {
	return func(c *config) { c.directoryPath = path }
}

// WithAutosave enables autosave on the lazily-constructed main context.
func WithAutosave(enabled bool) Option {
	return func(c *config) { c.autosave = enabled }
}

// WithRegisterer supplies a prometheus.Registerer to register this
// Container's metrics with. Without it, the metrics are counted but
// not registered with any registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithMigrations supplies the full ascending-version schema chain and
// the stage connecting each adjacent pair, enabling Container.Migrate
// / MigrateIfNeeded (spec §4.7). schemas[len(schemas)-1] should match
// the schema this Container is opened with.
func WithMigrations(schemas []*schema.Schema, stages []migrations.Stage) Option {
	return func(c *config) { c.schemas = schemas; c.stages = stages }
}

// metrics bundles the Domain Stack's prometheus wiring (SPEC_FULL.md §3:
// "a prometheus.CounterVec for saves/commits/restores keyed by
// outcome"), registered once per Container.
type metrics struct {
	saveTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		saveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fdbrecord",
			Subsystem: "context",
			Name:      "save_total",
			Help:      "Context.Save attempts, labeled by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.saveTotal)
	}
	return m
}

// Container is the top-level lifecycle object of spec §4.6.
type Container struct {
	db        fdbkv.Database
	directory fdbkv.DirectoryLayer
	subspace  keyspace.Subspace
	schema    *schema.Schema
	manager   *index.Manager
	metrics   *metrics
	engine    *migrations.Engine

	autosave bool

	storeCacheMu sync.Mutex
	storeCache   map[string]*store.Store

	mainCtxOnce sync.Once
	mainCtx     *recordctx.Context
}

// Open builds a Container from an already-open database handle, a
// DirectoryLayer, and a Schema. Exactly one root-subspace option must be
// supplied (spec §4.6: "database (via an external factory); creates or
// adopts a DirectoryLayer instance").
func Open(ctx context.Context, db fdbkv.Database, directory fdbkv.DirectoryLayer, sch *schema.Schema, opts ...Option) (*Container, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.rootPrefix == nil && cfg.directoryPath == nil {
		return nil, fdberr.New(fdberr.InvalidArgument, "", "container.Open requires WithRootSubspace or WithDirectoryPath")
	}
	if cfg.rootPrefix != nil && cfg.directoryPath != nil {
		return nil, fdberr.New(fdberr.InvalidArgument, "", "container.Open accepts only one of WithRootSubspace / WithDirectoryPath")
	}

	var sub keyspace.Subspace
	if cfg.rootPrefix != nil {
		sub = keyspace.NewSubspace(cfg.rootPrefix)
	} else {
		prefix, err := db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
			return directory.CreateOrOpen(ctx, txn, cfg.directoryPath)
		})
		if err != nil {
			return nil, err
		}
		sub = keyspace.NewSubspace(prefix.([]byte))
	}

	manager := index.NewManager(index.NewStateRegistry(sub))
	if sch != nil {
		if err := manager.RegisterMany(sch.AllIndexes()); err != nil {
			return nil, err
		}
	}

	c := &Container{
		db:         db,
		directory:  directory,
		subspace:   sub,
		schema:     sch,
		manager:    manager,
		metrics:    newMetrics(cfg.registerer),
		autosave:   cfg.autosave,
		storeCache: make(map[string]*store.Store),
	}
	if len(cfg.schemas) > 0 {
		c.engine = migrations.New(db, sub, manager, cfg.schemas, cfg.stages)
	}
	logger.Info().Bytes("prefix", sub.Prefix()).Msg("container opened")
	return c, nil
}

// Migrate runs the migration chain to target, delegating to the
// Engine configured via WithMigrations (spec §6 "migrate(target_version)").
func (c *Container) Migrate(ctx context.Context, target schema.Version) error {
	if c.engine == nil {
		return fdberr.New(fdberr.InvalidArgument, "", "container opened without WithMigrations")
	}
	return c.engine.Migrate(ctx, target)
}

// MigrateIfNeeded migrates to the highest version in the configured
// schema chain (spec §6 "migrate_if_needed()"); a no-op if no
// migrations were configured at all.
func (c *Container) MigrateIfNeeded(ctx context.Context) error {
	if c.engine == nil {
		return nil
	}
	return c.engine.MigrateIfNeeded(ctx)
}

// Subspace returns the container's namespace root.
func (c *Container) Subspace() keyspace.Subspace { return c.subspace }

// Schema returns the schema the container was opened with.
func (c *Container) Schema() *schema.Schema { return c.schema }

// Manager returns the process-local index manager.
func (c *Container) Manager() *index.Manager { return c.manager }

// Database returns the underlying database handle, for callers (e.g.
// migrations.Engine) that need to run their own transactions.
func (c *Container) Database() fdbkv.Database { return c.db }

// Directory returns the adopted directory layer.
func (c *Container) Directory() fdbkv.DirectoryLayer { return c.directory }

// Store returns the cached Store handle for subspace, constructing and
// caching one on first use (spec §4.6: "Maintains a concurrency-safe
// Store cache keyed by subspace prefix bytes").
func (c *Container) Store(subspace keyspace.Subspace) *store.Store {
	c.storeCacheMu.Lock()
	defer c.storeCacheMu.Unlock()
	key := string(subspace.Prefix())
	if s, ok := c.storeCache[key]; ok {
		return s
	}
	s := store.New(subspace)
	c.storeCache[key] = s
	return s
}

// WithTransaction runs fn inside an FDB transaction with automatic
// retry on retriable errors (spec §4.6 "with_transaction(fn)").
func (c *Container) WithTransaction(ctx context.Context, fn func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error)) (interface{}, error) {
	return c.db.WithTransaction(ctx, fn)
}

// MainContext returns the lazily-constructed main Context (spec §4.6:
// "Owns the main context, constructed lazily on first access").
func (c *Container) MainContext() *recordctx.Context {
	c.mainCtxOnce.Do(func() {
		c.mainCtx = c.NewContext(recordctx.WithAutosave(c.autosave))
	})
	return c.mainCtx
}

// NewContext builds an additional Context for background work (spec
// §4.6 "new_context()"), wired with a saveHook that reports
// save/commit/restore outcomes to this Container's prometheus counters.
func (c *Container) NewContext(opts ...recordctx.Option) *recordctx.Context {
	hook := recordctx.WithSaveHook(func(success bool) {
		outcome := "restored"
		if success {
			outcome = "committed"
		}
		c.metrics.saveTotal.WithLabelValues(outcome).Inc()
	})
	allOpts := append([]recordctx.Option{hook}, opts...)
	return recordctx.New(c.db, c.schema, c.manager, c.subspace, allOpts...)
}

// GetOrOpen delegates to the directory layer (spec §4.6 "get_or_open(path)").
func (c *Container) GetOrOpen(ctx context.Context, txn fdbkv.Transaction, path []string) (keyspace.Subspace, error) {
	prefix, err := c.directory.CreateOrOpen(ctx, txn, path)
	if err != nil {
		return keyspace.Subspace{}, err
	}
	return keyspace.NewSubspace(prefix), nil
}

// Create delegates to the directory layer (spec §4.6 "create(path, [prefix])").
func (c *Container) Create(ctx context.Context, txn fdbkv.Transaction, path []string, prefix []byte) (keyspace.Subspace, error) {
	p, err := c.directory.Create(ctx, txn, path, prefix)
	if err != nil {
		return keyspace.Subspace{}, err
	}
	return keyspace.NewSubspace(p), nil
}

// OpenPath delegates to the directory layer (spec §4.6 "open(path)").
func (c *Container) OpenPath(ctx context.Context, txn fdbkv.Transaction, path []string) (keyspace.Subspace, error) {
	prefix, err := c.directory.Open(ctx, txn, path)
	if err != nil {
		return keyspace.Subspace{}, err
	}
	return keyspace.NewSubspace(prefix), nil
}

// Move delegates to the directory layer (spec §4.6 "move(old, new)").
func (c *Container) Move(ctx context.Context, txn fdbkv.Transaction, oldPath, newPath []string) (keyspace.Subspace, error) {
	prefix, err := c.directory.Move(ctx, txn, oldPath, newPath)
	if err != nil {
		return keyspace.Subspace{}, err
	}
	return keyspace.NewSubspace(prefix), nil
}

// Remove delegates to the directory layer (spec §4.6 "remove(path)").
func (c *Container) Remove(ctx context.Context, txn fdbkv.Transaction, path []string) error {
	return c.directory.Remove(ctx, txn, path)
}

// Exists delegates to the directory layer (spec §4.6 "exists(path)").
func (c *Container) Exists(ctx context.Context, txn fdbkv.Transaction, path []string) (bool, error) {
	return c.directory.Exists(ctx, txn, path)
}

// CurrentSchemaVersion reads _metadata/schema/version, accepting both
// legacy 64-bit and native-integer tuple element shapes (spec §4.6).
// Returns (Version{}, false, nil) when unset.
func (c *Container) CurrentSchemaVersion(ctx context.Context, txn fdbkv.Transaction) (keyspace.Version, bool, error) {
	raw, err := txn.Get(ctx, c.subspace.SchemaVersionKey(), false)
	if err != nil {
		return keyspace.Version{}, false, err
	}
	if raw == nil {
		return keyspace.Version{}, false, nil
	}
	t, err := keyspace.Unpack(raw)
	if err != nil {
		return keyspace.Version{}, false, err
	}
	v, err := keyspace.VersionFromTuple(t)
	if err != nil {
		return keyspace.Version{}, false, err
	}
	return v, true, nil
}

// SetCurrentSchemaVersion writes the three-integer tuple (spec §4.6:
// "writes the three-integer tuple"), always in the native-integer shape.
func (c *Container) SetCurrentSchemaVersion(txn fdbkv.Transaction, v keyspace.Version) {
	txn.Set(c.subspace.SchemaVersionKey(), v.Tuple().Pack())
}

// FormerIndexes surfaces the _metadata/formerIndexes/* tombstones as a
// queryable list (Supplemented Features: generalizing
// dbutils.DeprecatedBuckets from a write-only audit trail to something
// an operator can inspect before vacuuming).
func (c *Container) FormerIndexes(ctx context.Context, txn fdbkv.Transaction) ([]string, error) {
	begin := c.subspace.MetadataKey("formerIndexes")
	end := keyspace.StrInc(begin)
	kvs, errc := txn.GetRange(ctx, fdbkv.KeySelector(begin), fdbkv.FirstGreaterThan(end), 0, true)
	var names []string
	for kv := range kvs {
		rest := kv.Key[len(begin):]
		t, err := keyspace.Unpack(rest)
		if err != nil {
			return nil, err
		}
		if len(t) > 0 {
			if name, ok := t[0].(string); ok {
				names = append(names, name)
			}
		}
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return names, nil
}

var logger = fdblog.WithComponent("container")
