// Package recordctx implements the change-tracking staging area of
// spec §4.5: a Context buffers inserts/deletes keyed by
// (type_name, id, subspace), commits them atomically in one FDB
// transaction, restores its staging on failure, and serves
// fetch/model reads overlaid with pending changes. Grounded on
// core/state/db_state_writer.go's accumulate-then-flush shape (the
// teacher's state writer buffers account/storage mutations and a
// change-set, then flushes them against the underlying database
// inside one pass); this Context generalizes that shape to arbitrary
// record types plus index maintenance.
package recordctx

import (
	"context"
	"sync"
	"time"

	"github.com/graphene-db/fdbrecord/fdberr"
	"github.com/graphene-db/fdbrecord/fdblog"
	"github.com/graphene-db/fdbrecord/fdbkv"
	"github.com/graphene-db/fdbrecord/index"
	"github.com/graphene-db/fdbrecord/keyspace"
	"github.com/graphene-db/fdbrecord/schema"
	"github.com/graphene-db/fdbrecord/store"
)

// ItemKey identifies one staged item (spec §4.5: "ItemKey =
// (type_name, id_packed, subspace_prefix)").
type ItemKey struct {
	TypeName       string
	IDPacked       string
	SubspacePrefix string
}

func itemKeyFor(typeName string, id keyspace.Tuple, subspace keyspace.Subspace) ItemKey {
	return ItemKey{TypeName: typeName, IDPacked: string(id.Pack()), SubspacePrefix: string(subspace.Prefix())}
}

type stagedItem struct {
	typeName string
	id       keyspace.Tuple
	subspace keyspace.Subspace
	payload  []byte
	record   interface{}
}

// Predicate filters decoded records during Fetch.
type Predicate func(record interface{}) bool

// Option configures a Context at construction.
type Option func(*Context)

// WithAutosave enables the deferred-save behavior of spec §4.5
// ("Autosave (optional)").
func WithAutosave(enabled bool) Option {
	return func(c *Context) { c.autosave = enabled }
}

// WithAutosaveDelay overrides the default ~10ms autosave latency.
func WithAutosaveDelay(d time.Duration) Option {
	return func(c *Context) { c.autosaveDelay = d }
}

// WithSaveHook registers a callback invoked at the end of every Save
// attempt with whether it committed, letting a Container report
// prometheus counters without this package importing prometheus
// itself.
func WithSaveHook(hook func(success bool)) Option {
	return func(c *Context) { c.saveHook = hook }
}

// Context is a thread-safe staging area (spec §4.5).
type Context struct {
	db      fdbkv.Database
	schema  *schema.Schema
	manager *index.Manager

	mu            sync.Mutex
	inserted      map[ItemKey]*stagedItem
	insertedOrder []ItemKey
	deleted       map[ItemKey]*stagedItem
	deletedOrder  []ItemKey
	isSaving      bool

	autosave        bool
	autosaveDelay   time.Duration
	autosaveMu      sync.Mutex
	autosavePending bool
	saveHook        func(success bool)

	storeCacheMu sync.Mutex
	storeCache   map[string]*store.Store

	// defaultSubspace is used by Fetch/Model's disk scan when no
	// per-call subspace is supplied; Insert/Delete always take an
	// explicit subspace so a single Context can stage items destined
	// for distinct subspaces (spec seed scenario 3).
	defaultSubspace keyspace.Subspace
}

// New builds a Context rooted at defaultSubspace for its Fetch/Model
// disk scans.
func New(db fdbkv.Database, sch *schema.Schema, manager *index.Manager, defaultSubspace keyspace.Subspace, opts ...Option) *Context {
	c := &Context{
		db:              db,
		schema:          sch,
		manager:         manager,
		inserted:        make(map[ItemKey]*stagedItem),
		deleted:         make(map[ItemKey]*stagedItem),
		storeCache:      make(map[string]*store.Store),
		defaultSubspace: defaultSubspace,
		autosaveDelay:   10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) storeFor(subspace keyspace.Subspace) *store.Store {
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

// Insert stages record for type typeName under id/subspace, encoding
// it through the schema's codec. Removes any pending delete for the
// same key (spec §4.5: "insert: writes into inserted, removes from
// deleted").
func (c *Context) Insert(typeName string, id keyspace.Tuple, record interface{}, subspace keyspace.Subspace) error {
	entity, ok := c.schema.EntityFor(typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	payload, err := entity.Codec.Encode(record)
	if err != nil {
		return err
	}

	key := itemKeyFor(typeName, id, subspace)
	item := &stagedItem{typeName: typeName, id: id, subspace: subspace, payload: payload, record: record}

	c.mu.Lock()
	if _, ok := c.deleted[key]; ok {
		delete(c.deleted, key)
		c.deletedOrder = removeKey(c.deletedOrder, key)
	}
	if _, exists := c.inserted[key]; !exists {
		c.insertedOrder = append(c.insertedOrder, key)
	}
	c.inserted[key] = item
	c.mu.Unlock()

	c.scheduleAutosave()
	return nil
}

// Delete stages a removal. If the key is still only pending (not yet
// persisted), it is simply dropped from inserted — cancellation (spec
// §4.5: "if the key is currently in inserted ... simply drop it").
func (c *Context) Delete(typeName string, id keyspace.Tuple, subspace keyspace.Subspace) {
	key := itemKeyFor(typeName, id, subspace)

	c.mu.Lock()
	if _, ok := c.inserted[key]; ok {
		delete(c.inserted, key)
		c.insertedOrder = removeKey(c.insertedOrder, key)
		c.mu.Unlock()
		return
	}
	if _, exists := c.deleted[key]; !exists {
		c.deletedOrder = append(c.deletedOrder, key)
	}
	c.deleted[key] = &stagedItem{typeName: typeName, id: id, subspace: subspace}
	c.mu.Unlock()

	c.scheduleAutosave()
}

func removeKey(order []ItemKey, key ItemKey) []ItemKey {
	for i, k := range order {
		if k == key {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// HasChanges reports whether any insert or delete is currently staged.
func (c *Context) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inserted) > 0 || len(c.deleted) > 0
}

// Save implements the hard contract of spec §4.5: snapshot-and-clear
// the staging sets under the lock, then do all transactional work
// lock-free, restoring the snapshot on any error.
//
// Open Question decision (spec §9 "two coexisting spellings of the
// concurrent save policy"): this Context REJECTS an overlapping save
// with fdberr.ConcurrentSaveNotAllowed rather than silently returning.
// A second Save call that arrives while the staging lock is held by a
// first Save already past its snapshot-and-clear step observes
// isSaving == true and fails fast instead of treating the empty
// staging as a no-op success — callers that want at-most-once
// semantics should check HasChanges before calling Save, or simply
// retry.
func (c *Context) Save(ctx context.Context) error {
	c.mu.Lock()
	if c.isSaving {
		c.mu.Unlock()
		return fdberr.New(fdberr.ConcurrentSaveNotAllowed, "", "a save is already in flight")
	}
	snapInserted := c.inserted
	snapInsertedOrder := c.insertedOrder
	snapDeleted := c.deleted
	snapDeletedOrder := c.deletedOrder
	c.inserted = make(map[ItemKey]*stagedItem)
	c.insertedOrder = nil
	c.deleted = make(map[ItemKey]*stagedItem)
	c.deletedOrder = nil
	c.isSaving = true
	c.mu.Unlock()

	_, err := c.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		for _, key := range snapInsertedOrder {
			item := snapInserted[key]
			if err := c.applyInsert(ctx, txn, item); err != nil {
				return nil, err
			}
		}
		for _, key := range snapDeletedOrder {
			item := snapDeleted[key]
			if err := c.applyDelete(ctx, txn, item); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSaving = false
	if err != nil {
		// Union-style restore: a key that already has a newer staged
		// change (inserted or deleted again since the snapshot was
		// taken) keeps that newer change; only keys untouched since the
		// snapshot get the old entry restored (spec §4.5 step 4:
		// "later explicit changes supersede").
		for _, key := range snapInsertedOrder {
			_, hasInsert := c.inserted[key]
			_, hasDelete := c.deleted[key]
			if hasInsert || hasDelete {
				continue
			}
			c.insertedOrder = append(c.insertedOrder, key)
			c.inserted[key] = snapInserted[key]
		}
		for _, key := range snapDeletedOrder {
			_, hasInsert := c.inserted[key]
			_, hasDelete := c.deleted[key]
			if hasInsert || hasDelete {
				continue
			}
			c.deletedOrder = append(c.deletedOrder, key)
			c.deleted[key] = snapDeleted[key]
		}
		if c.saveHook != nil {
			c.saveHook(false)
		}
		return err
	}
	if c.saveHook != nil {
		c.saveHook(true)
	}
	return nil
}

func (c *Context) applyInsert(ctx context.Context, txn fdbkv.Transaction, item *stagedItem) error {
	s := c.storeFor(item.subspace)
	entity, ok := c.schema.EntityFor(item.typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, item.typeName, "unknown entity type")
	}

	var oldEval index.Evaluator
	existing, err := s.Load(ctx, txn, item.typeName, item.id, false)
	if err != nil {
		return err
	}
	if existing != nil {
		oldRecord, err := entity.DecodeRecord(existing)
		if err != nil {
			return err
		}
		oldEval = entity.Evaluator(oldRecord)
	}
	newEval := entity.Evaluator(item.record)

	if err := c.maintainIndexes(ctx, txn, item.typeName, item.id, item.subspace, oldEval, newEval); err != nil {
		return err
	}
	s.Save(txn, item.typeName, item.id, item.payload)
	return nil
}

func (c *Context) applyDelete(ctx context.Context, txn fdbkv.Transaction, item *stagedItem) error {
	s := c.storeFor(item.subspace)
	entity, ok := c.schema.EntityFor(item.typeName)
	if !ok {
		return fdberr.New(fdberr.NotFound, item.typeName, "unknown entity type")
	}

	existing, err := s.Load(ctx, txn, item.typeName, item.id, false)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	oldRecord, err := entity.DecodeRecord(existing)
	if err != nil {
		return err
	}
	oldEval := entity.Evaluator(oldRecord)

	if err := c.maintainIndexes(ctx, txn, item.typeName, item.id, item.subspace, oldEval, nil); err != nil {
		return err
	}
	s.Delete(txn, item.typeName, item.id)
	return nil
}

func (c *Context) maintainIndexes(ctx context.Context, txn fdbkv.Transaction, typeName string, id keyspace.Tuple, subspace keyspace.Subspace, oldEval, newEval index.Evaluator) error {
	descriptors := c.manager.ForType(typeName)
	if len(descriptors) == 0 {
		return nil
	}
	registry := index.NewStateRegistry(subspace)
	for _, d := range descriptors {
		state, err := registry.State(ctx, txn, d.Name)
		if err != nil {
			return err
		}
		if state == index.StateDisabled {
			continue
		}
		maintainer := index.MakeMaintainer(d, subspace)
		if err := maintainer.Update(ctx, txn, id, oldEval, newEval); err != nil {
			return err
		}
	}
	return nil
}

// Fetch scans typeName's records on disk (under defaultSubspace),
// overlays pending staged changes, and returns every record matching
// predicate. Overlay rules (spec §4.5): exclude keys present in
// deleted, include matching keys present in inserted not yet on disk,
// dedup by (type, id) giving precedence to inserted.
func (c *Context) Fetch(ctx context.Context, typeName string, predicate Predicate) ([]interface{}, error) {
	entity, ok := c.schema.EntityFor(typeName)
	if !ok {
		return nil, fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}

	c.mu.Lock()
	deletedSnapshot := make(map[string]bool)
	for k := range c.deleted {
		if k.TypeName == typeName {
			deletedSnapshot[k.IDPacked] = true
		}
	}
	insertedSnapshot := make(map[string]interface{})
	for k, item := range c.inserted {
		if k.TypeName == typeName {
			insertedSnapshot[k.IDPacked] = item.record
		}
	}
	c.mu.Unlock()

	s := c.storeFor(c.defaultSubspace)
	var out []interface{}
	_, err := c.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		recs, err := s.Scan(ctx, txn, typeName, true)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, r := range recs {
			idKey := string(r.ID.Pack())
			if deletedSnapshot[idKey] {
				continue
			}
			seen[idKey] = true
			record, ok := insertedSnapshot[idKey]
			if !ok {
				record, err = entity.DecodeRecord(r.Payload)
				if err != nil {
					return nil, err
				}
			}
			if predicate == nil || predicate(record) {
				out = append(out, record)
			}
		}
		for idKey, record := range insertedSnapshot {
			if seen[idKey] {
				continue
			}
			if predicate == nil || predicate(record) {
				out = append(out, record)
			}
		}
		return nil, nil
	})
	return out, err
}

// Model fetches the single record of typeName with the given id,
// applying the same overlay rules as Fetch.
func (c *Context) Model(ctx context.Context, typeName string, id keyspace.Tuple) (interface{}, bool, error) {
	key := itemKeyFor(typeName, id, c.defaultSubspace)

	c.mu.Lock()
	if _, deleted := c.deleted[key]; deleted {
		c.mu.Unlock()
		return nil, false, nil
	}
	if item, ok := c.inserted[key]; ok {
		c.mu.Unlock()
		return item.record, true, nil
	}
	c.mu.Unlock()

	entity, ok := c.schema.EntityFor(typeName)
	if !ok {
		return nil, false, fdberr.New(fdberr.NotFound, typeName, "unknown entity type")
	}
	s := c.storeFor(c.defaultSubspace)
	var record interface{}
	var found bool
	_, err := c.db.WithTransaction(ctx, func(ctx context.Context, txn fdbkv.Transaction) (interface{}, error) {
		payload, err := s.Load(ctx, txn, typeName, id, false)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			return nil, nil
		}
		record, err = entity.DecodeRecord(payload)
		found = err == nil
		return nil, err
	})
	if err != nil {
		return nil, false, err
	}
	return record, found, nil
}

// PerformAndSave runs fn, then Saves whatever it staged, regardless of
// whether fn itself returned an error (the caller's mutations up to
// the point of failure are still flushed as a single unit, mirroring
// the rest of this Context's "stage now, flush once" discipline).
func (c *Context) PerformAndSave(ctx context.Context, fn func(c *Context) error) error {
	fnErr := fn(c)
	saveErr := c.Save(ctx)
	if fnErr != nil {
		return fnErr
	}
	return saveErr
}

// scheduleAutosave arms a single deferred Save, coalescing bursts of
// insert/delete calls into one flush (spec §4.5 "Autosave"). Errors
// are logged through fdblog rather than dropped.
func (c *Context) scheduleAutosave() {
	if !c.autosave {
		return
	}
	c.autosaveMu.Lock()
	if c.autosavePending {
		c.autosaveMu.Unlock()
		return
	}
	c.autosavePending = true
	c.autosaveMu.Unlock()

	time.AfterFunc(c.autosaveDelay, func() {
		c.autosaveMu.Lock()
		c.autosavePending = false
		c.autosaveMu.Unlock()

		if err := c.Save(context.Background()); err != nil {
			fdblog.WithComponent("autosave").Error().Err(err).Msg("autosave failed")
		}
	})
}
