/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/datamanager/types"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tomoncle/datamanager/database"

// QueryBuilder customizes a select query before it is scanned.
type QueryBuilder func(q *bun.SelectQuery) *bun.SelectQuery

// DataContext is a connected session with change tracking. Mutations are
// staged in memory and written to the database only by SaveChanges.
type DataContext interface {
	// Add stages entity for insertion.
	Add(ctx context.Context, entity any) error
	// Remove stages entity for deletion.
	Remove(ctx context.Context, entity any) error
	// Attach starts tracking entity as Unchanged.
	Attach(ctx context.Context, entity any) error
	// Find resolves id through the identity map, then the database. dest is
	// a pointer to a zero model used when the row has to be loaded; a dest
	// that is already tracked is left untouched and a new instance is used.
	// It returns the tracked instance, or nil when no row has that id.
	Find(ctx context.Context, dest any, id int64) (any, error)
	// Select runs an untracked query into model.
	Select(ctx context.Context, model any, build QueryBuilder) error
	// SelectByID runs an untracked query for the row whose primary key is
	// id. It returns sql.ErrNoRows when there is none.
	SelectByID(ctx context.Context, dest any, id int64, build QueryBuilder) error
	// Count returns the number of rows matching the query, untracked.
	Count(ctx context.Context, model any, build QueryBuilder) (int, error)
	// Load runs a tracked query into dest, a pointer to a slice of model
	// pointers, resolving rows to already tracked instances.
	Load(ctx context.Context, dest any, build QueryBuilder) error
	// State returns the tracking state of entity.
	State(entity any) types.EntityState
	// SetState moves entity to state, attaching it first when needed.
	SetState(ctx context.Context, entity any, state types.EntityState) error
	// SaveChanges writes every staged change in one transaction and returns
	// the number of affected rows.
	SaveChanges(ctx context.Context) (int, error)
	// Close releases the session. Further calls fail with ErrSessionClosed.
	Close() error
}

var _ DataContext = (*Session)(nil)

// Session is the Bun-backed DataContext.
type Session struct {
	id      string
	db      *bun.DB
	logger  Logger
	metrics *Metrics
	tracer  trace.Tracer
	ownsDB  bool

	mu      sync.Mutex
	tracker *changeTracker
	closed  bool
}

type SessionOption func(*Session)

// WithLogger overrides the global logger for one session.
func WithLogger(l Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOwnedDB makes Close also close the underlying *bun.DB.
func WithOwnedDB() SessionOption {
	return func(s *Session) { s.ownsDB = true }
}

func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func WithTracer(t trace.Tracer) SessionOption {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewSession opens a change-tracking session over db.
func NewSession(db *bun.DB, opts ...SessionOption) (*Session, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database cannot be nil", ErrInvalidArgument)
	}
	s := &Session{
		id:      uuid.NewString(),
		db:      db,
		logger:  GetLogger(),
		tracer:  otel.Tracer(tracerName),
		tracker: newChangeTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// DB exposes the underlying Bun database for queries the session does not
// cover. Writes issued through it bypass change tracking.
func (s *Session) DB() *bun.DB { return s.db }

func (s *Session) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	return nil
}

func (s *Session) Add(ctx context.Context, entity any) error {
	meta, err := describeEntity(s.db, entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if e := s.tracker.lookup(entity); e != nil {
		switch e.state {
		case types.Added:
			return nil
		case types.Deleted:
			s.tracker.setState(e, types.Modified)
			return nil
		default:
			return fmt.Errorf("%w: %s is already tracked as %s", ErrIdentityConflict, meta.name(), e.state)
		}
	}
	if id, ok := meta.keyOf(entity); ok {
		if other := s.tracker.lookupKey(meta.typ, id); other != nil {
			return fmt.Errorf("%w: another %s with id %d is tracked as %s",
				ErrIdentityConflict, meta.name(), id, other.state)
		}
	}
	s.tracker.track(entity, meta, types.Added)
	return nil
}

func (s *Session) Remove(ctx context.Context, entity any) error {
	return s.SetState(ctx, entity, types.Deleted)
}

func (s *Session) Attach(ctx context.Context, entity any) error {
	meta, err := describeEntity(s.db, entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err = s.attachLocked(entity, meta)
	return err
}

// attachLocked tracks entity as Unchanged, or as Added when its key is not
// set yet. A different Unchanged or Modified instance with the same key is
// replaced by entity.
func (s *Session) attachLocked(entity any, meta *entityMeta) (*entry, error) {
	if e := s.tracker.lookup(entity); e != nil {
		return e, nil
	}
	id, ok := meta.keyOf(entity)
	if !ok {
		return s.tracker.track(entity, meta, types.Added), nil
	}
	if other := s.tracker.lookupKey(meta.typ, id); other != nil {
		if other.state == types.Added || other.state == types.Deleted {
			return nil, fmt.Errorf("%w: another %s with id %d is tracked as %s",
				ErrIdentityConflict, meta.name(), id, other.state)
		}
		s.tracker.detach(other)
	}
	return s.tracker.track(entity, meta, types.Unchanged), nil
}

func (s *Session) SetState(ctx context.Context, entity any, state types.EntityState) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: unknown entity state %d", ErrInvalidArgument, state)
	}
	meta, err := describeEntity(s.db, entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	e := s.tracker.lookup(entity)
	if e == nil {
		if state == types.Detached {
			return nil
		}
		if _, ok := meta.keyOf(entity); !ok && state != types.Added {
			return fmt.Errorf("%w: %s has no primary key value, cannot mark it %s",
				ErrInvalidArgument, meta.name(), state)
		}
		if e, err = s.attachLocked(entity, meta); err != nil {
			return err
		}
	}
	// an insert that is cancelled never reaches the database
	if e.state == types.Added && state == types.Deleted {
		s.tracker.detach(e)
		return nil
	}
	if !e.keyed && (state == types.Modified || state == types.Deleted || state == types.Unchanged) {
		return fmt.Errorf("%w: %s has no primary key value, cannot mark it %s",
			ErrInvalidArgument, meta.name(), state)
	}
	s.tracker.setState(e, state)
	return nil
}

func (s *Session) State(entity any) types.EntityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Detached
	}
	if e := s.tracker.lookup(entity); e != nil {
		return e.state
	}
	return types.Detached
}

func (s *Session) Find(ctx context.Context, dest any, id int64) (any, error) {
	meta, err := describeEntity(s.db, dest)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if e := s.tracker.lookupKey(meta.typ, id); e != nil {
		s.mu.Unlock()
		if e.state == types.Deleted {
			return nil, nil
		}
		return e.entity, nil
	}
	// a tracked dest keeps its staged values; the row goes into a new instance
	if s.tracker.lookup(dest) != nil {
		dest = reflect.New(meta.typ).Interface()
	}
	s.mu.Unlock()

	err = s.db.NewSelect().
		Model(dest).
		Where("?TableAlias.? = ?", bun.Ident(meta.pk.Name), id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if e := s.tracker.lookupKey(meta.typ, id); e != nil {
		return e.entity, nil
	}
	s.tracker.track(dest, meta, types.Unchanged)
	return dest, nil
}

func (s *Session) Select(ctx context.Context, model any, build QueryBuilder) error {
	s.mu.Lock()
	err := s.checkOpen()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	q := s.db.NewSelect().Model(model)
	if build != nil {
		q = build(q)
	}
	return q.Scan(ctx)
}

func (s *Session) SelectByID(ctx context.Context, dest any, id int64, build QueryBuilder) error {
	meta, err := describeEntity(s.db, dest)
	if err != nil {
		return err
	}
	return s.Select(ctx, dest, func(q *bun.SelectQuery) *bun.SelectQuery {
		q = q.Where("?TableAlias.? = ?", bun.Ident(meta.pk.Name), id).Limit(1)
		if build != nil {
			q = build(q)
		}
		return q
	})
}

func (s *Session) Count(ctx context.Context, model any, build QueryBuilder) (int, error) {
	s.mu.Lock()
	err := s.checkOpen()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	q := s.db.NewSelect().Model(model)
	if build != nil {
		q = build(q)
	}
	return q.Count(ctx)
}

func (s *Session) Load(ctx context.Context, dest any, build QueryBuilder) error {
	slice := reflect.ValueOf(dest)
	if slice.Kind() != reflect.Ptr || slice.IsNil() || slice.Elem().Kind() != reflect.Slice ||
		slice.Elem().Type().Elem().Kind() != reflect.Ptr {
		return fmt.Errorf("%w: dest must be a pointer to a slice of model pointers, got %T", ErrInvalidArgument, dest)
	}
	if err := s.Select(ctx, dest, build); err != nil {
		return err
	}

	rows := slice.Elem()
	if rows.Len() == 0 {
		return nil
	}
	meta, err := describeEntity(s.db, rows.Index(0).Interface())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for i := 0; i < rows.Len(); i++ {
		row := rows.Index(i).Interface()
		id, ok := meta.keyOf(row)
		if !ok {
			continue
		}
		if e := s.tracker.lookupKey(meta.typ, id); e != nil {
			rows.Index(i).Set(reflect.ValueOf(e.entity))
			continue
		}
		s.tracker.track(row, meta, types.Unchanged)
	}
	return nil
}

// HasChanges reports whether SaveChanges would write anything.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.tracker.pending()) > 0
}

// Tracked returns the number of tracked entities.
func (s *Session) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.len()
}

func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	pending := s.tracker.pending()
	if len(pending) == 0 {
		return 0, nil
	}

	ctx, span := s.tracer.Start(ctx, "Session.SaveChanges", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Int("session.pending", len(pending)),
	))
	defer span.End()

	// keys assigned by the database inside a failed transaction are reverted
	originalKeys := make(map[*entry]reflect.Value)
	for _, e := range pending {
		if e.state == types.Added {
			originalKeys[e] = e.meta.pkValue(e.entity)
		}
	}

	start := time.Now()
	affected := 0
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, e := range pending {
			n, err := s.write(ctx, tx, e)
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	s.metrics.observeSave(err, affected, time.Since(start))

	if err != nil {
		for e, v := range originalKeys {
			e.meta.setPK(e.entity, v)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("Save changes failed", "session", s.id, "pending", len(pending), "error", err)
		return 0, err
	}

	for _, e := range pending {
		switch e.state {
		case types.Deleted:
			s.tracker.detach(e)
		default:
			s.tracker.setState(e, types.Unchanged)
			s.tracker.reindex(e)
		}
	}
	span.SetAttributes(attribute.Int("session.affected", affected))
	s.logger.Debug("Changes saved", "session", s.id, "pending", len(pending), "affected", affected)
	return affected, nil
}

func (s *Session) write(ctx context.Context, tx bun.Tx, e *entry) (int, error) {
	var (
		res sql.Result
		err error
	)
	switch e.state {
	case types.Added:
		res, err = tx.NewInsert().Model(e.entity).Exec(ctx)
	case types.Modified:
		res, err = tx.NewUpdate().Model(e.entity).WherePK().Exec(ctx)
	case types.Deleted:
		res, err = tx.NewDelete().Model(e.entity).WherePK().Exec(ctx)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, newSaveError(e.meta.name(), e.state, err)
	}

	n := 1
	if res != nil {
		if rows, rerr := res.RowsAffected(); rerr == nil {
			n = int(rows)
		}
	}
	if n == 0 && e.state != types.Added {
		return 0, &StaleEntityError{Entity: e.meta.name(), ID: e.key.id, State: e.state}
	}
	return n, nil
}

// Close discards tracked state and, for sessions created WithOwnedDB, closes
// the database. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.tracker.reset()
	s.logger.Debug("Session closed", "session", s.id)
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
