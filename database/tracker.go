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
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/tomoncle/datamanager/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// entityMeta describes a model pointer: its struct type and primary key.
type entityMeta struct {
	typ   reflect.Type
	table *schema.Table
	pk    *schema.Field
}

func (m *entityMeta) name() string { return m.typ.Name() }

// keyOf returns the integer primary key of entity and whether it is set.
func (m *entityMeta) keyOf(entity any) (int64, bool) {
	v := reflect.ValueOf(entity).Elem().FieldByIndex(m.pk.Index)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	var id int64
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		id = v.Int()
	default:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		id = int64(u)
	}
	return id, id != 0
}

// checkKey rejects unsigned keys that do not fit the int64 identity space.
func (m *entityMeta) checkKey(entity any) error {
	v := reflect.ValueOf(entity).Elem().FieldByIndex(m.pk.Index)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > math.MaxInt64 {
			return fmt.Errorf("%w: %s primary key %d overflows int64",
				ErrInvalidArgument, m.name(), v.Uint())
		}
	}
	return nil
}

// pkValue copies the current primary key field so it can be restored.
func (m *entityMeta) pkValue(entity any) reflect.Value {
	f := reflect.ValueOf(entity).Elem().FieldByIndex(m.pk.Index)
	cp := reflect.New(f.Type()).Elem()
	cp.Set(f)
	return cp
}

func (m *entityMeta) setPK(entity any, v reflect.Value) {
	reflect.ValueOf(entity).Elem().FieldByIndex(m.pk.Index).Set(v)
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// describeEntity validates that entity is a non-nil pointer to a Bun model
// with exactly one integer primary key.
func describeEntity(db *bun.DB, entity any) (*entityMeta, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, fmt.Errorf("%w: entity must be a non-nil pointer, got %T", ErrInvalidArgument, entity)
	}
	typ := v.Elem().Type()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: entity must point to a struct, got %T", ErrInvalidArgument, entity)
	}
	table := db.Table(typ)
	if len(table.PKs) != 1 {
		return nil, fmt.Errorf("%w: %s must have exactly one primary key, has %d",
			ErrInvalidArgument, typ.Name(), len(table.PKs))
	}
	pk := table.PKs[0]
	kt := typ.FieldByIndex(pk.Index).Type
	for kt.Kind() == reflect.Ptr {
		kt = kt.Elem()
	}
	if !isIntegerKind(kt.Kind()) {
		return nil, fmt.Errorf("%w: %s primary key %s must be an integer, is %s",
			ErrInvalidArgument, typ.Name(), pk.GoName, kt)
	}
	meta := &entityMeta{typ: typ, table: table, pk: pk}
	if err := meta.checkKey(entity); err != nil {
		return nil, err
	}
	return meta, nil
}

type identityKey struct {
	typ reflect.Type
	id  int64
}

type entry struct {
	entity any
	meta   *entityMeta
	state  types.EntityState
	key    identityKey
	keyed  bool
	seq    uint64
}

// changeTracker is the identity map plus the staged state of every tracked
// entity. Callers hold Session.mu.
type changeTracker struct {
	seq   uint64
	byPtr map[any]*entry
	byKey map[identityKey]*entry
}

func newChangeTracker() *changeTracker {
	return &changeTracker{
		byPtr: make(map[any]*entry),
		byKey: make(map[identityKey]*entry),
	}
}

func (t *changeTracker) lookup(entity any) *entry {
	return t.byPtr[entity]
}

func (t *changeTracker) lookupKey(typ reflect.Type, id int64) *entry {
	return t.byKey[identityKey{typ: typ, id: id}]
}

func (t *changeTracker) track(entity any, meta *entityMeta, state types.EntityState) *entry {
	e := &entry{entity: entity, meta: meta}
	t.byPtr[entity] = e
	t.reindex(e)
	t.setState(e, state)
	return e
}

// reindex refreshes the identity key of e, for instance after an insert
// assigned an autoincrement id.
func (t *changeTracker) reindex(e *entry) {
	if e.keyed && t.byKey[e.key] == e {
		delete(t.byKey, e.key)
	}
	id, ok := e.meta.keyOf(e.entity)
	e.keyed = ok
	if ok {
		e.key = identityKey{typ: e.meta.typ, id: id}
		t.byKey[e.key] = e
	}
}

func (t *changeTracker) setState(e *entry, state types.EntityState) {
	if state == types.Detached {
		t.detach(e)
		return
	}
	if state.Pending() && e.state != state {
		t.seq++
		e.seq = t.seq
	}
	e.state = state
}

func (t *changeTracker) detach(e *entry) {
	delete(t.byPtr, e.entity)
	if e.keyed && t.byKey[e.key] == e {
		delete(t.byKey, e.key)
	}
	e.state = types.Detached
}

// pending returns entries with a staged write, in staging order.
func (t *changeTracker) pending() []*entry {
	var out []*entry
	for _, e := range t.byPtr {
		if e.state.Pending() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (t *changeTracker) len() int { return len(t.byPtr) }

func (t *changeTracker) reset() {
	t.byPtr = make(map[any]*entry)
	t.byKey = make(map[identityKey]*entry)
}
