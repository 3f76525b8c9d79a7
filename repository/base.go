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

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/types"
	"github.com/uptrace/bun"
)

type baseRepositoryImpl struct {
	dc database.DataContext
}

// NewRepository returns the default repository bound to dc.
func NewRepository(dc database.DataContext) Repository {
	return &baseRepositoryImpl{dc: dc}
}

func (r *baseRepositoryImpl) Context() database.DataContext { return r.dc }

func (r *baseRepositoryImpl) Create(ctx context.Context, entity any) error {
	if isNil(entity) {
		return fmt.Errorf("%w: entity cannot be nil", ErrInvalidArgument)
	}
	return r.dc.Add(ctx, entity)
}

// Update stages a full-row update of entity, attaching it first when the
// context does not track it. Every column is written, changed or not.
func (r *baseRepositoryImpl) Update(ctx context.Context, entity any) error {
	if isNil(entity) {
		return fmt.Errorf("%w: entity cannot be nil", ErrInvalidArgument)
	}
	if r.dc.State(entity) == types.Added {
		return nil
	}
	return r.dc.SetState(ctx, entity, types.Modified)
}

func (r *baseRepositoryImpl) Delete(ctx context.Context, model any, id int64) error {
	found, err := r.GetByID(ctx, model, id)
	if err != nil {
		return err
	}
	if found == nil {
		return &NotFoundError{Entity: entityName(model), ID: id}
	}
	return r.dc.Remove(ctx, found)
}

func (r *baseRepositoryImpl) GetByID(ctx context.Context, dest any, id int64) (any, error) {
	return r.dc.Find(ctx, dest, id)
}

func (r *baseRepositoryImpl) GetBy(ctx context.Context, dest any, filter *types.QueryFilter) (bool, error) {
	err := r.dc.Select(ctx, dest, func(q *bun.SelectQuery) *bun.SelectQuery {
		return applyFilter(q, filter).Limit(1)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether GetBy would find a row for filter. model is only
// used for its type.
func (r *baseRepositoryImpl) Exists(ctx context.Context, model any, filter *types.QueryFilter) (bool, error) {
	t := reflect.TypeOf(model)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return false, fmt.Errorf("%w: model must be a struct pointer, got %T", ErrInvalidArgument, model)
	}
	return r.GetBy(ctx, reflect.New(t.Elem()).Interface(), filter)
}

func (r *baseRepositoryImpl) GetAll(ctx context.Context, dest any) error {
	return r.dc.Load(ctx, dest, nil)
}

func (r *baseRepositoryImpl) List(ctx context.Context, dest any, filter *types.QueryFilter) error {
	return r.dc.Select(ctx, dest, func(q *bun.SelectQuery) *bun.SelectQuery {
		return applyFilter(q, filter)
	})
}

func (r *baseRepositoryImpl) Page(ctx context.Context, dest any, page *types.PageRequest) (int, error) {
	if page == nil {
		return 0, fmt.Errorf("%w: page request cannot be nil", ErrInvalidArgument)
	}
	filtered := func(q *bun.SelectQuery) *bun.SelectQuery {
		return applyFilter(q, page.GetFilter())
	}
	total, err := r.dc.Count(ctx, dest, filtered)
	if err != nil || total == 0 {
		return total, err
	}
	err = r.dc.Select(ctx, dest, func(q *bun.SelectQuery) *bun.SelectQuery {
		return filtered(q).
			Offset(page.GetOffset()).
			Limit(page.GetPageSize()).
			Order(page.GetOrders()...)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetCollectionFromEntity loads the parent row with id into parent together
// with the named Bun relation.
func (r *baseRepositoryImpl) GetCollectionFromEntity(ctx context.Context, parent any, id int64, relation string) error {
	if relation == "" {
		return fmt.Errorf("%w: relation cannot be empty", ErrInvalidArgument)
	}
	err := r.dc.SelectByID(ctx, parent, id, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Relation(relation)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: entityName(parent), ID: id}
	}
	return err
}

func applyFilter(q *bun.SelectQuery, filter *types.QueryFilter) *bun.SelectQuery {
	if filter.IsEmpty() {
		return q
	}
	return q.Where(filter.Schema, filter.Args...)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func entityName(model any) string {
	t := reflect.TypeOf(model)
	for t != nil && (t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice) {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
