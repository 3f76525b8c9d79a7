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
	"fmt"

	"github.com/tomoncle/datamanager/types"
)

// Typed is a Repository view fixed to the model type T.
type Typed[T any] struct {
	repo Repository
}

// Of returns the typed view of r for T.
func Of[T any](r Repository) *Typed[T] {
	return &Typed[T]{repo: r}
}

func (t *Typed[T]) Repository() Repository { return t.repo }

func (t *Typed[T]) Create(ctx context.Context, entity *T) error {
	return t.repo.Create(ctx, entity)
}

func (t *Typed[T]) Update(ctx context.Context, entity *T) error {
	return t.repo.Update(ctx, entity)
}

func (t *Typed[T]) Delete(ctx context.Context, id int64) error {
	return t.repo.Delete(ctx, new(T), id)
}

// GetByID returns the entity with id, or nil when there is none.
func (t *Typed[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	found, err := t.repo.GetByID(ctx, new(T), id)
	if err != nil || found == nil {
		return nil, err
	}
	return found.(*T), nil
}

// GetBy returns the first entity matching filter, or nil.
func (t *Typed[T]) GetBy(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	dest := new(T)
	ok, err := t.repo.GetBy(ctx, dest, filter)
	if err != nil || !ok {
		return nil, err
	}
	return dest, nil
}

func (t *Typed[T]) Exists(ctx context.Context, filter *types.QueryFilter) (bool, error) {
	return t.repo.Exists(ctx, new(T), filter)
}

func (t *Typed[T]) GetAll(ctx context.Context) ([]*T, error) {
	entities := make([]*T, 0)
	if err := t.repo.GetAll(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (t *Typed[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	entities := make([]*T, 0)
	if err := t.repo.List(ctx, &entities, filter); err != nil {
		return nil, err
	}
	return entities, nil
}

func (t *Typed[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	if page == nil {
		return nil, fmt.Errorf("%w: page request cannot be nil", ErrInvalidArgument)
	}
	pagination := types.NewDefaultPagination[T](page.GetPage(), page.GetPageSize())
	entities := make([]*T, 0)
	total, err := t.repo.Page(ctx, &entities, page)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = entities
	return pagination, nil
}

// Navigation names a has-many relation of P and selects its loaded items.
type Navigation[P, C any] struct {
	Relation string
	Select   func(parent *P) []*C
}

// GetCollectionFromEntity loads the parent P with id and returns the related
// collection picked by nav. A missing parent is a NotFoundError.
func GetCollectionFromEntity[P, C any](ctx context.Context, r Repository, id int64, nav Navigation[P, C]) ([]*C, error) {
	if nav.Select == nil {
		return nil, fmt.Errorf("%w: navigation selector cannot be nil", ErrInvalidArgument)
	}
	parent := new(P)
	if err := r.GetCollectionFromEntity(ctx, parent, id, nav.Relation); err != nil {
		return nil, err
	}
	items := nav.Select(parent)
	out := make([]*C, len(items))
	copy(out, items)
	return out, nil
}
