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

package datamanager

import (
	"context"

	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/types"
)

// SessionOpener yields a fresh session for one unit of work.
type SessionOpener func() (database.DataContext, error)

type Service[T any] interface {
	// Get returns a single entity by its identifier, or nil.
	Get(ctx context.Context, id int64) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Exists reports whether any entity matches filter.
	Exists(ctx context.Context, filter *types.QueryFilter) (bool, error)

	// Update overwrites every column of an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id int64) error

	// Save inserts one or more new entities in one transaction.
	Save(ctx context.Context, model ...*T) error
}

type baseServiceImpl[T any] struct {
	open SessionOpener
}

// NewService returns a Service running each call in its own unit of work.
// A nil opener uses the global database.
func NewService[T any](opener SessionOpener) Service[T] {
	if opener == nil {
		opener = openGlobalSession
	}
	return &baseServiceImpl[T]{open: opener}
}

func openGlobalSession() (database.DataContext, error) {
	s, err := database.OpenSession()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *baseServiceImpl[T]) run(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	session, err := s.open()
	if err != nil {
		return err
	}
	_, err = Run(ctx, session, fn)
	return err
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id int64) (entity *T, err error) {
	err = s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		entity, err = Repo[T](uow).GetByID(ctx, id)
		return err
	})
	return entity, err
}

func (s *baseServiceImpl[T]) All(ctx context.Context) (entities []*T, err error) {
	err = s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		entities, err = Repo[T](uow).GetAll(ctx)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) (entities []*T, err error) {
	err = s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		entities, err = Repo[T](uow).List(ctx, filter)
		return err
	})
	return entities, err
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (pagination *types.Pagination[T], err error) {
	err = s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		pagination, err = Repo[T](uow).Page(ctx, page)
		return err
	})
	return pagination, err
}

func (s *baseServiceImpl[T]) Exists(ctx context.Context, filter *types.QueryFilter) (exists bool, err error) {
	err = s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		exists, err = Repo[T](uow).Exists(ctx, filter)
		return err
	})
	return exists, err
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	return s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		return Repo[T](uow).Update(ctx, model)
	})
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id int64) error {
	return s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		return Repo[T](uow).Delete(ctx, id)
	})
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	return s.run(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		for _, m := range model {
			if err := Repo[T](uow).Create(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
}
