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

	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/types"
)

// CrudRepository stages inserts, updates and deletes and reads entities by
// key. Models are Bun model pointers; dest arguments are pointers to a zero
// model (or to a slice of model pointers for GetAll).
type CrudRepository interface {
	Create(ctx context.Context, entity any) error

	Update(ctx context.Context, entity any) error

	Delete(ctx context.Context, model any, id int64) error

	GetByID(ctx context.Context, dest any, id int64) (any, error)

	GetAll(ctx context.Context, dest any) error
}

// QueryRepository reads entities matching a filter. Results are untracked.
type QueryRepository interface {
	GetBy(ctx context.Context, dest any, filter *types.QueryFilter) (bool, error)

	Exists(ctx context.Context, model any, filter *types.QueryFilter) (bool, error)

	List(ctx context.Context, dest any, filter *types.QueryFilter) error

	GetCollectionFromEntity(ctx context.Context, parent any, id int64, relation string) error
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository interface {
	Page(ctx context.Context, dest any, page *types.PageRequest) (int, error)
}

// Repository combines CRUD, filtered and paged reads over one DataContext.
type Repository interface {
	CrudRepository
	QueryRepository
	PageQueryRepository
	Context() database.DataContext
}
