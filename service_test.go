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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/repository"
	"github.com/tomoncle/datamanager/types"
	"github.com/uptrace/bun"
)

func sessionOpener(db *bun.DB) SessionOpener {
	return func() (database.DataContext, error) {
		return database.NewSession(db)
	}
}

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService[Product](sessionOpener(newTestDB(t)))

	a, b := &Product{Name: "a", Price: 1}, &Product{Name: "b", Price: 2}
	require.NoError(t, svc.Save(ctx, a, b))
	assert.NotZero(t, a.ID)
	assert.NotZero(t, b.ID)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	got.Name = "a2"
	require.NoError(t, svc.Update(ctx, got))

	list, err := svc.List(ctx, types.Eq("name", "a2"))
	require.NoError(t, err)
	require.Len(t, list, 1)

	exists, err := svc.Exists(ctx, types.Eq("name", "a"))
	require.NoError(t, err)
	assert.False(t, exists)

	page, err := svc.Page(ctx, types.NewPageRequest(1, 1, nil, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Items, 1)

	require.NoError(t, svc.Delete(ctx, b.ID))
	assert.ErrorIs(t, svc.Delete(ctx, b.ID), repository.ErrNotFound)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing, err := svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService[Product](sessionOpener(db))

	err := svc.Save(ctx, &Product{Name: "ok"}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestServiceOpenerError(t *testing.T) {
	boom := errors.New("no database")
	svc := NewService[Product](func() (database.DataContext, error) { return nil, boom })
	_, err := svc.All(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestServiceDefaultsToGlobalDatabase(t *testing.T) {
	svc := NewService[Product](nil)
	_, err := svc.All(context.Background())
	assert.ErrorIs(t, err, database.ErrNotConnected)
}
