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
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Name  string `bun:"name,notnull"`
	Price int64  `bun:"price"`
}

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID    int64   `bun:"id,pk,autoincrement"`
	Name  string  `bun:"name"`
	Books []*Book `bun:"rel:has-many,join:id=author_id"`
}

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID       int64  `bun:"id,pk,autoincrement"`
	AuthorID int64  `bun:"author_id"`
	Title    string `bun:"title"`
}

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repository_%d?mode=memory&cache=shared", dbSeq.Add(1))
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.CreateTables(context.Background(), db,
		(*Product)(nil), (*Author)(nil), (*Book)(nil)))
	return db
}

// newRepo returns a repository over a fresh session on db.
func newRepo(t *testing.T, db *bun.DB) (Repository, *database.Session) {
	t.Helper()
	s, err := database.NewSession(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewRepository(s), s
}

func seedProducts(t *testing.T, db *bun.DB, names ...string) {
	t.Helper()
	for i, name := range names {
		_, err := db.NewInsert().Model(&Product{ID: int64(i + 1), Name: name, Price: int64(10 * (i + 1))}).
			Exec(context.Background())
		require.NoError(t, err)
	}
}

func TestCreateThenSaveIsReadable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo, s := newRepo(t, db)

	p := &Product{Name: "pen", Price: 3}
	require.NoError(t, repo.Create(ctx, p))
	n, err := s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	other, _ := newRepo(t, db)
	got, err := Of[Product](other).GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *p, *got)
}

func TestCreateRejectsNil(t *testing.T) {
	repo, _ := newRepo(t, newTestDB(t))
	assert.ErrorIs(t, repo.Create(context.Background(), nil), ErrInvalidArgument)
	assert.ErrorIs(t, Of[Product](repo).Create(context.Background(), nil), ErrInvalidArgument)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	repo, _ := newRepo(t, newTestDB(t))

	err := Of[Product](repo).Delete(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Product", nf.Entity)
	assert.Equal(t, int64(42), nf.ID)
	assert.Equal(t, "Product with id 42 not found", err.Error())
}

func TestDeleteThenSaveRemovesRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, "a", "b")
	repo, s := newRepo(t, db)
	products := Of[Product](repo)

	require.NoError(t, products.Delete(ctx, 1))
	gone, err := products.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	fresh, _ := newRepo(t, db)
	gone, err = Of[Product](fresh).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)
	all, err := Of[Product](fresh).GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateOverwritesFullRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, "a")
	repo, s := newRepo(t, db)

	// Price is left at its zero value and must be written as such.
	require.NoError(t, repo.Update(ctx, &Product{ID: 1, Name: "renamed"}))
	_, err := s.SaveChanges(ctx)
	require.NoError(t, err)

	fresh, _ := newRepo(t, db)
	got, err := Of[Product](fresh).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Zero(t, got.Price)
}

func TestUpdateOldToNew(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo, s := newRepo(t, db)
	products := Of[Product](repo)

	require.NoError(t, products.Create(ctx, &Product{ID: 1, Name: "Old"}))
	_, err := s.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, products.Update(ctx, &Product{ID: 1, Name: "New"}))
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)

	got, err := products.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	repo, s := newRepo(t, newTestDB(t))

	var nilProduct *Product
	assert.ErrorIs(t, repo.Update(ctx, nil), ErrInvalidArgument)
	assert.ErrorIs(t, repo.Update(ctx, nilProduct), ErrInvalidArgument)
	assert.ErrorIs(t, repo.Update(ctx, &Product{Name: "no key"}), ErrInvalidArgument)

	added := &Product{Name: "new"}
	require.NoError(t, repo.Create(ctx, added))
	require.NoError(t, repo.Update(ctx, added))
	assert.Equal(t, types.Added, s.State(added))
}

func TestGetByIsUntracked(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, "a", "b")
	repo, s := newRepo(t, db)
	products := Of[Product](repo)

	got, err := products.GetBy(ctx, types.Eq("name", "b"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, types.Detached, s.State(got))

	got, err = products.GetBy(ctx, types.Eq("name", "zzz"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExistsMatchesGetBy(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, "a", "b", "c")
	repo, _ := newRepo(t, db)
	products := Of[Product](repo)

	filters := []*types.QueryFilter{
		nil,
		types.Eq("name", "a"),
		types.Eq("name", "missing"),
		types.NewQueryFilter("price > ?", 15),
		types.NewQueryFilter("price > ?", 1000),
		types.And(types.Eq("name", "c"), types.NewQueryFilter("price = ?", 30)),
	}
	for _, f := range filters {
		got, err := products.GetBy(ctx, f)
		require.NoError(t, err)
		exists, err := products.Exists(ctx, f)
		require.NoError(t, err)
		assert.Equal(t, got != nil, exists, "%+v", f)
	}

	_, err := repo.Exists(ctx, Product{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetAllReturnsEveryRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo, s := newRepo(t, db)
	products := Of[Product](repo)

	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		require.NoError(t, products.Create(ctx, &Product{Name: name}))
	}
	_, err := s.SaveChanges(ctx)
	require.NoError(t, err)

	fresh, _ := newRepo(t, db)
	all, err := Of[Product](fresh).GetAll(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(all))
	for _, p := range all {
		got = append(got, p.Name)
	}
	sort.Strings(got)
	assert.Equal(t, names, got)
}

func TestGetAllEmpty(t *testing.T) {
	repo, _ := newRepo(t, newTestDB(t))
	all, err := Of[Product](repo).GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListAndPage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, "a", "b", "c", "d", "e")
	repo, _ := newRepo(t, db)
	products := Of[Product](repo)

	cheap, err := products.List(ctx, types.NewQueryFilter("price <= ?", 20))
	require.NoError(t, err)
	assert.Len(t, cheap, 2)

	page, err := products.Page(ctx, types.NewPageRequest(2, 2, nil, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].Name)
	assert.Equal(t, "d", page.Items[1].Name)

	empty, err := products.Page(ctx, types.NewPageRequest(1, 10, types.Eq("name", "none"), nil))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Items)

	_, err = products.Page(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetCollectionFromEntity(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.NewInsert().Model(&[]*Author{{ID: 1, Name: "ann"}, {ID: 2, Name: "bob"}}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&[]*Book{
		{AuthorID: 1, Title: "first"},
		{AuthorID: 1, Title: "second"},
		{AuthorID: 2, Title: "other"},
	}).Exec(ctx)
	require.NoError(t, err)
	repo, _ := newRepo(t, db)

	books := Navigation[Author, Book]{
		Relation: "Books",
		Select:   func(a *Author) []*Book { return a.Books },
	}
	got, err := GetCollectionFromEntity(ctx, repo, 1, books)
	require.NoError(t, err)
	titles := []string{}
	for _, b := range got {
		titles = append(titles, b.Title)
	}
	sort.Strings(titles)
	assert.Equal(t, []string{"first", "second"}, titles)

	_, err = GetCollectionFromEntity(ctx, repo, 9, books)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Author", nf.Entity)

	_, err = GetCollectionFromEntity(ctx, repo, 1, Navigation[Author, Book]{Relation: "Books"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, repo.GetCollectionFromEntity(ctx, new(Author), 1, ""), ErrInvalidArgument)
}

func TestGetCollectionFromEntityWithoutChildren(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.NewInsert().Model(&Author{ID: 1, Name: "ann"}).Exec(ctx)
	require.NoError(t, err)
	repo, _ := newRepo(t, db)

	got, err := GetCollectionFromEntity(ctx, repo, 1, Navigation[Author, Book]{
		Relation: "Books",
		Select:   func(a *Author) []*Book { return a.Books },
	})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRepositoryAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, "a")
	repo, s := newRepo(t, db)
	require.NoError(t, s.Close())

	_, err := Of[Product](repo).GetByID(ctx, 1)
	assert.ErrorIs(t, err, database.ErrSessionClosed)
	_, err = Of[Product](repo).GetAll(ctx)
	assert.ErrorIs(t, err, database.ErrSessionClosed)
	assert.Same(t, s, repo.Context())
}
