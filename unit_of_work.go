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
	"fmt"
	"reflect"

	"github.com/tomoncle/datamanager/database"
	"github.com/tomoncle/datamanager/repository"
)

// ErrInvalidArgument is database.ErrInvalidArgument.
var ErrInvalidArgument = database.ErrInvalidArgument

// UnitOfWork owns one DataContext and the repository bound to it. Changes
// staged through the repository are written together by SaveChanges. After
// Close every operation fails with database.ErrSessionClosed.
type UnitOfWork struct {
	session database.DataContext
	repo    repository.Repository
}

// NewUnitOfWork takes ownership of session and binds the default repository
// to it.
func NewUnitOfWork(session database.DataContext) (*UnitOfWork, error) {
	if isNil(session) {
		return nil, fmt.Errorf("%w: session cannot be nil", ErrInvalidArgument)
	}
	return &UnitOfWork{session: session, repo: repository.NewRepository(session)}, nil
}

// NewUnitOfWorkWithRepository takes ownership of session and uses repo, which
// is expected to operate on the same session.
func NewUnitOfWorkWithRepository(session database.DataContext, repo repository.Repository) (*UnitOfWork, error) {
	if isNil(session) {
		return nil, fmt.Errorf("%w: session cannot be nil", ErrInvalidArgument)
	}
	if isNil(repo) {
		return nil, fmt.Errorf("%w: repository cannot be nil", ErrInvalidArgument)
	}
	return &UnitOfWork{session: session, repo: repo}, nil
}

func (u *UnitOfWork) Repository() repository.Repository { return u.repo }

// Context returns the owned session.
func (u *UnitOfWork) Context() database.DataContext { return u.session }

// SaveChanges writes every staged change in one transaction and returns the
// number of affected rows.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	return u.session.SaveChanges(ctx)
}

// Close releases the session. Calling it again is a no-op.
func (u *UnitOfWork) Close() error {
	return u.session.Close()
}

// Repo returns the typed repository view of u for T.
func Repo[T any](u *UnitOfWork) *repository.Typed[T] {
	return repository.Of[T](u.repo)
}

// Run wraps session in a unit of work, calls fn, saves when fn succeeds and
// closes the unit of work on every path. Errors from fn, the save and the
// close are joined.
func Run(ctx context.Context, session database.DataContext, fn func(ctx context.Context, uow *UnitOfWork) error) (affected int, err error) {
	uow, err := NewUnitOfWork(session)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := uow.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close unit of work: %w", cerr))
		}
	}()

	if err = fn(ctx, uow); err != nil {
		return 0, err
	}
	return uow.SaveChanges(ctx)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func:
		return rv.IsNil()
	}
	return false
}
