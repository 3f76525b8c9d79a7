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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
)

func TestEntityState(t *testing.T) {
	assert.Equal(t, "modified", Modified.String())
	assert.Equal(t, 3, Modified.Number())
	assert.Equal(t, "pending delete", Deleted.Desc())
	assert.True(t, Added.Pending())
	assert.False(t, Unchanged.Pending())
	assert.False(t, Detached.Pending())

	bogus := EntityState(9)
	assert.False(t, bogus.IsValid())
	assert.Equal(t, IllegalName, bogus.Name())
	assert.Equal(t, IllegalValue, bogus.Number())
	assert.Equal(t, IllegalDesc, bogus.Desc())
}

func TestQueryFilters(t *testing.T) {
	eq := Eq("name", "pen")
	assert.Equal(t, "? = ?", eq.Schema)
	assert.Equal(t, []interface{}{bun.Ident("name"), "pen"}, eq.Args)

	joined := And(eq, nil, NewQueryFilter("price > ?", 3))
	assert.Equal(t, "(? = ?) AND (price > ?)", joined.Schema)
	assert.Len(t, joined.Args, 3)

	assert.Nil(t, And())
	assert.True(t, And(nil).IsEmpty())
	assert.True(t, NewQueryFilter("  ").IsEmpty())
	assert.False(t, eq.IsEmpty())
}

func TestPageRequestDefaults(t *testing.T) {
	p := NewDefaultPageRequest(0, 0)
	assert.Equal(t, 1, p.GetPage())
	assert.Equal(t, 10, p.GetPageSize())
	assert.Zero(t, p.GetOffset())
	assert.Nil(t, p.GetFilter())

	p = NewPageRequest(3, 20, Eq("id", 1), []string{"id DESC"})
	assert.Equal(t, 40, p.GetOffset())
	assert.Equal(t, []string{"id DESC"}, p.GetOrders())
}

func TestPaginationPages(t *testing.T) {
	type row struct{}
	p := NewDefaultPagination[row](1, 10)
	assert.Zero(t, p.Pages())
	p.Total = 21
	assert.Equal(t, 3, p.Pages())
}
