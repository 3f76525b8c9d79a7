// Package repository provides a generic repository built on a change-tracking
// database.DataContext. Writes are staged and reach the database only when
// the owning unit of work saves changes.
package repository
