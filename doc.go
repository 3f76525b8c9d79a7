// Package datamanager groups a change-tracking session and a repository
// behind a disposable unit of work. Writes staged through the repository are
// committed together by SaveChanges.
package datamanager
