// Package database provides connection management, configuration, logging,
// health checks, query hooks, metrics, and the change-tracking Session that
// backs repositories and units of work. It is built on top of Bun.
package database
