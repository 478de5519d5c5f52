// Package store defines the repository every storage backend implements.
package store

import (
	"context"

	"civitas.org/internal/contest"
	"civitas.org/internal/election"
	"civitas.org/internal/guide"
	"civitas.org/internal/identity"
	"civitas.org/internal/jurisdiction"
	"civitas.org/internal/ledger"
	"civitas.org/internal/tally"
)

// Repository is the full persistence surface of the domain.
type Repository interface {
	identity.Registry
	jurisdiction.Directory
	election.Catalog
	contest.Graph
	ledger.Ledger
	tally.Store
	guide.Index

	Ping(ctx context.Context) error
	Close() error
}
