// Package migrations embeds the Postgres schema and seed data applied by
// cmd/migrate and by the integration tests.
package migrations

import "embed"

// FS holds NNNN_name.up.sql / .down.sql pairs at its root and seed files
// under seeds/.
//
//go:embed *.sql seeds/*.sql
var FS embed.FS
