// Package migrations embeds the goose SQL migration files for the gateway's minimal persistent schema: the
// roles table and the member_roles join table spec.md 6.4 reads at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
