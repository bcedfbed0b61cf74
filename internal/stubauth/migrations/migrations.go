// Package migrations embeds the SQL migration files for the stub auth
// service's refresh token store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
