// Package migrations embeds the publish journal schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
