// Package migrations provides the embedded destination schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
