// Package migrations embeds the versioned schema scripts, one directory per
// dialect. File names follow golang-migrate's {version}_{name}.up.sql
// convention with a UTC timestamp as version.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
