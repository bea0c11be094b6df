// Package appfs embeds the assets the app needs at runtime so binaries
// stay self-contained: SQL migrations, email templates and the common
// passwords list.
package appfs

import "embed"

//go:embed migrations all:assets
var FS embed.FS
