package appfs

import "embed"

// FS holds the email & web templates and the database migrations.
//go:embed assets migrations
var FS embed.FS
