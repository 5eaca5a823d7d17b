// Package webui exposes the embedded dashboard filesystem.
// It MUST live at the module root to embed the sibling "web/" directory.
// internal/server/embed.go imports this package to serve static files.
package webui

import "embed"

// FS is the embedded web directory tree.
// A production build placed in web/dist takes precedence over the
// single-page dashboard at web/index.html.
//
//go:embed web
var FS embed.FS
