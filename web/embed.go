// Package web holds the server-rendered assets of the access screens.
package web

import "embed"

// Templates holds the base layout, the pages and the partials shared by
// them (navigation tree, flash messages).
//
//go:embed templates/layouts/*.html templates/pages/*.html templates/partials/*.html
var Templates embed.FS

// Static holds stylesheets served under /static/.
//
//go:embed static/css/*.css
var Static embed.FS
