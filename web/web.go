// Package web embeds the page templates and the static assets of the site.
package web

import "embed"

//go:embed templates/*.html static
var FS embed.FS
