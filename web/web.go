// Package web holds the built-in host and viewer pages. They are served
// when static_path does not provide its own copies.
package web

import "embed"

//go:embed *.html
var FS embed.FS
