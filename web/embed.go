package web

import "embed"

// FS contains the embedded gateway web assets.
//
//go:embed *.html
var FS embed.FS
