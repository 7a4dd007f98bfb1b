package web

import "embed"

// StaticFiles holds the stylesheet and scripts served under /static/.
//
//go:embed static
var StaticFiles embed.FS
