package web

import "embed"

// FS holds the pin dashboard served by the bridge at "/".
//
//go:embed *.html *.css *.js
var FS embed.FS
