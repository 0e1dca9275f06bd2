// Package web holds the embedded browser UI.
package web

import "embed"

// Assets contains the built UI under dist/.
//
//go:embed dist
var Assets embed.FS
