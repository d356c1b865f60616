package main

import _ "embed"

// uiBundle is the single-page question renderer served at GET / of every
// session server.
//
//go:embed web/index.html
var uiBundle []byte
