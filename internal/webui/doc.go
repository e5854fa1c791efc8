// Package webui serves the console's browser client as an embedded asset.
//
// The compiled web build is embedded into the binary with go:embed. The
// Handler returns an http.Handler with SPA fallback routing: a path that
// does not name a file gets index.html, so client-side routes such as
// /devices/abc survive a reload.
//
// index.html is served with no-cache. Bundled assets carry content hashes
// and are left to the browser's normal caching.
package webui
