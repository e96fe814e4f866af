// Package daemon hosts the long-running generation service: one pipeline
// manager per story session, an HTTP/websocket control API, and the
// single-instance lock.
package daemon
