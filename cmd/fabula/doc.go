// Command fabula is the control CLI for the fabulad daemon. It talks to the
// daemon's HTTP API to start, inspect, retry, and cancel scene generation
// runs, and can stream a session's pipeline events over a websocket.
package main
