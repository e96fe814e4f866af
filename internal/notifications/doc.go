// Package notifications delivers operator push notifications via ntfy.
package notifications
