// Package snapshot persists pipeline run state between stages so interrupted
// generation runs can resume without repeating completed work.
package snapshot
