// Package progress defines run milestones and the Hub that batches them for
// sinks. Emit is cheap and non-blocking; sinks run on a single goroutine and
// receive batches in emission order.
package progress
