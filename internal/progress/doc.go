// Package progress carries job lifecycle events from a running scrape to
// durable state and live observers. A bounded Queue decouples the engine
// from persistence, the Bridge applies each event to the store before
// broadcasting it, and the Recorder batches committed events to metric and
// log sinks off the hot path.
package progress
