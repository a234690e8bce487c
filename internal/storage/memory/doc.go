// Package memory provides in-process implementations of the crawl core's
// stores: an LRU request cache tier plus non-durable fingerprint, checkpoint,
// failure and record stores for development and tests.
package memory
