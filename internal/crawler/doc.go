// Package crawler defines the types, collaborator interfaces, and error
// taxonomy shared by the crawl-support core: the dispatcher, cache, dedup
// index, checkpoint manager, and the site adapters that feed them.
package crawler
