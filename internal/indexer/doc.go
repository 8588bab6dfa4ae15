// Package indexer runs the indexing pipeline stage: chunk a repository
// checkout, embed every chunk, persist the chunk rows, and publish a new
// vector index generation keyed to them.
package indexer
