// Package vectorindex provides a flat inner-product similarity index over
// unit-normalized embedding vectors, with per-repository on-disk
// persistence. The on-disk form is a raw little-endian float32 vector file
// paired with a JSON slot-to-ID map, published atomically per generation.
package vectorindex
