// Package search serves semantic code search: query embedding, vector
// similarity lookup, chunk join, glob filtering, and pagination.
package search
