// Package fetcher validates GitHub repository references and manages
// shallow checkouts under a per-repository directory tree, shelling out to
// the git CLI for clones.
package fetcher
