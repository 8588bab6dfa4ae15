// Package docs generates README and architecture documentation for
// indexed repositories using the completion provider, and serves the
// generated text once the repository reaches the docs stage.
package docs
