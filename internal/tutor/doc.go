// Package tutor provides grounded question answering over indexed
// repositories. Every answer is backed by retrieved code chunks; when
// retrieval returns nothing above the similarity floor the service
// replies with a fixed refusal instead of consulting the language model.
//
// Sessions carry a static repository summary plus a rolling digest of
// recent turns, and expire after a configurable idle TTL.
package tutor
