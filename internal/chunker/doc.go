// Package chunker splits arbitrary source files into bounded, line-addressed
// code units for embedding and search.
//
// Two strategies are used, selected by detected language:
//
//   - Symbol extraction for languages with indentation-delimited blocks
//     (currently Python): each class or function definition becomes one
//     chunk, tagged with symbol type and name. This is a regex heuristic,
//     intentionally approximate, not a parser.
//   - Sliding window for everything else, and as the fallback when symbol
//     extraction finds nothing: lines accumulate until a token budget would
//     be exceeded, then the window is emitted and the next one is seeded
//     with a trailing overlap so no line is ever dropped.
//
// Files that are very short, binary-looking, or matched by the exclusion
// patterns produce zero chunks. Token counts are a word-count approximation,
// stable but not tied to any real tokenizer.
package chunker
