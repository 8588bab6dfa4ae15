package chunker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// DefaultMaxTokens is the target token budget per sliding-window chunk
	DefaultMaxTokens = 1500

	// DefaultOverlapTokens is the trailing overlap carried into the next
	// sliding-window chunk
	DefaultOverlapTokens = 200

	// MinContentBytes is the minimum trimmed file size worth chunking
	MinContentBytes = 50

	// DefaultMaxFileBytes is the single-file size ceiling
	DefaultMaxFileBytes = 2 * 1024 * 1024

	// binarySniffLen is how many leading bytes are inspected for NUL
	binarySniffLen = 8192
)

// Chunk is a bounded, line-addressed slice of a file produced for indexing.
// Line numbers are 1-based and inclusive.
type Chunk struct {
	FilePath   string
	StartLine  int
	EndLine    int
	Content    string
	Language   string
	SymbolType string // "class" or "function" for symbol-extracted chunks
	SymbolName string
	TokenCount int
}

// languageByExt maps file extensions to language tags
var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".go":    "go",
	".rs":    "rust",
	".java":  "java",
	".rb":    "ruby",
	".php":   "php",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".r":     "r",
	".sql":   "sql",
	".sh":    "bash",
	".bash":  "bash",
	".zsh":   "zsh",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".xml":   "xml",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
	".txt":   "text",
}

// skipPatterns match paths excluded from chunking and structure analysis
var skipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.git/`),
	regexp.MustCompile(`node_modules/`),
	regexp.MustCompile(`__pycache__/`),
	regexp.MustCompile(`\.pyc$`),
	regexp.MustCompile(`\.pyo$`),
	regexp.MustCompile(`\.egg-info/`),
	regexp.MustCompile(`\.so$`),
	regexp.MustCompile(`\.dll$`),
	regexp.MustCompile(`\.exe$`),
	regexp.MustCompile(`\.bin$`),
	regexp.MustCompile(`\.lock$`),
	regexp.MustCompile(`package-lock\.json$`),
	regexp.MustCompile(`yarn\.lock$`),
	regexp.MustCompile(`\.min\.js$`),
	regexp.MustCompile(`\.min\.css$`),
	regexp.MustCompile(`\.map$`),
	regexp.MustCompile(`\.whl$`),
	regexp.MustCompile(`\.tar\.gz$`),
	regexp.MustCompile(`\.zip$`),
	regexp.MustCompile(`\.png$`),
	regexp.MustCompile(`\.jpg$`),
	regexp.MustCompile(`\.jpeg$`),
	regexp.MustCompile(`\.gif$`),
	regexp.MustCompile(`\.ico$`),
	regexp.MustCompile(`\.svg$`),
	regexp.MustCompile(`\.pdf$`),
	regexp.MustCompile(`\.woff`),
	regexp.MustCompile(`\.ttf$`),
}

var (
	pyClassPattern = regexp.MustCompile(`^class\s+(\w+)`)
	pyFuncPattern  = regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`)
)

// DetectLanguage returns the language tag for a file path, or "" if unknown
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// ShouldSkip reports whether a path is excluded from processing
func ShouldSkip(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, pattern := range skipPatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	return false
}

// EstimateTokens approximates the token count of text. It is proportional
// to word count (~1.3 tokens per word), stable and monotonic, and is not
// expected to match any real tokenizer.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// Chunker splits source files into bounded code units using symbol
// extraction where a language heuristic exists and a sliding window
// everywhere else.
type Chunker struct {
	MaxTokens     int
	OverlapTokens int
	MaxFileBytes  int64
}

// New creates a Chunker with default budgets
func New() *Chunker {
	return &Chunker{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
		MaxFileBytes:  DefaultMaxFileBytes,
	}
}

// ChunkFile reads a file and chunks it. basePath anchors the relative path
// recorded on each chunk. Skipped files produce zero chunks with no error.
func (c *Chunker) ChunkFile(path, basePath string) ([]Chunk, error) {
	if ShouldSkip(path) {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > c.MaxFileBytes {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if looksBinary(data) {
		return nil, nil
	}

	relPath, err := filepath.Rel(basePath, path)
	if err != nil {
		return nil, fmt.Errorf("failed to compute relative path: %w", err)
	}
	relPath = filepath.ToSlash(relPath)

	return c.ChunkContent(string(data), relPath, DetectLanguage(path)), nil
}

// ChunkContent chunks in-memory file content. Content below the minimum
// meaningful size yields zero chunks.
func (c *Chunker) ChunkContent(content, relPath, language string) []Chunk {
	if len(strings.TrimSpace(content)) < MinContentBytes {
		return nil
	}

	// Symbol extraction first for languages with a heuristic, falling back
	// to the sliding window when it finds nothing
	if language == "python" {
		if chunks := extractPythonSymbols(content, relPath); len(chunks) > 0 {
			return chunks
		}
	}

	return c.slidingWindow(content, relPath, language)
}

// slidingWindow accumulates lines until the token budget would be exceeded,
// emits the window, and seeds the next one with a trailing overlap. The
// overlap preserves line continuity: no input line is ever dropped.
func (c *Chunker) slidingWindow(content, relPath, language string) []Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	var window []string
	windowStart := 1
	windowTokens := 0

	emit := func(endLine int) {
		chunks = append(chunks, Chunk{
			FilePath:   relPath,
			StartLine:  windowStart,
			EndLine:    endLine,
			Content:    strings.Join(window, "\n"),
			Language:   language,
			TokenCount: windowTokens,
		})
	}

	for i, line := range lines {
		lineNo := i + 1
		lineTokens := EstimateTokens(line)

		if windowTokens+lineTokens > c.MaxTokens && len(window) > 0 {
			emit(lineNo - 1)

			// Seed the next window with trailing lines up to the overlap budget
			var overlap []string
			overlapTokens := 0
			for j := len(window) - 1; j >= 0; j-- {
				prevTokens := EstimateTokens(window[j])
				if overlapTokens+prevTokens > c.OverlapTokens {
					break
				}
				overlap = append([]string{window[j]}, overlap...)
				overlapTokens += prevTokens
			}

			window = overlap
			windowStart = lineNo - len(overlap)
			windowTokens = overlapTokens
		}

		window = append(window, line)
		windowTokens += lineTokens
	}

	if len(window) > 0 {
		emit(len(lines))
	}

	return chunks
}

// pySymbol tracks an open class or function definition during the scan
type pySymbol struct {
	kind  string
	name  string
	start int
}

// extractPythonSymbols scans for class and def signatures and emits one
// chunk per symbol. A symbol absorbs blank lines, more-indented lines, and
// same-indentation continuation lines; the first shallower line ends it.
// This is a best-effort heuristic, not a parser.
func extractPythonSymbols(content, relPath string) []Chunk {
	lines := strings.Split(content, "\n")

	var chunks []Chunk
	var current *pySymbol
	var currentLines []string
	currentIndent := 0

	finish := func(endLine int) {
		if current == nil || len(currentLines) == 0 {
			return
		}
		body := strings.Join(currentLines, "\n")
		chunks = append(chunks, Chunk{
			FilePath:   relPath,
			StartLine:  current.start,
			EndLine:    endLine,
			Content:    body,
			Language:   "python",
			SymbolType: current.kind,
			SymbolName: current.name,
			TokenCount: EstimateTokens(body),
		})
	}

	for i, line := range lines {
		lineNo := i + 1
		stripped := strings.TrimLeft(line, " \t")
		indent := len(line) - len(stripped)

		classMatch := pyClassPattern.FindStringSubmatch(stripped)
		funcMatch := pyFuncPattern.FindStringSubmatch(stripped)

		switch {
		case classMatch != nil || funcMatch != nil:
			finish(lineNo - 1)
			if classMatch != nil {
				current = &pySymbol{kind: "class", name: classMatch[1], start: lineNo}
			} else {
				current = &pySymbol{kind: "function", name: funcMatch[1], start: lineNo}
			}
			currentLines = []string{line}
			currentIndent = indent

		case current != nil:
			if stripped == "" || indent > currentIndent {
				currentLines = append(currentLines, line)
			} else if indent == currentIndent {
				// Decorator or continuation at signature depth
				currentLines = append(currentLines, line)
			} else {
				finish(lineNo - 1)
				current = nil
				currentLines = nil
			}
		}
	}

	finish(len(lines))
	return chunks
}

// looksBinary sniffs the leading bytes for a NUL, the usual marker for
// non-text content
func looksBinary(data []byte) bool {
	n := len(data)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(data[:n], 0) >= 0
}
