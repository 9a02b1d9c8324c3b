package dispatch

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

var DefaultExtensions = []string{
	".md", ".txt", ".pdf", ".docx", ".doc",
	".html", ".htm", ".json", ".csv",
	".py", ".java", ".cpp", ".c", ".h",
	".js", ".ts", ".jsx", ".tsx",
	".go", ".rs", ".rb", ".php",
	".xml", ".yaml", ".yml", ".toml",
	".sh", ".bash", ".sql",
}

// hidden files, VCS metadata, editor and temp files
var defaultIgnoreLines = []string{
	".*",
	"~*",
	"_tmp_*",
	"temp_*",
	"*.tmp",
	"*.bak",
	"*.swp",
	"*~",
	"Thumbs.db",
}

type FilterConfig struct {
	Prefix     string
	Include    []string
	Ignore     []string
	Extensions []string
	LedgerName string
}

// Filter decides whether an object key is in scope for indexing
type Filter struct {
	prefix     string
	include    []string
	extensions mapset.Set[string]
	ignore     *gitignore.GitIgnore
}

func NewFilter(cfg FilterConfig) (*Filter, error) {
	for _, pattern := range cfg.Include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	extensions := mapset.NewSet[string]()
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions.Add(ext)
	}

	lines := make([]string, 0, len(defaultIgnoreLines)+len(cfg.Ignore)+1)
	lines = append(lines, defaultIgnoreLines...)
	if cfg.LedgerName != "" {
		lines = append(lines, cfg.LedgerName)
	}
	lines = append(lines, cfg.Ignore...)

	return &Filter{
		prefix:     cfg.Prefix,
		include:    cfg.Include,
		extensions: extensions,
		ignore:     gitignore.CompileIgnoreLines(lines...),
	}, nil
}

// Check returns false and the reason when key must not be indexed
func (f *Filter) Check(key string) (bool, string) {
	if !strings.HasPrefix(key, f.prefix) {
		return false, fmt.Sprintf("not in scope: key lacks prefix %q", f.prefix)
	}
	if strings.HasSuffix(key, "/") {
		return false, "not in scope: directory marker"
	}
	if len(f.include) > 0 && !f.included(key) {
		return false, "not in scope: no include pattern matches"
	}
	if f.ignore.MatchesPath(key) {
		return false, "not in scope: ignored file"
	}

	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return false, "not in scope: no file extension"
	}
	if !f.extensions.Contains(ext) {
		return false, fmt.Sprintf("not in scope: unsupported file type %s", ext)
	}
	return true, ""
}

func (f *Filter) included(key string) bool {
	for _, pattern := range f.include {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return true
		}
	}
	return false
}
