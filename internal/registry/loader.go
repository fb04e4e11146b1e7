package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"stepllm/internal/common/fsutil"
	"stepllm/pkg/types"
)

// GGUFScanner builds a registry from the *.gguf files of a directory.
// Quantization, family and a chat format hint are derived from filenames.
type GGUFScanner struct {
	// Families are matched, in order, against the lowercased file name.
	Families []string
}

// NewGGUFScanner returns a scanner that knows the common llama.cpp families.
func NewGGUFScanner() *GGUFScanner {
	return &GGUFScanner{Families: []string{
		"tinyllama", "codellama", "llama", "mistral", "mixtral", "qwen", "phi", "gemma", "falcon", "vicuna",
	}}
}

var quantRe = regexp.MustCompile(`(?i)(?:^|[-_.])((?:I?Q\d(?:_[A-Z0-9]+)*)|BF16|F16|F32)(?:$|[-_.])`)

// Scan lists dir (a leading ~ is expanded). IDs are file names including the
// extension; Path is absolute. Entries are sorted by ID.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	abs, err := fsutil.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".gguf") {
			continue
		}
		models = append(models, s.describe(name, filepath.Join(abs, name)))
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (s *GGUFScanner) describe(file, path string) types.Model {
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	m := types.Model{ID: file, Name: stem, Path: path}
	if sm := quantRe.FindStringSubmatch(stem); sm != nil {
		m.Quant = strings.ToUpper(sm[1])
	}
	lower := strings.ToLower(stem)
	for _, f := range s.Families {
		if strings.Contains(lower, f) {
			m.Family = f
			break
		}
	}
	if (strings.Contains(lower, "llama-2") || strings.Contains(lower, "llama2")) && strings.Contains(lower, "chat") {
		m.ChatFormat = "llama2"
	}
	return m
}

// LoadDir scans a directory for *.gguf files with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// Merge overlays configured entries on scanned ones. A configured entry
// replaces the non-empty fields of the scanned model with the same ID, or is
// appended when no file matched it.
func Merge(scanned, configured []types.Model) []types.Model {
	out := append([]types.Model(nil), scanned...)
	idx := make(map[string]int, len(out))
	for i, m := range out {
		idx[m.ID] = i
	}
	for _, c := range configured {
		i, ok := idx[c.ID]
		if !ok {
			if c.Name == "" {
				c.Name = c.ID
			}
			idx[c.ID] = len(out)
			out = append(out, c)
			continue
		}
		m := &out[i]
		if c.Name != "" {
			m.Name = c.Name
		}
		if c.Path != "" {
			m.Path = c.Path
		}
		if c.Quant != "" {
			m.Quant = c.Quant
		}
		if c.Family != "" {
			m.Family = c.Family
		}
		if c.ChatFormat != "" {
			m.ChatFormat = c.ChatFormat
		}
	}
	return out
}
