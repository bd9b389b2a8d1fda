package guard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines which local files may be uploaded to the backend.
type Policy struct {
	AllowedFileGlobs []string `json:"allowed_file_globs" koanf:"allowed_globs"`
	MaxFileBytes     int64    `json:"max_file_bytes" koanf:"max_bytes"`
}

// DefaultPolicy accepts the media the backend learns from, up to 64MB.
var DefaultPolicy = Policy{
	AllowedFileGlobs: []string{"**/*.{txt,md,png,jpg,jpeg,mp4}"},
	MaxFileBytes:     64 << 20,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) Error() string {
	return v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckFile verifies a file against the allowed globs and size limit.
// Patterns are matched case-insensitively against the slash-separated path
// and against the base name, so "*.png" works for files in any directory.
func (g *Guard) CheckFile(path string, size int64) *Violation {
	if v := g.CheckPath(path); v != nil {
		return v
	}
	if g.policy.MaxFileBytes > 0 && size > g.policy.MaxFileBytes {
		return &Violation{
			Rule:    "max_file_bytes",
			Message: fmt.Sprintf("File too large: %s (%d bytes, limit %d)", filepath.Base(path), size, g.policy.MaxFileBytes),
		}
	}
	if size < 0 {
		return &Violation{Rule: "max_file_bytes", Message: "Invalid file size: " + filepath.Base(path)}
	}
	return nil
}

// CheckPath verifies only the glob rules.
func (g *Guard) CheckPath(path string) *Violation {
	if len(g.policy.AllowedFileGlobs) == 0 {
		return nil
	}

	slashed := strings.ToLower(filepath.ToSlash(path))
	base := strings.ToLower(filepath.Base(path))
	for _, pattern := range g.policy.AllowedFileGlobs {
		pattern = strings.ToLower(pattern)
		if match, err := doublestar.Match(pattern, slashed); err == nil && match {
			return nil
		}
		if match, err := doublestar.Match(pattern, base); err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_file_globs", Message: "File type not allowed: " + filepath.Base(path)}
}

// Validate reports malformed glob patterns.
func (p Policy) Validate() error {
	for _, pattern := range p.AllowedFileGlobs {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid upload glob %q", pattern)
		}
	}
	if p.MaxFileBytes < 0 {
		return fmt.Errorf("upload max_bytes must not be negative, got %d", p.MaxFileBytes)
	}
	return nil
}
