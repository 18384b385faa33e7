package refresh

import (
	"errors"
	"fmt"
	pathpkg "path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignorePattern is a single parsed ignore pattern.
type ignorePattern struct {
	// negated indicates whether or not the pattern is negated.
	negated bool
	// directoryOnly indicates whether or not the pattern should only match
	// directories.
	directoryOnly bool
	// matchLeaf indicates whether or not the pattern should be matched against
	// a path's base name in addition to the whole path.
	matchLeaf bool
	// pattern is the pattern to use in matching.
	pattern string
}

// newIgnorePattern validates and parses an ignore pattern. Patterns use
// doublestar syntax, with an optional "!" negation prefix, an optional "/"
// prefix anchoring the pattern to the eager scan root, and an optional "/"
// suffix restricting the pattern to directories.
func newIgnorePattern(pattern string) (*ignorePattern, error) {
	// Ensure that the pattern is not empty.
	if pattern == "" {
		return nil, errors.New("empty pattern")
	}

	// Check for negation.
	var negated bool
	if pattern[0] == '!' {
		negated = true
		pattern = pattern[1:]
	}
	if pattern == "" {
		return nil, errors.New("negated empty pattern")
	}

	// Check for a directory-only specification and clean the remainder.
	var directoryOnly bool
	if len(pattern) > 1 && pattern[len(pattern)-1] == '/' {
		directoryOnly = true
	}
	pattern = pathpkg.Clean(pattern)
	if pattern == "/" {
		return nil, errors.New("root pattern")
	}

	// Check for anchoring.
	var absolute bool
	if pattern[0] == '/' {
		absolute = true
		pattern = pattern[1:]
	}

	// Validate the pattern by performing a match against a non-empty path.
	if _, err := doublestar.Match(pattern, "a"); err != nil {
		return nil, fmt.Errorf("unable to validate pattern: %w", err)
	}

	// Success.
	return &ignorePattern{
		negated:       negated,
		directoryOnly: directoryOnly,
		matchLeaf:     !absolute && strings.IndexByte(pattern, '/') < 0,
		pattern:       pattern,
	}, nil
}

// matches indicates whether or not the pattern matches a slash-separated
// relative path.
func (p *ignorePattern) matches(path string, directory bool) bool {
	if p.directoryOnly && !directory {
		return false
	}
	if match, _ := doublestar.Match(p.pattern, path); match {
		return true
	}
	if p.matchLeaf && path != "" {
		if match, _ := doublestar.Match(p.pattern, pathpkg.Base(path)); match {
			return true
		}
	}
	return false
}

// ignorer evaluates an ordered list of ignore patterns. Later patterns take
// precedence over earlier ones.
type ignorer struct {
	// patterns are the parsed patterns.
	patterns []*ignorePattern
}

// newIgnorer creates a new ignorer.
func newIgnorer(patterns []string) (*ignorer, error) {
	parsed := make([]*ignorePattern, len(patterns))
	for i, pattern := range patterns {
		p, err := newIgnorePattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("unable to parse pattern (%s): %w", pattern, err)
		}
		parsed[i] = p
	}
	return &ignorer{patterns: parsed}, nil
}

// ignored returns whether or not a slash-separated relative path is ignored.
func (i *ignorer) ignored(path string, directory bool) bool {
	var ignored bool
	for _, pattern := range i.patterns {
		// Skip patterns that can't change the current state.
		if pattern.negated != ignored {
			continue
		}

		// Update the state if the pattern matches.
		if pattern.matches(path, directory) {
			ignored = !pattern.negated
		}
	}
	return ignored
}
