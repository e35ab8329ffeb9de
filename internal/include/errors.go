// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package include

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTooDeep is the cause of a ResolutionError raised by the depth guard.
	ErrTooDeep = errors.New("maximum include depth exceeded")
	// ErrIsDirectory is the cause of a ResolutionError for a directory target.
	ErrIsDirectory = errors.New("path is a directory")
	// ErrTooLarge is the cause of a ResolutionError for an oversized target.
	ErrTooLarge = errors.New("file too large")
)

// CycleError records an include that names one of its own ancestors.
type CycleError struct {
	// Target is the path as written in the marker.
	Target string
	// Path is the canonical path of the target.
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("include cycle: %s is already being expanded", e.Target)
}

// ResolutionError records an include target that could not be read.
type ResolutionError struct {
	Target string
	Path   string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("include %s: %v", e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Result is the outcome of expanding one piece of content.
type Result struct {
	// Text is the content with every marker replaced.
	Text string
	// Included lists the canonical paths that were substituted, in order of
	// first appearance.
	Included []string
	// Problems holds a *CycleError or *ResolutionError per failed marker.
	Problems []error
}

// HasProblems returns true if any marker could not be expanded.
func (r *Result) HasProblems() bool {
	return len(r.Problems) > 0
}

// ProblemSummary returns the problems joined on one line.
func (r *Result) ProblemSummary() string {
	if len(r.Problems) == 0 {
		return ""
	}
	parts := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		parts[i] = p.Error()
	}
	return strings.Join(parts, "; ")
}

func cyclePlaceholder(target string) string {
	return fmt.Sprintf("[include skipped: %s would include itself]", target)
}

func errorPlaceholder(target string, err error) string {
	return fmt.Sprintf("[include failed: %s: %v]", target, err)
}
