package console

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter types accepted by NewOutputFilter
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

var errorKeywords = []string{
	"error",
	"exception",
	"fatal",
	"warning",
	"warn",
	"failed",
	"failure",
	"severe",
	"stack trace",
}

// OutputFilter filters console output based on criteria
type OutputFilter struct {
	FilterType    string
	Pattern       string
	CaseSensitive bool
	regex         *regexp.Regexp
}

// FilterResult represents the result of filtering a line
type FilterResult struct {
	Include   bool
	Highlight []int // Start/end positions of matches for highlighting
}

// NewOutputFilter creates a new output filter
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}

	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case FilterNone, FilterErrors, FilterSearch:
	case FilterRegex:
		if pattern != "" {
			flags := ""
			if !caseSensitive {
				flags = "(?i)"
			}
			compiled, err := regexp.Compile(flags + pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}
			filter.regex = compiled
		}
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	return filter, nil
}

// Filter applies the filter to a line of output
func (f *OutputFilter) Filter(line string) FilterResult {
	result := FilterResult{Include: true}

	switch f.FilterType {
	case FilterErrors:
		result.Highlight = highlightErrors(line)
		result.Include = result.Highlight != nil

	case FilterSearch:
		if f.Pattern == "" {
			return result
		}

		searchLine := line
		searchPattern := f.Pattern
		if !f.CaseSensitive {
			searchLine = strings.ToLower(line)
			searchPattern = strings.ToLower(f.Pattern)
		}

		if idx := strings.Index(searchLine, searchPattern); idx >= 0 {
			result.Highlight = []int{idx, idx + len(f.Pattern)}
		} else {
			result.Include = false
		}

	case FilterRegex:
		if f.regex == nil {
			return result
		}

		if match := f.regex.FindStringIndex(line); match != nil {
			result.Highlight = match
		} else {
			result.Include = false
		}
	}

	return result
}

// Predicate returns the filter as a line predicate, usable as an acknowledgement matcher
func (f *OutputFilter) Predicate() func(line string) bool {
	return func(line string) bool {
		return f.Filter(line).Include
	}
}

// highlightErrors returns the position of the first error keyword, or nil
func highlightErrors(line string) []int {
	lowerLine := strings.ToLower(line)

	for _, keyword := range errorKeywords {
		if idx := strings.Index(lowerLine, keyword); idx >= 0 {
			return []int{idx, idx + len(keyword)}
		}
	}

	return nil
}

// FilterLines applies the filter to multiple lines
func (f *OutputFilter) FilterLines(lines []string) []string {
	if f.FilterType == FilterNone {
		return lines
	}

	filtered := []string{}
	for _, line := range lines {
		if f.Filter(line).Include {
			filtered = append(filtered, line)
		}
	}
	return filtered
}
