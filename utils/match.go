package utils

import "strings"

// Match checks whether a value matches a pattern. Patterns may contain the
// wildcard '*' matching any sequence of characters within a segment, and a
// trailing ".*" matches the segment itself plus every descendant, so
// "course.*" matches "course", "course.lesson" and "course.lesson.quiz".
// Segments are separated by '.'.
func Match(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		base := strings.TrimSuffix(pattern, ".*")
		return value == base || strings.HasPrefix(value, base+".")
	}
	return matchSegments(value, pattern)
}

// matchSegments matches a plain value against a pattern containing '*'
// wildcards. A '*' matches within its segment, not across '.' boundaries.
func matchSegments(value, pattern string) bool {
	vSegs := strings.Split(value, ".")
	pSegs := strings.Split(pattern, ".")
	if len(vSegs) != len(pSegs) {
		return false
	}
	for i := range pSegs {
		if !matchSegment(vSegs[i], pSegs[i]) {
			return false
		}
	}
	return true
}

func matchSegment(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	vLen, pLen := len(value), len(pattern)
	for pIndex < pLen {
		if pattern[pIndex] == '*' {
			if pIndex == pLen-1 {
				return true
			}
			for skip := 0; vIndex+skip <= vLen; skip++ {
				if matchSegment(value[vIndex+skip:], pattern[pIndex+1:]) {
					return true
				}
			}
			return false
		}
		if vIndex < vLen && pattern[pIndex] == value[vIndex] {
			vIndex++
			pIndex++
			continue
		}
		return false
	}
	return vIndex == vLen
}
