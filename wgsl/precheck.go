// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgsl

import "strings"

// PreCheck runs fast heuristic checks over user source before the real
// compile. The returned diagnostics are advisory only and never gate
// compilation; the parser and validator remain the source of truth.
func PreCheck(source string, compute bool) []Diagnostic {
	var diags []Diagnostic

	if strings.TrimSpace(source) == "" {
		return append(diags, Diagnostic{
			Severity: SeverityWarning,
			Line:     1,
			Column:   1,
			Message:  "source is empty",
		})
	}

	attr := "@fragment"
	if compute {
		attr = "@compute"
	}
	if !strings.Contains(source, attr) {
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Line:     1,
			Column:   1,
			Message:  "no " + attr + " entry point attribute found",
		})
	}

	if n := balanceDelta(source); n != 0 {
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Line:     1,
			Column:   1,
			Message:  "unbalanced braces",
		})
	}

	line, col := 1, 1
	for _, r := range source {
		if r == '\n' {
			line++
			col = 1
			continue
		}
		if r < 0x20 && r != '\t' && r != '\r' {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Line:     line,
				Column:   col,
				Message:  "control character in source",
			})
			break
		}
		col++
	}

	return diags
}

// balanceDelta counts open minus close braces outside line comments. Block
// comments and braces inside string-free WGSL are rare enough that line
// comments are the only case worth special-casing for a heuristic.
func balanceDelta(source string) int {
	n := 0
	for _, line := range strings.Split(source, "\n") {
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		for _, r := range line {
			switch r {
			case '{':
				n++
			case '}':
				n--
			}
		}
	}
	return n
}
