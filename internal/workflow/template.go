// SPDX-License-Identifier: Apache-2.0

package workflow

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// RenderTemplate replaces every {{name}} placeholder with vars[name].
// Unknown names render as the empty string.
func RenderTemplate(tpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return ""
		}
		return vars[sub[1]]
	})
}

// Placeholders lists the distinct variable names used in tpl, in order of
// first appearance.
func Placeholders(tpl string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(tpl, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
