// Package sync reconciles the primary course store with the vector
// index: full backfills, single-course resync, and consistency audits.
// It is the only reconciliation path; the two stores are eventually
// consistent by design, never transactionally coupled.
package sync

import (
	"strings"

	"github.com/coursedex/coursedex/internal/course"
)

// nullSentinels are stringified null values that leak out of upstream
// scraper JSON. They are noise, not content, and must never reach the
// embedding model.
var nullSentinels = map[string]struct{}{
	"null":     {},
	"None":     {},
	"[null]":   {},
	"['null']": {},
}

// BuildText renders the deterministic embedding text for a course:
// title, both descriptions, then labeled partner, subject, level,
// language, platform and skill lines. Empty fields and null sentinels
// are omitted entirely rather than concatenated literally.
func BuildText(c *course.Course) string {
	parts := make([]string, 0, 8)

	appendPart(&parts, "", c.Title)
	appendPart(&parts, "", c.PrimaryDescription)
	appendPart(&parts, "", c.SecondaryDescription)
	appendList(&parts, "Partners", c.Partners)
	appendList(&parts, "Subjects", c.Subjects)
	appendPart(&parts, "Level", c.Level)
	appendPart(&parts, "Language", c.Language)
	appendPart(&parts, "Platform", string(c.Platform))
	appendList(&parts, "Skills", c.Skills)

	return strings.Join(parts, "\n")
}

func appendPart(parts *[]string, label, value string) {
	value = cleanValue(value)
	if value == "" {
		return
	}
	if label != "" {
		value = label + ": " + value
	}
	*parts = append(*parts, value)
}

func appendList(parts *[]string, label string, values []string) {
	valid := make([]string, 0, len(values))
	for _, v := range values {
		if v = cleanValue(v); v != "" {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return
	}
	*parts = append(*parts, label+": "+strings.Join(valid, ", "))
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if _, isNull := nullSentinels[s]; isNull {
		return ""
	}
	return s
}
