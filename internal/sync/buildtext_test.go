package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coursedex/coursedex/internal/course"
)

func TestBuildText_FullCourse(t *testing.T) {
	c := &course.Course{
		ID:                   "edx-1",
		Title:                "Intro to Python",
		PrimaryDescription:   "Learn Python basics.",
		SecondaryDescription: "No prior experience needed.",
		Partners:             []string{"MITx", "HarvardX"},
		Subjects:             []string{"Computer Science"},
		Level:                "Introductory",
		Language:             "English",
		Platform:             course.PlatformEdx,
		Skills:               []string{"python", "programming"},
	}

	text := BuildText(c)

	assert.Equal(t,
		"Intro to Python\n"+
			"Learn Python basics.\n"+
			"No prior experience needed.\n"+
			"Partners: MITx, HarvardX\n"+
			"Subjects: Computer Science\n"+
			"Level: Introductory\n"+
			"Language: English\n"+
			"Platform: edx\n"+
			"Skills: python, programming",
		text)
}

func TestBuildText_OmitsEmptyFields(t *testing.T) {
	c := &course.Course{
		ID:       "c1",
		Title:    "Minimal Course",
		Platform: course.PlatformUdemy,
	}

	text := BuildText(c)

	// Only the populated fields appear; no dangling labels or blank lines
	assert.Equal(t, "Minimal Course\nPlatform: udemy", text)
}

func TestBuildText_OmitsNullSentinels(t *testing.T) {
	// Given: sentinel strings leaked from upstream JSON
	c := &course.Course{
		ID:                 "c1",
		Title:              "Course",
		PrimaryDescription: "null",
		Level:              "None",
		Language:           "[null]",
		Skills:             []string{"null", "['null']", "real-skill"},
		Partners:           []string{"null"},
	}

	text := BuildText(c)

	// Then: sentinels never reach the embedding text
	assert.Equal(t, "Course\nSkills: real-skill", text)
	assert.NotContains(t, text, "null")
	assert.NotContains(t, text, "None")
	assert.NotContains(t, text, "Partners")
}

func TestBuildText_Deterministic(t *testing.T) {
	c := &course.Course{
		ID:       "c1",
		Title:    "Stable",
		Subjects: []string{"Math", "Physics"},
	}

	assert.Equal(t, BuildText(c), BuildText(c))
}
