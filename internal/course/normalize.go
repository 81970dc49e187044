package course

import (
	"fmt"
	"strings"
	"time"

	dexerrors "github.com/coursedex/coursedex/internal/errors"
)

// Raw is one record as scraped from a provider, before normalization.
// Field names vary per platform; Normalize owns translating each shape.
type Raw = map[string]any

// Normalize maps one raw provider record to a canonical Course.
// A record without a usable identifier is unmappable: it returns
// (nil, ERR_401_INVALID_RECORD) and the caller drops it and continues.
// Normalize is pure: no side effects, safe to call concurrently and
// repeatedly on the same input.
func Normalize(raw Raw, platform Platform) (*Course, error) {
	if !platform.Valid() {
		return nil, dexerrors.InvalidRecord(fmt.Sprintf("unknown platform %q", platform))
	}
	if raw == nil {
		return nil, dexerrors.InvalidRecord("nil record")
	}

	var c *Course
	switch platform {
	case PlatformEdx:
		c = normalizeEdx(raw)
	case PlatformCoursera:
		c = normalizeCoursera(raw)
	case PlatformUdemy:
		c = normalizeUdemy(raw)
	}

	if c == nil || c.ID == "" {
		return nil, dexerrors.InvalidRecord("record has no usable identifier")
	}
	c.Platform = platform
	c.UpdatedAt = time.Now().UTC()
	return c, nil
}

// normalizeEdx maps the edX discovery search hit shape.
func normalizeEdx(raw Raw) *Course {
	id := IDString(raw["uuid"])
	if id == "" {
		return nil
	}
	return &Course{
		ID:                   id,
		Title:                Str(raw["title"]),
		ImageURL:             Str(raw["card_image_url"]),
		Language:             Str(raw["language"]),
		LearningType:         Str(raw["learning_type"]),
		Level:                firstOf(raw["level"]),
		PrimaryDescription:   Str(raw["primary_description"]),
		SecondaryDescription: Str(raw["secondary_description"]),
		LandingURL:           Str(raw["marketing_url"]),
		ProductType:          Str(raw["product"]),
		Skills:               StringList(raw["skills"]),
		Partners:             StringList(raw["partner"]),
		Subjects:             StringList(raw["subject"]),
		EnrollmentCount:      IntOr0(raw["recent_enrollment_count"]),
		DurationWeeks:        IntOr0(raw["weeks_to_complete"]),
	}
}

// normalizeCoursera maps the Coursera GraphQL product hit shape.
// Coursera has no subject taxonomy in this payload; skills double as
// subjects so the secondary lookup path stays usable.
func normalizeCoursera(raw Raw) *Course {
	id := IDString(raw["id"])
	if id == "" {
		return nil
	}
	landing := Str(raw["url"])
	if landing != "" && strings.HasPrefix(landing, "/") {
		landing = "https://www.coursera.org" + landing
	}
	skills := StringList(raw["skills"])
	return &Course{
		ID:                 id,
		Title:              Str(raw["name"]),
		ImageURL:           Str(raw["imageUrl"]),
		Language:           firstOf(raw["fullyTranslatedLanguages"]),
		LearningType:       nestedStr(raw, "productCard", "marketingProductType"),
		Level:              firstOf(raw["productDifficultyLevel"]),
		PrimaryDescription: Str(raw["tagline"]),
		LandingURL:         landing,
		ProductType:        nestedStr(raw, "productCard", "marketingProductType"),
		Skills:             skills,
		Partners:           StringList(raw["partners"]),
		Subjects:           append([]string(nil), skills...),
		DurationWeeks:      IntOr0(raw["productDuration"]),
	}
}

// normalizeUdemy maps the Udemy course-search result shape, where the
// course payload is nested one level down.
func normalizeUdemy(raw Raw) *Course {
	inner, ok := raw["course"].(map[string]any)
	if !ok {
		return nil
	}
	id := IDString(inner["id"])
	if id == "" {
		return nil
	}

	// Instructor objects carry the partner names.
	partners := StringList(inner["instructors"])

	// Udemy reports duration in seconds; approximate weeks at
	// 10 study-hours per week, matching the original ingestion.
	seconds := IntOr0(inner["durationInSeconds"])
	weeks := seconds / 60 / 60 / 10

	var image string
	if images, ok := inner["images"].(map[string]any); ok {
		image = Str(images["px240x135"])
	}

	return &Course{
		ID:                 id,
		Title:              Str(inner["title"]),
		ImageURL:           image,
		Language:           Str(inner["locale"]),
		LearningType:       "Course",
		Level:              firstOf(inner["level"]),
		PrimaryDescription: Str(inner["headline"]),
		LandingURL:         Str(inner["urlCourseLanding"]),
		ProductType:        "course",
		Skills:             StringList(inner["learningOutcomes"]),
		Partners:           partners,
		DurationWeeks:      weeks,
	}
}

// firstOf coerces a value that is sometimes a scalar and sometimes a list
// (edX sends level both ways) into a single string.
func firstOf(v any) string {
	values := StringList(v)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// nestedStr reads raw[outer][inner] as a string, "" when any level is absent.
func nestedStr(raw Raw, outer, inner string) string {
	m, ok := raw[outer].(map[string]any)
	if !ok {
		return ""
	}
	return Str(m[inner])
}
