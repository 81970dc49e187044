// Package course defines the canonical course entity and the normalizer
// that maps raw provider records into it.
package course

import (
	"time"
)

// Platform identifies the source provider of a course record.
type Platform string

const (
	PlatformEdx      Platform = "edx"
	PlatformCoursera Platform = "coursera"
	PlatformUdemy    Platform = "udemy"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformEdx, PlatformCoursera, PlatformUdemy:
		return true
	}
	return false
}

// Course is the canonical normalized record for one learning offering.
// ID is stable across re-ingestion; everything else is last-write-wins.
type Course struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title,omitempty"`
	ImageURL             string    `json:"image_url,omitempty"`
	Language             string    `json:"language,omitempty"`
	LearningType         string    `json:"learning_type,omitempty"`
	Level                string    `json:"level,omitempty"`
	PrimaryDescription   string    `json:"primary_description,omitempty"`
	SecondaryDescription string    `json:"secondary_description,omitempty"`
	LandingURL           string    `json:"landing_url,omitempty"`
	Platform             Platform  `json:"platform,omitempty"`
	ProductType          string    `json:"product_type,omitempty"`
	Skills               []string  `json:"skills,omitempty"`
	Partners             []string  `json:"partners,omitempty"`
	Subjects             []string  `json:"subjects,omitempty"`
	EnrollmentCount      int       `json:"enrollment_count"`
	DurationWeeks        int       `json:"duration_weeks"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// PartnerPrimary returns the first partner, or "" if there are none.
// It is always derived from Partners, never set independently.
func (c *Course) PartnerPrimary() string {
	return primary(c.Partners)
}

// SubjectPrimary returns the first subject, or "" if there are none.
func (c *Course) SubjectPrimary() string {
	return primary(c.Subjects)
}

func primary(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
