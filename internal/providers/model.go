package providers

import (
	"fmt"
	"strings"
	"time"
)

// Profile is a service provider's public listing.
type Profile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Service     string    `json:"service"`
	City        string    `json:"city"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	RatingSum   int       `json:"-"`
	ReviewCount int       `json:"reviewCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AverageRating is the rounded aggregate shown on listings. Zero reviews
// yields zero.
func (p Profile) AverageRating() float64 {
	if p.ReviewCount == 0 {
		return 0
	}
	return float64(p.RatingSum) / float64(p.ReviewCount)
}

// NormalizeService lowercases and trims a service category for matching.
func NormalizeService(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}

// ValidationError reports an invalid listing field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("providers: invalid %s: %s", e.Field, e.Reason)
}

// Validate checks required listing fields.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return &ValidationError{Field: "userId", Reason: "required"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if NormalizeService(p.Service) == "" {
		return &ValidationError{Field: "service", Reason: "required"}
	}
	if strings.TrimSpace(p.City) == "" {
		return &ValidationError{Field: "city", Reason: "required"}
	}
	if len(p.Bio) > 2000 {
		return &ValidationError{Field: "bio", Reason: "exceeds 2000 characters"}
	}
	return nil
}
