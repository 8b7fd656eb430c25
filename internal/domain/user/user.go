package user

import "context"

// PlaceholderName is substituted when the user directory cannot be reached.
const PlaceholderName = "Unknown User"

// Profile is the display view of a user owned by the external directory
// service. This module never stores profiles, only resolves them by id.
type Profile struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Placeholder is the fallback profile used when a directory lookup fails.
// Directory unavailability must never block chat listing or delivery.
func Placeholder(id string) Profile {
	return Profile{ID: id, Name: PlaceholderName}
}

// Directory resolves a user id to a display profile.
type Directory interface {
	Lookup(ctx context.Context, id string) (Profile, error)
}
