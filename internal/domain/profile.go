package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidProfile = errors.New("invalid profile")

// Profile is the authenticated shop owner as returned by the API at login
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	ShopName    string `json:"shopName"`
	Phone       string `json:"phone"`
}

// ParseProfile decodes a persisted profile record. A record without an ID is rejected.
func ParseProfile(raw string) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidProfile)
	}
	return &p, nil
}

// Encode serializes the profile for the credential store
func (p Profile) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
