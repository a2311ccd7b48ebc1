package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// TypeWelcome greets a freshly registered user.
	TypeWelcome = "user.welcome"
)

var (
	ErrInvalidJobType      = errors.New("invalid job type")
	ErrInvalidJobPayload   = errors.New("invalid job payload")
	ErrPayloadTypeMismatch = errors.New("payload does not match job type")
)

func IsValidType(t string) bool {
	return t == TypeWelcome
}

// WelcomePayload is kept minimal and ID-based; the worker loads anything else
// it needs from the DB.
type WelcomePayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (p WelcomePayload) Validate() error {
	if p.UserID == "" || p.Email == "" {
		return fmt.Errorf("%w: userId and email are required", ErrInvalidJobPayload)
	}
	return nil
}

func EncodePayload(jobType string, payload any) ([]byte, error) {
	if !IsValidType(jobType) {
		return nil, ErrInvalidJobType
	}

	switch jobType {
	case TypeWelcome:
		_, ok := payload.(WelcomePayload)

		if !ok {
			_, ok2 := payload.(*WelcomePayload)

			if !ok2 {
				return nil, ErrPayloadTypeMismatch
			}
		}
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return b, nil
}

// DecodeWelcome unmarshals and validates a welcome payload.
func DecodeWelcome(raw []byte) (WelcomePayload, error) {
	if len(raw) == 0 {
		return WelcomePayload{}, ErrInvalidJobPayload
	}

	var p WelcomePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return WelcomePayload{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if err := p.Validate(); err != nil {
		return WelcomePayload{}, err
	}

	return p, nil
}
