package presence

import (
	"errors"
	"fmt"
	"time"
)

// ArrivalType describes what a visitor intends to do in the space.
type ArrivalType string

const (
	Connecten ArrivalType = "Connecten"
	Fokus     ArrivalType = "Fokus"
	Gammeln   ArrivalType = "Gammeln"
)

// ArrivalTypes lists every valid ArrivalType in display order.
var ArrivalTypes = []ArrivalType{Connecten, Fokus, Gammeln}

// ErrUnknownArrivalType is returned for arrival types outside ArrivalTypes.
var ErrUnknownArrivalType = errors.New("unknown arrival type")

// ParseArrivalType returns the ArrivalType named s. Names are case-sensitive.
func ParseArrivalType(s string) (ArrivalType, error) {
	for _, t := range ArrivalTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArrivalType, s)
}

// Valid reports whether t is one of ArrivalTypes.
func (t ArrivalType) Valid() bool {
	_, err := ParseArrivalType(string(t))
	return err == nil
}

// UnmarshalText rejects unknown names, so JSON decoding does too.
func (t *ArrivalType) UnmarshalText(text []byte) error {
	parsed, err := ParseArrivalType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Arrival is an announced visit.
type Arrival struct {
	ArrivalType ArrivalType `json:"arrival_type"`
	// When is the visitor's stated arrival time and may lie in the past or
	// the future.
	When time.Time `json:"when"`
	// EditedAt is when the server accepted the latest write. It is never
	// taken from the client.
	EditedAt time.Time `json:"edited_at"`
}
