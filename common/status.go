package common

import (
	"fmt"
	"strings"
)

// Status is the outcome of the download of one product
type Status int

const (
	StatusNEW Status = iota
	StatusPENDING
	StatusDONE
	StatusSKIPPED
	StatusFAILED
	StatusRETRY
)

var statusNames = []string{"NEW", "PENDING", "DONE", "SKIPPED", "FAILED", "RETRY"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// StatusString returns the status from its name
func StatusString(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, s) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%s does not belong to Status values", s)
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(text []byte) error {
	var err error
	*s, err = StatusString(string(text))
	return err
}
