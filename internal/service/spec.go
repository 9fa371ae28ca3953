package service

import (
	"fmt"
	"strings"
)

// Kind groups services for bulk operations.
type Kind string

const (
	KindBackend  Kind = "backend"
	KindFrontend Kind = "frontend"
	KindOther    Kind = "other"
)

// ParseKind normalizes s case-insensitively. Unknown values return an error.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindBackend:
		return KindBackend, nil
	case KindFrontend:
		return KindFrontend, nil
	case KindOther:
		return KindOther, nil
	}
	return "", fmt.Errorf("unknown service kind %q (want backend, frontend or other)", s)
}

// Is reports whether k equals other ignoring case.
func (k Kind) Is(other string) bool { return strings.EqualFold(string(k), other) }

// Spec is the user-authored definition of a supervised service.
// Specs are replaced wholesale on edit, never mutated in place.
type Spec struct {
	Name     string `json:"name" mapstructure:"name"`
	Kind     Kind   `json:"kind" mapstructure:"kind"`
	StartCmd string `json:"start_cmd" mapstructure:"start_cmd"`
	// WorkingDir is the optional cwd for StartCmd.
	WorkingDir string `json:"working_dir,omitempty" mapstructure:"working_dir"`
	// MatchKeywords must all appear in a process command line for it to belong
	// to this service. An empty list matches nothing.
	MatchKeywords []string `json:"match_keywords" mapstructure:"match_keywords"`
	// Ports are expectations only; actual listeners are discovered by scanning.
	Ports []int `json:"ports" mapstructure:"ports"`

	APIURL       string `json:"api_url,omitempty" mapstructure:"api_url"`
	TailscaleURL string `json:"tailscale_url,omitempty" mapstructure:"tailscale_url"`
	Description  string `json:"description,omitempty" mapstructure:"description"`
}

// Clone returns a deep copy so callers can't alias registry slices. Nil
// slices come back empty so they encode as [] rather than null.
func (s Spec) Clone() Spec {
	c := s
	c.MatchKeywords = append([]string{}, s.MatchKeywords...)
	c.Ports = append([]int{}, s.Ports...)
	return c
}

// HasPort reports whether port is one of the expected ports.
func (s Spec) HasPort(port int) bool {
	for _, p := range s.Ports {
		if p == port {
			return true
		}
	}
	return false
}
