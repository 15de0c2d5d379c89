package enums

import "fmt"

// SyncPhase tracks where a cart's remote reconciliation stands.
type SyncPhase string

const (
	SyncPhaseIdle    SyncPhase = "idle"
	SyncPhaseLoading SyncPhase = "loading"
	SyncPhaseSynced  SyncPhase = "synced"
)

var validSyncPhases = []SyncPhase{
	SyncPhaseIdle,
	SyncPhaseLoading,
	SyncPhaseSynced,
}

// String implements fmt.Stringer.
func (p SyncPhase) String() string {
	return string(p)
}

// IsValid reports whether the value is a known SyncPhase.
func (p SyncPhase) IsValid() bool {
	for _, candidate := range validSyncPhases {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseSyncPhase converts raw input into a SyncPhase.
func ParseSyncPhase(value string) (SyncPhase, error) {
	for _, candidate := range validSyncPhases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync phase %q", value)
}
