package models

import (
	"fmt"
	"time"
)

// GenerationState is the lifecycle position of a cache generation
type GenerationState string

const (
	GenerationInstalling GenerationState = "installing"
	GenerationWaiting    GenerationState = "waiting"
	GenerationActive     GenerationState = "active"
	GenerationRedundant  GenerationState = "redundant"
)

// GenerationEvent drives a generation from one state to the next
type GenerationEvent string

const (
	EventInstalled     GenerationEvent = "installed"
	EventInstallFailed GenerationEvent = "install_failed"
	EventSkipWaiting   GenerationEvent = "skip_waiting"
	EventSuperseded    GenerationEvent = "superseded"
)

// NextGenerationState applies one event to a state
func NextGenerationState(state GenerationState, event GenerationEvent) (GenerationState, error) {
	switch event {
	case EventInstalled:
		if state == GenerationInstalling {
			return GenerationWaiting, nil
		}
	case EventInstallFailed:
		if state == GenerationInstalling {
			return GenerationRedundant, nil
		}
	case EventSkipWaiting:
		if state == GenerationWaiting {
			return GenerationActive, nil
		}
	case EventSuperseded:
		if state == GenerationActive || state == GenerationWaiting {
			return GenerationRedundant, nil
		}
	}
	return state, fmt.Errorf("invalid generation transition: %s on %s", event, state)
}

// Generation is one versioned set of offline resources
type Generation struct {
	Version     string          `json:"version"`
	CacheID     string          `json:"cacheId"`
	Resources   []string        `json:"resources"`
	State       GenerationState `json:"state"`
	InstalledAt time.Time       `json:"installedAt,omitempty"`
	ActivatedAt time.Time       `json:"activatedAt,omitempty"`
}

// CacheName derives the cache id of a generation from its version
func CacheName(version string) string {
	return "vanocni-darky-" + version
}
