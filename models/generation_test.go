package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextGenerationState(t *testing.T) {
	tests := []struct {
		name  string
		from  GenerationState
		event GenerationEvent
		want  GenerationState
		err   bool
	}{
		{"install completes", GenerationInstalling, EventInstalled, GenerationWaiting, false},
		{"install fails", GenerationInstalling, EventInstallFailed, GenerationRedundant, false},
		{"skip waiting activates", GenerationWaiting, EventSkipWaiting, GenerationActive, false},
		{"active superseded", GenerationActive, EventSuperseded, GenerationRedundant, false},
		{"waiting superseded", GenerationWaiting, EventSuperseded, GenerationRedundant, false},
		{"skip waiting while installing", GenerationInstalling, EventSkipWaiting, GenerationInstalling, true},
		{"installed twice", GenerationWaiting, EventInstalled, GenerationWaiting, true},
		{"redundant is terminal", GenerationRedundant, EventSkipWaiting, GenerationRedundant, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextGenerationState(tt.from, tt.event)
			if tt.err {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheName(t *testing.T) {
	assert.Equal(t, "vanocni-darky-v2", CacheName("v2"))
}

func TestGiftValidity(t *testing.T) {
	assert.True(t, Gift{Who: "Ann", Item: "Book"}.IsValid())
	assert.False(t, Gift{Who: "  ", Item: "Book"}.IsValid())
	assert.False(t, Gift{Who: "Ann", Item: "\t"}.IsValid())

	g := Gift{Who: " Ann ", Item: " Book", Status: "Hotovo "}.Normalized()
	assert.Equal(t, GiftKey{Who: "Ann", Item: "Book"}, g.Key())
	assert.Equal(t, "Hotovo", g.Status)
}
