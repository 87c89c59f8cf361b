package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombinationRoundTrip(t *testing.T) {
	for _, name := range CombinationNames() {
		set, ok := CombinationSet(name)
		require.True(t, ok, name)
		assert.Equal(t, name, DetectCombination(set), name)
	}
}

func TestDetectCombinationCustom(t *testing.T) {
	custom := PermissionSet{Connect: true, Select: true, Insert: true}
	assert.Equal(t, CombinationCustom, DetectCombination(custom))
}

func TestCombinationSetUnknownName(t *testing.T) {
	_, ok := CombinationSet("superuser")
	assert.False(t, ok)
}

func TestPermissionSetValidate(t *testing.T) {
	assert.NoError(t, PermissionSet{}.Validate())
	assert.NoError(t, PermissionSet{Connect: true, Select: true}.Validate())
	assert.Error(t, PermissionSet{Select: true}.Validate())
	assert.Error(t, PermissionSet{Create: true}.Validate())
}
