package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageStatus(t *testing.T) {
	assert.Equal(t, "unset", PageStatusUnset.String())
	assert.Equal(t, "success", PageStatusSuccess.String())

	for _, s := range []PageStatus{PageStatusPending, PageStatusSuccess, PageStatusFailure} {
		assert.True(t, s.IsValid(), s.String())
	}
	for _, s := range []PageStatus{PageStatusUnset, PageStatusNotFound, PageStatusDBError, "bogus"} {
		assert.False(t, s.IsValid(), s.String())
	}
}

func TestResourceStatus(t *testing.T) {
	assert.Equal(t, "unset", ResourceStatusUnset.String())
	assert.Equal(t, "skipped", ResourceStatusSkipped.String())

	for _, s := range []ResourceStatus{ResourceStatusSuccess, ResourceStatusFailure, ResourceStatusSkipped} {
		assert.True(t, s.IsValid(), s.String())
	}
	for _, s := range []ResourceStatus{ResourceStatusUnset, ResourceStatusNotFound, ResourceStatusDBError} {
		assert.False(t, s.IsValid(), s.String())
	}
}
