package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisabledWithoutDSN(t *testing.T) {
	assert.NoError(t, Init("", "test"))
	assert.False(t, enabled)

	assert.NotPanics(t, func() {
		CaptureUserError(errors.New("boom"), "u1", map[string]string{"trigger": "scheduled"})
		CapturePanic("boom", "u1")
		Flush(time.Millisecond)
	})
}

func TestInit_RejectsBadDSN(t *testing.T) {
	err := Init("ftp://key@example.com/1", "test")
	assert.Error(t, err)
	assert.False(t, enabled)
}
