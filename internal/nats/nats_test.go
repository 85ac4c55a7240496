package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelayIsBoundedExponential(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, ReconnectDelay(0))
	assert.Equal(t, 500*time.Millisecond, ReconnectDelay(1))
	assert.Equal(t, time.Second, ReconnectDelay(2))
	assert.Equal(t, 2*time.Second, ReconnectDelay(3))
	assert.Equal(t, reconnectMax, ReconnectDelay(20))
	assert.Equal(t, reconnectMax, ReconnectDelay(1000))
}
