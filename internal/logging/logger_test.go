package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestL_ReturnsUsableLogger(t *testing.T) {
	logger := L()
	assert.NotNil(t, logger)
	logger.Info("logger smoke test")
}

func TestS_ReturnsUsableSugaredLogger(t *testing.T) {
	sugared := S()
	assert.NotNil(t, sugared)
	sugared.Infow("sugared logger smoke test", "key", "value")
}

func TestWithContext_AddsFields(t *testing.T) {
	logger := WithContext()
	assert.NotNil(t, logger)
}
