package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLogger(t *testing.T) {
	logger := TestLogger(t)
	assert.NotNil(t, logger)
	logger.Println("captured by the test log buffer")
}

func Test_testWriter(t *testing.T) {
	n, err := testWriter{t: t}.Write([]byte("line\n"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n, "expected the full write acknowledged")
}
