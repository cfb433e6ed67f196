package main

import (
	"errors"
	"testing"

	"github.com/deveasyclick/billpay/services"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(services.NotFound("payment %s not found", "REF")))
	assert.Equal(t, 3, exitCode(services.Conflict("payment %s is already %s", "REF", "SUCCESS")))
	assert.Equal(t, 1, exitCode(services.Internal("failed to load payment", nil)))
	assert.Equal(t, 1, exitCode(errors.New("load config: missing POSTGRES_HOST")))
}
