package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"osiris/internal/config"
	"osiris/internal/core/apperror"
	"osiris/internal/domain/reference"
)

func TestMatchEnvironment(t *testing.T) {
	test := config.SRIConfig{Environment: config.EnvironmentTest}
	prod := config.SRIConfig{Environment: config.EnvironmentProduction}

	assert.NoError(t, matchEnvironment(reference.Settings{Environment: "1"}, test))
	assert.NoError(t, matchEnvironment(reference.Settings{Environment: "2"}, prod))

	err := matchEnvironment(reference.Settings{RUC: "1790011674001", Environment: "2"}, test)
	assert.True(t, apperror.IsPreconditionFailed(err))
	err = matchEnvironment(reference.Settings{Environment: "1"}, prod)
	assert.True(t, apperror.IsPreconditionFailed(err))
}
