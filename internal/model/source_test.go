package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebSourceConfigValidate(t *testing.T) {
	cfg := DefaultWebSourceConfig()
	assert.NoError(t, cfg.Validate())

	cfg.MaxPages = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultWebSourceConfig()
	cfg.MaxConcurrency = 17
	assert.Error(t, cfg.Validate())

	cfg = DefaultWebSourceConfig()
	cfg.Method = "teleport"
	assert.Error(t, cfg.Validate())
}

func TestCloudSourceConfigValidateRequiresCredential(t *testing.T) {
	cfg := CloudSourceConfig{Provider: CloudProviderNotion, ResourceID: "page-1"}
	assert.Error(t, cfg.Validate())

	cfg.CredentialID = "cred-1"
	assert.NoError(t, cfg.Validate())
}
