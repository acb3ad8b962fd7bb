package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyHolderFallsBackToDefaults(t *testing.T) {
	holder, err := NewPolicyConfigHolder(Config{
		PolicyConfigPath: filepath.Join(t.TempDir(), "missing.yml"),
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultPolicyConfig(), holder.Get())
}

func TestPolicyHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	content := []byte(`policy:
  roleLadder:
    - Volunteer
    - staff
    - supervisor
    - director
  batch:
    maxMembers: 25
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewPolicyConfigHolder(Config{PolicyConfigPath: path})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, []string{"volunteer", "staff", "supervisor", "director"}, cfg.RoleLadder)
	assert.Equal(t, 25, cfg.Batch.MaxMembers)
}

func TestPolicyHolderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	content := []byte(`policy:
  roleLadder:
    - worker
    - admin
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := NewPolicyConfigHolder(Config{PolicyConfigPath: path})
	assert.Error(t, err)
}

func TestPolicyHolderStoreNotifiesListeners(t *testing.T) {
	holder, err := NewStaticPolicyConfigHolder(DefaultPolicyConfig())
	require.NoError(t, err)

	var seen []PolicyConfig
	holder.OnChange(func(cfg PolicyConfig) {
		seen = append(seen, cfg)
	})

	err = holder.Store(PolicyConfig{RoleLadder: []string{"staff", "supervisor"}})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"staff", "supervisor"}, holder.Get().RoleLadder)

	err = holder.Store(PolicyConfig{RoleLadder: []string{"staff", "staff", "supervisor"}})
	assert.Error(t, err)
	assert.Len(t, seen, 1)
	assert.Equal(t, []string{"staff", "supervisor"}, holder.Get().RoleLadder)
}
