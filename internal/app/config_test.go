package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DirectoryPostgres, cfg.DirectoryDriver)
	assert.Equal(t, "company_admin", cfg.AccessAdminRole)
	assert.Equal(t, []string{"HR"}, cfg.AccessOperationalRoles)
	assert.Equal(t, "/access/denied", cfg.AccessDeniedPath)
	assert.Equal(t, 10*time.Second, cfg.AccessResolveTimeout)
	assert.True(t, cfg.DevLoginEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DIRECTORY_DRIVER", "memory")
	t.Setenv("ACCESS_OPERATIONAL_ROLES", "HR,payroll_clerk")
	t.Setenv("ACCESS_GUARD_WAIT", "500ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DirectoryMemory, cfg.DirectoryDriver)
	assert.Equal(t, []string{"HR", "payroll_clerk"}, cfg.AccessOperationalRoles)
	assert.Equal(t, 500*time.Millisecond, cfg.AccessGuardWait)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	for name, env := range map[string][2]string{
		"driver":      {"DIRECTORY_DRIVER", "mysql"},
		"denied path": {"ACCESS_DENIED_PATH", "access/denied"},
		"log format":  {"LOG_FORMAT", "xml"},
		"timeout":     {"ACCESS_RESOLVE_TIMEOUT", "0s"},
	} {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(env[0], env[1])
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestMemoryDirectoryNotAllowedInProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DIRECTORY_DRIVER", "memory")
	_, err := LoadConfig()
	assert.Error(t, err)
}
