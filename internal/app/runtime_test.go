package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(TestModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())

	t.Setenv(TestModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func TestStaticAssetsServedWithType(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}
	rr := b.get(t, "/static/css/app.css")

	assert.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/css")
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))
}
