package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accesshttp "github.com/odyssey-erp/odyssey-access/internal/access/http"
	"github.com/odyssey-erp/odyssey-access/internal/directory"
	"github.com/odyssey-erp/odyssey-access/internal/guard"
	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/observability"
	"github.com/odyssey-erp/odyssey-access/internal/resolver"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	_ "github.com/odyssey-erp/odyssey-access/internal/testing/guard"
	"github.com/odyssey-erp/odyssey-access/internal/view"
)

const cookieName = "odyssey_session"

var csrfField = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testApp struct {
	handler  http.Handler
	registry *resolver.Registry
	metrics  *observability.Metrics
}

func newTestApp(t *testing.T, checks map[string]Pinger) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dir, err := directory.LoadDevSeed()
	require.NoError(t, err)
	templates, err := view.NewEngine()
	require.NoError(t, err)
	items, err := navigation.Default()
	require.NoError(t, err)

	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second}
	metrics := observability.NewMetrics()
	sessions := shared.NewSessionManager(client, cookieName, "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	registry := resolver.NewRegistry(dir, resolver.Options{Recorder: metrics})

	handler := accesshttp.NewHandler(accesshttp.Config{
		Templates:  templates,
		Sessions:   sessions,
		CSRF:       csrf,
		Registry:   registry,
		Navigation: items,
		Filter:     navigation.Filter{OperationalRoles: []string{"HR"}},
		Guard:      guard.RouteGuard{Wait: 2 * time.Second, Recorder: metrics},
		Recorder:   metrics,
		Wait:       2 * time.Second,
		DevLogin:   cfg.DevLoginEnabled(),
	})

	return &testApp{
		handler: NewRouter(RouterParams{
			Config:         cfg,
			SessionManager: sessions,
			CSRFManager:    csrf,
			Registry:       registry,
			AccessHandler:  handler,
			Metrics:        metrics,
			Checks:         checks,
		}),
		registry: registry,
		metrics:  metrics,
	}
}

// browser carries the session cookie between requests.
type browser struct {
	app    *testApp
	cookie *http.Cookie
	token  string
}

func (b *browser) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rr := httptest.NewRecorder()
	b.app.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.Name != cookieName {
			continue
		}
		if c.MaxAge < 0 {
			b.cookie = nil
		} else {
			b.cookie = c
		}
	}
	if m := csrfField.FindStringSubmatch(rr.Body.String()); m != nil {
		b.token = m[1]
	}
	return rr
}

func (b *browser) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return b.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) postForm(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	form.Set(shared.CSRFFormField, b.token)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(t, req)
}

func (b *browser) signIn(t *testing.T, userID, companyID string) {
	t.Helper()
	rr := b.get(t, "/welcome")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, b.token, "welcome page must carry a csrf token")
	before := b.cookie.Value

	rr = b.postForm(t, "/access/dev/login", url.Values{"user_id": {userID}, "company_id": {companyID}})
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	require.Equal(t, "/", rr.Header().Get("Location"))
	require.NotEqual(t, before, b.cookie.Value, "session id must rotate on sign-in")
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, map[string]Pinger{"redis": pingerFunc(func(context.Context) error { return nil })})
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	app := newTestApp(t, map[string]Pinger{"postgres": pingerFunc(func(context.Context) error { return errors.New("down") })})
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"degraded","failing":"postgres"}`, rr.Body.String())
}

func TestSignedInFlow(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}
	b.signIn(t, "2", "1")

	rr := b.get(t, "/access/snapshot")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"roles":["HR"]`)
	assert.Equal(t, 1, app.registry.Len())

	rr = b.get(t, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `data-panel="leave-approvals"`)
	assert.NotContains(t, rr.Body.String(), `data-panel="payroll"`)

	rr = b.get(t, "/leave/approvals")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = b.get(t, "/finance/payroll")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/access/denied?"))

	rr = b.get(t, rr.Header().Get("Location"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "You do not have access to that page.")
}

func TestOperationalRoleSeesModuleSections(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}
	b.signIn(t, "2", "1")

	rr := b.get(t, "/access/navigation")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"key":"finance.payroll"`, "HR sees enabled modules in the menu")
	assert.NotContains(t, rr.Body.String(), `"key":"revenue`, "disabled modules stay hidden")
}

func TestUnsafeMethodsRequireCSRF(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}
	b.signIn(t, "2", "1")

	body := `{"requirements":{"approve":{"module":"LEAVE","permission":"leave.approve"}}}`
	req := httptest.NewRequest(http.MethodPost, "/access/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := b.do(t, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/access/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", b.token)
	rr = b.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"allowed":true`)
}

func TestSignOutForgetsResolver(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}
	b.signIn(t, "3", "1")

	rr := b.get(t, "/finance/payroll")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, app.registry.Len())

	rr = b.postForm(t, "/access/signout", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, 0, app.registry.Len())
	assert.Nil(t, b.cookie)

	rr = b.get(t, "/")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/welcome", rr.Header().Get("Location"))
}

func TestAnonymousRequestsGetNoResolver(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}

	rr := b.get(t, "/leave/approvals")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, 0, app.registry.Len())
}

func TestMetricsEndpointCountsDecisions(t *testing.T) {
	app := newTestApp(t, nil)
	b := &browser{app: app}
	b.signIn(t, "2", "1")
	b.get(t, "/finance/payroll")

	rr := b.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `odyssey_access_decisions_total{outcome="deny",reason="insufficient_access",surface="route"}`)
	assert.Contains(t, rr.Body.String(), `odyssey_access_resolutions_total{result="ok"}`)
}
