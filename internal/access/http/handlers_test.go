package accesshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/directory"
	"github.com/odyssey-erp/odyssey-access/internal/guard"
	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/resolver"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/view"
)

type harness struct {
	router   http.Handler
	dir      *directory.Memory
	sess     *shared.Session
	res      *resolver.Resolver
	sessions *shared.SessionManager
	dropped  []string
	// source replaces res in the request context when set.
	source guard.Source
}

func (h *harness) Drop(sessionID string) { h.dropped = append(h.dropped, sessionID) }

func newHarness(t *testing.T, actorID, companyID int64) *harness {
	t.Helper()
	dir, err := directory.LoadDevSeed()
	require.NoError(t, err)
	templates, err := view.NewEngine()
	require.NoError(t, err)
	items, err := navigation.Default()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "sid", "secret", time.Hour, false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)

	res := resolver.New(dir, resolver.Options{})
	if actorID > 0 {
		sess.SetUser(formatID(actorID))
		sess.SetCompany(companyID)
		_, err := res.Resolve(context.Background(), access.Key{ActorID: actorID, TenantID: companyID})
		require.NoError(t, err)
	}

	h := &harness{dir: dir, sess: sess, res: res, sessions: sessions}
	handler := NewHandler(Config{
		Templates:  templates,
		Sessions:   sessions,
		CSRF:       shared.NewCSRFManager("csrf"),
		Registry:   h,
		Navigation: items,
		Guard:      guard.RouteGuard{},
		Wait:       time.Second,
		DevLogin:   true,
	})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithSession(r.Context(), h.sess)
			var src guard.Source = h.res
			if h.source != nil {
				src = h.source
			}
			ctx = guard.ContextWithSource(ctx, src)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	handler.MountRoutes(r)
	h.router = r
	return h
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (h *harness) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

type snapshotJSON struct {
	Snapshot struct {
		CompanyID      int64    `json:"company_id"`
		ActorID        int64    `json:"actor_id"`
		Roles          []string `json:"roles"`
		Permissions    []string `json:"permissions"`
		EnabledModules []string `json:"enabled_modules"`
		IsCompanyAdmin bool     `json:"is_company_admin"`
		Loading        bool     `json:"loading"`
	} `json:"snapshot"`
}

func TestSnapshotEndpoint(t *testing.T) {
	h := newHarness(t, 2, 1)

	rr := h.do(http.MethodGet, "/access/snapshot", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[snapshotJSON](t, rr)
	assert.EqualValues(t, 1, body.Snapshot.CompanyID)
	assert.Equal(t, []string{"HR"}, body.Snapshot.Roles)
	assert.Contains(t, body.Snapshot.EnabledModules, "LEAVE")
	assert.Contains(t, body.Snapshot.EnabledModules, "HR_CORE")
	assert.False(t, body.Snapshot.IsCompanyAdmin)
	assert.False(t, body.Snapshot.Loading)
}

type loadingSource struct{}

func (loadingSource) Snapshot() access.Snapshot {
	return access.LoadingSnapshot(access.Key{ActorID: 1, TenantID: 1})
}
func (loadingSource) Wait(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func TestSnapshotEndpointWhileLoading(t *testing.T) {
	handler := NewHandler(Config{Wait: 5 * time.Millisecond})
	req := httptest.NewRequest(http.MethodGet, "/access/snapshot", nil)
	req = req.WithContext(guard.ContextWithSource(req.Context(), loadingSource{}))
	rr := httptest.NewRecorder()
	handler.handleSnapshot(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.True(t, decode[snapshotJSON](t, rr).Snapshot.Loading)
}

type decisionJSON struct {
	Outcome string `json:"outcome"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Module  string `json:"module"`
	Failed  string `json:"failed"`
}

func TestCheckEndpoint(t *testing.T) {
	h := newHarness(t, 2, 1)

	rr := h.do(http.MethodPost, "/access/check", "application/json", `{"requirements":{
		"approve":{"module":"LEAVE","permission":"leave.approve"},
		"payroll":{"module":"FINANCE","permission":"finance.view_payroll"},
		"invoices":{"module":"REVENUE"},
		"open":{}
	}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decode[struct {
		Loading   bool                    `json:"loading"`
		Decisions map[string]decisionJSON `json:"decisions"`
	}](t, rr)
	assert.False(t, body.Loading)
	assert.True(t, body.Decisions["approve"].Allowed)
	assert.Equal(t, decisionJSON{Outcome: "deny", Reason: "insufficient_access", Failed: "permission"}, body.Decisions["payroll"])
	assert.Equal(t, decisionJSON{Outcome: "deny", Reason: "module_disabled", Module: "REVENUE", Failed: "module"}, body.Decisions["invoices"])
	assert.True(t, body.Decisions["open"].Allowed)
}

func TestCheckEndpointRejectsBadPayloads(t *testing.T) {
	h := newHarness(t, 2, 1)

	for name, payload := range map[string]string{
		"unknown module": `{"requirements":{"x":{"module":"PAYROLL"}}}`,
		"unknown field":  `{"requirements":{"x":{"modul":"LEAVE"}}}`,
		"empty":          `{"requirements":{}}`,
		"not json":       `requirements`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/access/check", "application/json", payload)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, httpx.ProblemContentType, rr.Header().Get("Content-Type"))
		})
	}
}

func TestNavigationEndpoint(t *testing.T) {
	h := newHarness(t, 2, 1)

	rr := h.do(http.MethodGet, "/access/navigation", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Loading bool              `json:"loading"`
		Items   []navigation.Item `json:"items"`
	}](t, rr)

	var top []string
	for _, it := range body.Items {
		top = append(top, it.Key)
	}
	assert.Contains(t, top, "leave")
	assert.Contains(t, top, "hr")
	assert.NotContains(t, top, "finance", "HR holds no finance permission")
	assert.NotContains(t, top, "sales")
}

func TestModulesEndpoint(t *testing.T) {
	h := newHarness(t, 2, 1)

	rr := h.do(http.MethodGet, "/access/modules", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Modules []struct {
			Code      string `json:"code"`
			Mandatory bool   `json:"mandatory"`
			Enabled   bool   `json:"enabled"`
		} `json:"modules"`
	}](t, rr)

	enabled := map[string]bool{}
	for _, m := range body.Modules {
		enabled[m.Code] = m.Enabled
	}
	assert.Len(t, enabled, len(access.Modules()))
	assert.True(t, enabled["FINANCE"])
	assert.True(t, enabled["ADMIN"])
	assert.False(t, enabled["REVENUE"])
}

func TestRefreshEndpointPicksUpChanges(t *testing.T) {
	h := newHarness(t, 2, 1)
	h.dir.SetModule(1, access.ModuleRevenue, true)

	rr := h.do(http.MethodPost, "/access/refresh", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, decode[snapshotJSON](t, rr).Snapshot.EnabledModules, "REVENUE")
}

func TestRefreshEndpointRequiresSignIn(t *testing.T) {
	h := newHarness(t, 0, 0)
	rr := h.do(http.MethodPost, "/access/refresh", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSwitchCompany(t *testing.T) {
	h := newHarness(t, 3, 1)

	rr := h.do(http.MethodPost, "/access/company", "application/json", `{"company_id":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[snapshotJSON](t, rr)
	assert.EqualValues(t, 2, body.Snapshot.CompanyID)
	assert.Equal(t, []string{"sales_rep"}, body.Snapshot.Roles)
	assert.EqualValues(t, 2, h.sess.CompanyID())

	rr = h.do(http.MethodPost, "/access/company", "application/x-www-form-urlencoded", url.Values{"company_id": {"1"}}.Encode())
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, h.sess.CompanyID())
}

func TestSwitchCompanyRefusesNonMember(t *testing.T) {
	h := newHarness(t, 2, 1)

	rr := h.do(http.MethodPost, "/access/company", "application/json", `{"company_id":2}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.EqualValues(t, 1, h.sess.CompanyID())

	require.NoError(t, h.res.Wait(context.Background()))
	assert.Equal(t, access.Key{ActorID: 2, TenantID: 1}, h.res.Snapshot().Key())
	assert.True(t, h.res.Snapshot().HasRole("HR"))

	rr = h.do(http.MethodPost, "/access/company", "application/json", `{"company_id":0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// racedResolver loses every resolution to a concurrent one for another key.
type racedResolver struct {
	*resolver.Resolver
	restarted bool
}

func (r *racedResolver) Resolve(context.Context, access.Key) (access.Snapshot, error) {
	return access.Snapshot{}, resolver.ErrSuperseded
}

func (r *racedResolver) Refresh(context.Context) (access.Snapshot, error) {
	return access.Snapshot{}, resolver.ErrSuperseded
}

func (r *racedResolver) RestartIfCurrent(expected, next access.Key) bool {
	r.restarted = true
	return false
}

func TestSwitchCompanyLosingRaceIsConflict(t *testing.T) {
	h := newHarness(t, 3, 1)
	raced := &racedResolver{Resolver: h.res}
	h.source = raced

	rr := h.do(http.MethodPost, "/access/company", "application/json", `{"company_id":2}`)
	assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	assert.Equal(t, httpx.ProblemContentType, rr.Header().Get("Content-Type"))
	assert.EqualValues(t, 1, h.sess.CompanyID(), "session stays on the previous company")
	assert.False(t, raced.restarted)

	rr = h.do(http.MethodPost, "/access/refresh", "", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSwitchCompanyRotatesCSRFToken(t *testing.T) {
	h := newHarness(t, 3, 1)
	csrf := shared.NewCSRFManager("csrf")
	before, err := csrf.EnsureToken(context.Background(), h.sess)
	require.NoError(t, err)

	rr := h.do(http.MethodPost, "/access/company", "application/json", `{"company_id":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	after := h.sess.Get(shared.CSRFSessionKey)
	assert.NotEmpty(t, after)
	assert.NotEqual(t, before, after)
}

func TestGuardedLeafPages(t *testing.T) {
	hr := newHarness(t, 2, 1)

	rr := hr.do(http.MethodGet, "/leave/approvals", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Approvals")

	rr = hr.do(http.MethodGet, "/finance/payroll", "", "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/access/denied", loc.Path)
	assert.Equal(t, "/finance/payroll", loc.Query().Get("from"))
	assert.Equal(t, "permission", loc.Query().Get("failed"))

	rr = hr.do(http.MethodGet, "/revenue/invoices", "", "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Contains(t, rr.Header().Get("Location"), "/access/module-disabled?")
	assert.Contains(t, rr.Header().Get("Location"), "module=REVENUE")

	finance := newHarness(t, 3, 1)
	rr = finance.do(http.MethodGet, "/finance/payroll", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDenialPages(t *testing.T) {
	h := newHarness(t, 2, 1)

	rr := h.do(http.MethodGet, "/access/module-disabled?module=FINANCE&from=%2Ffinance%2Fpayroll", "", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "The Finance module is not enabled for this company.")
	assert.Contains(t, rr.Body.String(), "/finance/payroll")

	rr = h.do(http.MethodGet, "/access/denied?failed=permission&from=%2F%2Fevil.example", "", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "You do not have access to that page.")
	assert.NotContains(t, rr.Body.String(), "evil.example")
}

func TestHomeRedirectsWhenSignedOut(t *testing.T) {
	h := newHarness(t, 0, 0)
	rr := h.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/welcome", rr.Header().Get("Location"))
}

func TestHomeRendersNavigationForAdmin(t *testing.T) {
	h := newHarness(t, 1, 1)
	rr := h.do(http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/finance/payroll")
	assert.Contains(t, rr.Body.String(), `data-panel="modules"`)
	assert.NotContains(t, rr.Body.String(), "/sales/leads")
}

func TestDevLogin(t *testing.T) {
	h := newHarness(t, 0, 0)
	before := h.sess.ID

	rr := h.do(http.MethodPost, "/access/dev/login", "application/x-www-form-urlencoded", url.Values{
		"user_id":    {"3"},
		"company_id": {"2"},
	}.Encode())
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.EqualValues(t, 3, h.sess.ActorID())
	assert.EqualValues(t, 2, h.sess.CompanyID())
	assert.NotEqual(t, before, h.sess.ID)
	assert.Equal(t, []string{before}, h.dropped)

	rr = h.do(http.MethodPost, "/access/dev/login", "application/x-www-form-urlencoded", "user_id=x&company_id=1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t, 2, 1)
	rr := h.do(http.MethodPost, "/access/signout", "", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, []string{h.sess.ID}, h.dropped)
}
