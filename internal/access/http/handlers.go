package accesshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/guard"
	"github.com/odyssey-erp/odyssey-access/internal/navigation"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/resolver"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/view"
)

const refreshTimeout = 5 * time.Second

var (
	errSignedOut   = errors.New("access: not signed in")
	errNotMember   = errors.New("access: no active role in company")
	errNoResolver  = errors.New("access: session has no resolver")
	errBadCompany  = errors.New("access: company_id must be a positive integer")
	errBadIdentity = errors.New("access: user_id and company_id must be positive integers")
)

// Resolver is the per-session resolver the session middleware places in the
// request context.
type Resolver interface {
	guard.Source
	Key() access.Key
	RestartIfCurrent(expected, next access.Key) bool
	Resolve(ctx context.Context, key access.Key) (access.Snapshot, error)
	Refresh(ctx context.Context) (access.Snapshot, error)
}

// SessionRegistry forgets the resolver of a session.
type SessionRegistry interface {
	Drop(sessionID string)
}

// Config wires the handler.
type Config struct {
	Logger     *slog.Logger
	Templates  *view.Engine
	Sessions   *shared.SessionManager
	CSRF       *shared.CSRFManager
	Registry   SessionRegistry
	Navigation []navigation.Item
	Filter     navigation.Filter
	Guard      guard.RouteGuard
	Recorder   guard.Recorder
	// Wait bounds how long read endpoints wait for a loading snapshot.
	Wait time.Duration
	// DevLogin enables POST /access/dev/login.
	DevLogin bool
}

// Handler serves the access API and the pages guarded by it.
type Handler struct {
	cfg Config
}

// NewHandler constructs the access HTTP handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg}
}

type snapshotResponse struct {
	Snapshot access.Snapshot `json:"snapshot"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := guard.Await(r.Context(), h.cfg.Wait)
	status := http.StatusOK
	if snap.Loading() {
		status = http.StatusAccepted
		w.Header().Set("Retry-After", "1")
	}
	httpx.JSON(w, status, snapshotResponse{Snapshot: snap})
}

type checkRequest struct {
	Requirements map[string]access.Requirement `json:"requirements" validate:"required,min=1,max=64,dive,keys,required,max=64,endkeys"`
}

type checkResponse struct {
	Loading   bool                       `json:"loading"`
	Decisions map[string]access.Decision `json:"decisions"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeStrict(w, r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := access.Validator().Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	for name, requirement := range req.Requirements {
		if err := access.ValidateRequirement(requirement); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %s: %w", httpx.ErrValidation, name, err))
			return
		}
	}

	snap := guard.Await(r.Context(), h.cfg.Wait)
	resp := checkResponse{Loading: snap.Loading(), Decisions: make(map[string]access.Decision, len(req.Requirements))}
	for name, requirement := range req.Requirements {
		d := access.Evaluate(snap, requirement)
		if h.cfg.Recorder != nil {
			h.cfg.Recorder.ObserveDecision(guard.SurfaceAPI, d)
		}
		resp.Decisions[name] = d
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolver(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !res.Key().Valid() {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, errSignedOut))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()
	snap, err := res.Refresh(ctx)
	if errors.Is(err, resolver.ErrSuperseded) {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrConflict, err))
		return
	}
	if err != nil {
		h.cfg.Logger.Warn("access refresh still running", slog.Any("error", err))
		w.Header().Set("Retry-After", "1")
		httpx.JSON(w, http.StatusAccepted, snapshotResponse{Snapshot: snap})
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotResponse{Snapshot: snap})
}

type navigationResponse struct {
	Loading bool              `json:"loading"`
	Items   []navigation.Item `json:"items"`
}

func (h *Handler) handleNavigation(w http.ResponseWriter, r *http.Request) {
	snap := guard.Await(r.Context(), h.cfg.Wait)
	httpx.JSON(w, http.StatusOK, navigationResponse{
		Loading: snap.Loading(),
		Items:   h.cfg.Filter.Apply(h.cfg.Navigation, snap),
	})
}

type moduleView struct {
	access.ModuleInfo
	Enabled bool `json:"enabled"`
}

type modulesResponse struct {
	Loading bool         `json:"loading"`
	Modules []moduleView `json:"modules"`
}

func (h *Handler) handleModules(w http.ResponseWriter, r *http.Request) {
	snap := guard.Await(r.Context(), h.cfg.Wait)
	catalog := access.Modules()
	resp := modulesResponse{Loading: snap.Loading(), Modules: make([]moduleView, 0, len(catalog))}
	for _, info := range catalog {
		resp.Modules = append(resp.Modules, moduleView{ModuleInfo: info, Enabled: snap.ModuleEnabled(info.Code)})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type companyRequest struct {
	CompanyID int64 `json:"company_id" validate:"required,gt=0"`
}

// handleSwitchCompany rebinds the session to another company and resolves
// the new snapshot. Actors without an active role there are refused and the
// previous company is restored.
func (h *Handler) handleSwitchCompany(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	res, err := h.resolver(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID := sess.ActorID()
	if actorID == 0 {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, errSignedOut))
		return
	}

	var req companyRequest
	if isJSON(r) {
		if err := decodeStrict(w, r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	} else {
		req.CompanyID, _ = strconv.ParseInt(strings.TrimSpace(r.PostFormValue("company_id")), 10, 64)
	}
	if err := access.Validator().Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, errBadCompany))
		return
	}

	previous := res.Key()
	target := access.Key{ActorID: actorID, TenantID: req.CompanyID}
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()
	snap, err := res.Resolve(ctx, target)
	switch {
	case errors.Is(err, resolver.ErrSuperseded):
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrConflict, err))
		return
	case err == nil && len(snap.Roles()) == 0:
		res.RestartIfCurrent(target, previous)
		h.cfg.Logger.Info("company switch refused",
			slog.Int64("actor_id", actorID),
			slog.Int64("company_id", req.CompanyID))
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrForbidden, errNotMember))
		return
	}
	sess.SetCompany(req.CompanyID)
	if h.cfg.CSRF != nil {
		h.cfg.CSRF.Rotate(sess)
	}
	status := http.StatusOK
	if snap.Loading() {
		status = http.StatusAccepted
	}
	httpx.JSON(w, status, snapshotResponse{Snapshot: snap})
}

// handleSignOut discards the session and its snapshot.
func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if h.cfg.Registry != nil {
			h.cfg.Registry.Drop(sess.ID)
		}
		h.cfg.Sessions.Destroy(sess)
	}
	http.Redirect(w, r, "/welcome", http.StatusSeeOther)
}

// handleDevLogin signs in as any actor. It is mounted outside production only.
func (h *Handler) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, errSignedOut))
		return
	}
	userID, errUser := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("user_id")), 10, 64)
	companyID, errCompany := strconv.ParseInt(strings.TrimSpace(r.PostFormValue("company_id")), 10, 64)
	if errUser != nil || errCompany != nil || userID <= 0 || companyID <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, errBadIdentity))
		return
	}
	if h.cfg.Registry != nil {
		h.cfg.Registry.Drop(sess.ID)
	}
	sess.Regenerate(h.cfg.Sessions)
	sess.SetUser(strconv.FormatInt(userID, 10))
	sess.SetCompany(companyID)
	h.cfg.Logger.Info("dev login", slog.Int64("actor_id", userID), slog.Int64("company_id", companyID))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) resolver(r *http.Request) (Resolver, error) {
	res, ok := guard.SourceFromContext(r.Context()).(Resolver)
	if !ok {
		return nil, fmt.Errorf("%w: %w", httpx.ErrUnauthorized, errNoResolver)
	}
	return res, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func decodeStrict(w http.ResponseWriter, r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
