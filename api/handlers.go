package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
	"taskmaster/gateway"
	"taskmaster/identity"
	"taskmaster/session"
)

const requestBodyMaxSize = 1 << 20

// Server wires the HTTP surface: credential endpoints, the SSE stream that
// carries session frames, and the intent endpoint mutations arrive on.
type Server struct {
	accounts  Accounts
	profiles  Profiles
	store     Store
	snapshots Snapshots
	logger    *log.Logger

	mu    sync.Mutex
	conns map[string]*streamConn
}

type streamConn struct {
	userID  string
	client  *identity.Client
	session *session.Session
}

// NewServer creates the HTTP server facade.
func NewServer(accounts Accounts, profiles Profiles, store Store, snapshots Snapshots, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{
		accounts:  accounts,
		profiles:  profiles,
		store:     store,
		snapshots: snapshots,
		logger:    logger,
		conns:     make(map[string]*streamConn),
	}
}

// Register wires up all routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/api/auth/signup", s.signUp)
	e.POST("/api/auth/signin", s.signIn)
	e.POST("/api/auth/signout", s.signOut)
	e.GET("/api/stream", s.stream)
	e.POST("/api/selection", s.updateSelection)
	e.POST("/api/intents", s.postIntents)
	e.GET("/api/profile", s.getProfile)
	e.GET("/healthz", s.healthz)
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) signUp(c echo.Context) error {
	var req credentialsRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	id, token, err := s.accounts.SignUp(c.Request().Context(), req.Email, req.Password, req.DisplayName)
	switch {
	case errors.Is(err, domain.ErrEmailInUse):
		return c.String(http.StatusConflict, "email already in use")
	case errors.Is(err, domain.ErrWeakPassword):
		return c.String(http.StatusBadRequest, "password too short")
	case errors.Is(err, domain.ErrInvalidCredentials):
		return c.String(http.StatusBadRequest, "invalid email")
	case err != nil:
		s.logger.WithError(err).Error("signup failed")
		return c.String(http.StatusInternalServerError, "unable to create account")
	}
	return c.JSON(http.StatusCreated, authResponse{Token: token, Identity: id})
}

func (s *Server) signIn(c echo.Context) error {
	var req credentialsRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	id, token, err := s.accounts.SignIn(c.Request().Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return c.String(http.StatusUnauthorized, "invalid email or password")
	case err != nil:
		s.logger.WithError(err).Error("signin failed")
		return c.String(http.StatusInternalServerError, "unable to sign in")
	}
	return c.JSON(http.StatusOK, authResponse{Token: token, Identity: id})
}

// stream opens the server-sent event stream one client session lives on.
// The first event names the connection; every following event is a full
// session frame.
func (s *Server) stream(c echo.Context) error {
	ctx := c.Request().Context()
	metrics, spanCtx := newStreamMetrics(ctx, s.logger)
	if spanCtx != nil {
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx = spanCtx
	}
	var err error
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	var id domain.Identity
	token, tokenErr := bearerToken(c)
	if tokenErr == nil {
		id, tokenErr = s.accounts.Resolve(ctx, token)
	}
	metrics.ObserveAuth(time.Since(authStart))
	if tokenErr != nil {
		metrics.SetErrorStage("auth")
		err = c.String(http.StatusUnauthorized, tokenErr.Error())
		return err
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		metrics.SetErrorStage("flusher")
		err = c.String(http.StatusInternalServerError, "stream unsupported")
		return err
	}

	client := s.accounts.Watch(id)
	sess := session.New(s.snapshots, client.Identity(), s.logger)

	connID := uuid.NewString()
	s.mu.Lock()
	s.conns[connID] = &streamConn{userID: id.ID, client: client, session: sess}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
		client.Close()
	}()

	go sess.Run(ctx)

	if sel, ok := selectionFromQuery(c); ok {
		sess.Select(sel)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	if err = writeEvent(c, "connected", connectedEvent{ConnectionID: connID}); err != nil {
		metrics.SetErrorStage("write")
		return err
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, open := <-sess.Outputs():
			if !open {
				return nil
			}
			if err = writeEvent(c, "", frame); err != nil {
				metrics.SetErrorStage("write")
				return err
			}
			flusher.Flush()
			metrics.AddFrame()
		}
	}
}

func writeEvent(c echo.Context, event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := c.Response().Write([]byte("event: " + event + "\n")); err != nil {
			return err
		}
	}
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	_, err = c.Response().Write([]byte("\n\n"))
	return err
}

// connForRequest authenticates the caller and resolves the named
// connection, ensuring it belongs to the same user.
func (s *Server) connForRequest(c echo.Context, connID string) (*streamConn, error) {
	token, err := bearerToken(c)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := s.accounts.Resolve(c.Request().Context(), token)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	s.mu.Lock()
	conn := s.conns[connID]
	s.mu.Unlock()
	if conn == nil || conn.userID != id.ID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown connection")
	}
	return conn, nil
}

// selectionFromQuery seeds the initial selection from stream query
// parameters. The second return is false when no parameter is present.
func selectionFromQuery(c echo.Context) (domain.Selection, bool) {
	sel := domain.DefaultSelection()
	seeded := false
	if v := c.QueryParam("category"); v != "" {
		sel.Category = v
		seeded = true
	}
	if v := c.QueryParam("q"); v != "" {
		sel.Search = v
		seeded = true
	}
	if v := c.QueryParam("priority"); v != "" {
		sel.Priority = v
		seeded = true
	}
	if v := c.QueryParam("sortBy"); v != "" {
		sel.SortBy = v
		seeded = true
	}
	return sel, seeded
}

func (s *Server) updateSelection(c echo.Context) error {
	var req selectionRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	conn, err := s.connForRequest(c, req.ConnectionID)
	if err != nil {
		return err
	}
	conn.session.Select(req.Selection)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) signOut(c echo.Context) error {
	var req connectionRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	conn, err := s.connForRequest(c, req.ConnectionID)
	if err != nil {
		return err
	}
	conn.client.SignOut()
	return c.NoContent(http.StatusNoContent)
}

// requestConfirmer answers gateway confirmation prompts from the intent
// payload: a resubmitted intent with confirmed set approves, everything
// else is recorded and declined so the client can ask the user.
type requestConfirmer struct {
	approved bool
	pending  *domain.ConfirmationRequest
}

func (r *requestConfirmer) Confirm(ctx context.Context, req domain.ConfirmationRequest) (bool, error) {
	if r.approved {
		return true, nil
	}
	r.pending = &req
	return false, nil
}

func (s *Server) postIntents(c echo.Context) error {
	ctx := c.Request().Context()
	token, err := bearerToken(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id, err := s.accounts.Resolve(ctx, token)
	if err != nil {
		return c.String(http.StatusUnauthorized, "invalid token")
	}

	var req intentRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}

	var resp intentResponse
	confirmer := &requestConfirmer{approved: req.Confirmed}
	g := gateway.New(s.store, s.accounts, confirmer, func(n domain.Notification) {
		resp.Notifications = append(resp.Notifications, n)
	}, s.logger)

	var opErr error
	switch req.Type {
	case "addTask":
		if req.Task == nil {
			return c.String(http.StatusBadRequest, "missing task")
		}
		resp.ID, opErr = g.AddTask(ctx, id.ID, *req.Task)
	case "updateTask":
		if req.Update == nil {
			return c.String(http.StatusBadRequest, "missing update")
		}
		opErr = g.UpdateTask(ctx, id.ID, req.ID, *req.Update)
	case "toggleComplete":
		if req.Completed == nil {
			return c.String(http.StatusBadRequest, "missing completed flag")
		}
		opErr = g.ToggleComplete(ctx, id.ID, req.ID, *req.Completed)
	case "deleteTask":
		opErr = g.DeleteTask(ctx, id.ID, req.ID)
	case "addCategory":
		resp.ID, opErr = g.AddCategory(ctx, id.ID, req.Name)
	case "renameCategory":
		opErr = g.RenameCategory(ctx, id.ID, req.ID, req.NewName)
	case "deleteCategory":
		opErr = g.DeleteCategory(ctx, id.ID, req.ID)
	case "renameLabel":
		opErr = g.RenameLabel(ctx, id.ID, req.Label, req.NewName)
	case "deleteLabel":
		opErr = g.DeleteLabel(ctx, id.ID, req.Label)
	case "updateProfile":
		opErr = g.UpdateProfile(ctx, id.ID, req.DisplayName)
	case "updateSettings":
		if req.Settings == nil {
			return c.String(http.StatusBadRequest, "missing settings")
		}
		opErr = g.UpdateSettings(ctx, id.ID, *req.Settings)
	case "deleteAccount":
		opErr = g.DeleteAccount(ctx, id.ID, req.Phrase)
	default:
		return c.String(http.StatusBadRequest, "unknown intent type")
	}

	resp.Confirmation = confirmer.pending
	status := statusForIntentError(opErr)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(opErr).WithFields(log.Fields{
			"intent": req.Type,
			"user":   id.ID,
		}).Error("intent failed")
	}
	return c.JSON(status, resp)
}

func statusForIntentError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateCategory):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyTitle),
		errors.Is(err, domain.ErrEmptyCategoryName),
		errors.Is(err, domain.ErrConfirmationRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getProfile(c echo.Context) error {
	token, err := bearerToken(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id, err := s.accounts.Resolve(c.Request().Context(), token)
	if err != nil {
		return c.String(http.StatusUnauthorized, "invalid token")
	}

	profile, err := s.profiles.GetProfile(c.Request().Context(), id.ID)
	if err != nil {
		s.logger.WithError(err).Error("unable to load profile")
		return c.String(http.StatusInternalServerError, "unable to load profile")
	}
	if profile == nil {
		return c.String(http.StatusNotFound, "profile not found")
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
