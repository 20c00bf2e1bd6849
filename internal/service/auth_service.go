package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"shop-admin/internal/domain"
	"shop-admin/internal/gateway"
	"shop-admin/internal/guard"
	"shop-admin/internal/observability"
	"shop-admin/internal/session"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

const loginFailedMessage = "Login failed"

// APIClient is the subset of the gateway the services call through
type APIClient interface {
	Call(ctx context.Context, req gateway.Request) (*gateway.Response, error)
	CallPublic(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Navigator moves the console to another screen
type Navigator interface {
	Navigate(location string) bool
}

type loginForm struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=200"`
}

type loginResponse struct {
	Success bool            `json:"success"`
	Token   string          `json:"token"`
	Owner   json.RawMessage `json:"owner"`
	Message string          `json:"message"`
}

// AuthService runs the restore, login and logout protocols against the session
type AuthService struct {
	machine  *session.Machine
	api      APIClient
	store    domain.CredentialStore
	nav      Navigator
	validate *validator.Validate
	limiter  *rate.Limiter

	restoreOnce sync.Once
}

// AuthOption configures an AuthService
type AuthOption func(*AuthService)

// WithLoginLimiter throttles login attempts
func WithLoginLimiter(l *rate.Limiter) AuthOption {
	return func(s *AuthService) {
		s.limiter = l
	}
}

func NewAuthService(machine *session.Machine, api APIClient, store domain.CredentialStore, nav Navigator, opts ...AuthOption) *AuthService {
	s := &AuthService{
		machine:  machine,
		api:      api,
		store:    store,
		nav:      nav,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore rebuilds the session from persisted credentials. Only the first call in
// the process has any effect.
func (s *AuthService) Restore(ctx context.Context) {
	s.restoreOnce.Do(func() {
		s.restore(ctx)
	})
}

func (s *AuthService) restore(ctx context.Context) {
	s.machine.BeginLoad()
	defer s.machine.FinishLoad()

	token, hasToken := s.store.Get(ctx, domain.KeyToken)
	raw, hasProfile := s.store.Get(ctx, domain.KeyProfile)

	if !hasToken || !hasProfile || token == "" {
		slog.Info("no stored session found")
		s.machine.Clear(ctx)
		return
	}

	profile, err := domain.ParseProfile(raw)
	if err != nil {
		slog.Warn("stored profile unreadable, discarding session",
			slog.String("error", err.Error()))
		s.machine.Clear(ctx)
		return
	}

	s.machine.Authenticate(ctx, token, profile)
	slog.Info("session restored", slog.String("username", profile.Username))
}

// Login exchanges credentials for a session. On failure the session error holds
// the message to show and the returned error carries the cause.
func (s *AuthService) Login(ctx context.Context, username, password string) error {
	form := loginForm{Username: strings.TrimSpace(username), Password: password}
	if err := s.validateForm(form); err != nil {
		observability.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		return err
	}

	if s.limiter != nil && !s.limiter.Allow() {
		observability.LoginAttemptsTotal.WithLabelValues("throttled").Inc()
		return domain.ErrTooManyAttempts
	}

	logger := observability.FromContext(observability.WithUsername(ctx, form.Username))

	s.machine.BeginLoad()
	defer s.machine.FinishLoad()

	token, profile, err := s.exchange(ctx, form)
	if err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			observability.LoginAttemptsTotal.WithLabelValues("rejected").Inc()
			logger.Info("login rejected", slog.Int("status", apiErr.Status))
			s.machine.Fail(apiErr.Message)
		} else {
			observability.LoginAttemptsTotal.WithLabelValues("error").Inc()
			logger.Error("login request failed", slog.String("error", err.Error()))
			s.machine.Fail(loginFailedMessage)
		}
		return err
	}

	s.machine.Authenticate(ctx, token, profile)
	observability.LoginAttemptsTotal.WithLabelValues("success").Inc()
	logger.Info("login succeeded")

	s.nav.Navigate(guard.LocationHome)
	return nil
}

func (s *AuthService) exchange(ctx context.Context, form loginForm) (string, *domain.Profile, error) {
	resp, err := s.api.CallPublic(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/login",
		Body:   form,
	})
	if err != nil {
		return "", nil, err
	}

	var body loginResponse
	if err := resp.Decode(&body); err != nil {
		return "", nil, fmt.Errorf("invalid login response: %w", err)
	}

	if !body.Success {
		return "", nil, &domain.APIError{Status: resp.StatusCode, Message: messageOr(body.Message, loginFailedMessage)}
	}
	if body.Token == "" || len(body.Owner) == 0 {
		return "", nil, &domain.APIError{Status: resp.StatusCode, Message: loginFailedMessage}
	}

	profile, err := domain.ParseProfile(string(body.Owner))
	if err != nil {
		return "", nil, &domain.APIError{Status: resp.StatusCode, Message: loginFailedMessage}
	}
	return body.Token, profile, nil
}

// Logout ends the session and returns to the login screen
func (s *AuthService) Logout(ctx context.Context) {
	s.machine.Clear(ctx)
	s.nav.Navigate(guard.LocationLogin)
	slog.Info("logged out")
}

// Expire handles the API rejecting the session. Navigation is left to the guard.
func (s *AuthService) Expire(ctx context.Context) {
	s.machine.Expire(ctx)
}

func (s *AuthService) validateForm(form loginForm) error {
	err := s.validate.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &domain.ValidationError{}
	}

	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[name] = "is required"
		case "max":
			fields[name] = fmt.Sprintf("must be at most %s characters", fe.Param())
		default:
			fields[name] = "is invalid"
		}
	}
	return &domain.ValidationError{Fields: fields}
}

func messageOr(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
