package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskmaster/domain"
)

const (
	defaultTokenTTL     = 24 * time.Hour
	defaultJWKSCacheTTL = 15 * time.Minute
	minPasswordLength   = 6
)

// Profiles is the storage surface the identity service depends on.
type Profiles interface {
	GetProfile(ctx context.Context, id string) (*domain.UserProfile, error)
	GetProfileByEmail(ctx context.Context, email string) (*domain.UserProfile, error)
	InsertProfile(ctx context.Context, p domain.UserProfile) error
	StampLastLogin(ctx context.Context, id string) error
	DeleteProfile(ctx context.Context, id string) error
}

// Config carries the service's token settings. Secret enables local HS256
// issuing and verification; JWKS enables RS256 verification of externally
// issued tokens. At least one must be set.
type Config struct {
	Secret   []byte
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	TokenTTL time.Duration
}

// Service manages user accounts and the tokens that authenticate them.
// Beyond credential checks it owns the identity streams: every connected
// client watches a channel that carries the current identity, and receives
// nil when the account signs out or is deleted.
type Service struct {
	profiles Profiles
	cfg      Config
	parser   *jwt.Parser
	now      func() time.Time
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}

	keyCache sync.Map
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// New creates an identity service backed by the given profile storage.
func New(profiles Profiles, cfg Config, logger *log.Logger) *Service {
	if profiles == nil {
		panic("identity.New: profiles storage is nil")
	}
	if len(cfg.Secret) == 0 && cfg.JWKS == nil {
		panic("identity.New: no token secret and no JWKS configured")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	methods := []string{}
	if len(cfg.Secret) > 0 {
		methods = append(methods, "HS256")
	}
	if cfg.JWKS != nil {
		methods = append(methods, "RS256")
	}

	return &Service{
		profiles: profiles,
		cfg:      cfg,
		parser:   jwt.NewParser(jwt.WithValidMethods(methods)),
		now:      time.Now,
		logger:   logger,
		clients:  make(map[*Client]struct{}),
	}
}

// SignUp creates an account and returns its identity with a fresh token.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (domain.Identity, string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return domain.Identity{}, "", domain.ErrInvalidCredentials
	}
	if len(password) < minPasswordLength {
		return domain.Identity{}, "", domain.ErrWeakPassword
	}

	existing, err := s.profiles.GetProfileByEmail(ctx, email)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("unable to check for existing account: %w", err)
	}
	if existing != nil {
		return domain.Identity{}, "", domain.ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("unable to hash password: %w", err)
	}

	now := s.now().UnixMilli()
	profile := domain.UserProfile{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  domain.DisplayNameOrDefault(displayName, email),
		PasswordHash: string(hash),
		Settings:     domain.DefaultSettings(),
		CreatedAt:    now,
		LastLogin:    now,
		UpdatedAt:    now,
	}
	if err := s.profiles.InsertProfile(ctx, profile); err != nil {
		return domain.Identity{}, "", fmt.Errorf("unable to store profile: %w", err)
	}

	token, err := s.IssueToken(profile.ID)
	if err != nil {
		return domain.Identity{}, "", err
	}
	return profile.Identity(), token, nil
}

// SignIn checks credentials and returns the identity with a fresh token.
func (s *Service) SignIn(ctx context.Context, email, password string) (domain.Identity, string, error) {
	email = normalizeEmail(email)
	profile, err := s.profiles.GetProfileByEmail(ctx, email)
	if err != nil {
		return domain.Identity{}, "", fmt.Errorf("unable to look up account: %w", err)
	}
	if profile == nil {
		return domain.Identity{}, "", domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return domain.Identity{}, "", domain.ErrInvalidCredentials
	}

	if err := s.profiles.StampLastLogin(ctx, profile.ID); err != nil {
		s.logger.WithError(err).WithField("user", profile.ID).Warn("unable to stamp last login")
	}

	token, err := s.IssueToken(profile.ID)
	if err != nil {
		return domain.Identity{}, "", err
	}
	return profile.Identity(), token, nil
}

// IssueToken mints an HS256 token for the user.
func (s *Service) IssueToken(userID string) (string, error) {
	if len(s.cfg.Secret) == 0 {
		return "", errors.New("token issuing requires a shared secret")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.TokenTTL).Unix(),
	}
	if s.cfg.Audience != "" {
		claims["aud"] = s.cfg.Audience
	}
	if s.cfg.Issuer != "" {
		claims["iss"] = s.cfg.Issuer
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("unable to sign token: %w", err)
	}
	return token, nil
}

// Verify parses a token and returns the user identifier it carries.
func (s *Service) Verify(token string) (string, error) {
	if token == "" {
		return "", domain.ErrInvalidCredentials
	}

	parsed, err := s.parser.Parse(token, s.keyForToken)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := s.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if s.cfg.Audience != "" && !claims.VerifyAudience(s.cfg.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if s.cfg.Issuer != "" && !claims.VerifyIssuer(s.cfg.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

// Resolve verifies a token and loads the identity it belongs to.
func (s *Service) Resolve(ctx context.Context, token string) (domain.Identity, error) {
	userID, err := s.Verify(token)
	if err != nil {
		return domain.Identity{}, err
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("unable to load profile: %w", err)
	}
	if profile == nil {
		return domain.Identity{}, domain.ErrNotFound
	}
	return profile.Identity(), nil
}

func (s *Service) keyForToken(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if len(s.cfg.Secret) == 0 {
			return nil, errors.New("hmac tokens not accepted")
		}
		return s.cfg.Secret, nil
	}
	if s.cfg.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := s.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if s.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			s.keyCache.Delete(kid)
		}
	}

	key, err := s.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		s.keyCache.Store(kid, cachedKey{key: key, expiresAt: s.now().Add(defaultJWKSCacheTTL)})
	}
	return key, nil
}

// DeleteIdentity removes the account record and signs out every client
// watching it.
func (s *Service) DeleteIdentity(ctx context.Context, userID string) error {
	if err := s.profiles.DeleteProfile(ctx, userID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("unable to delete profile: %w", err)
	}
	s.broadcastSignOut(userID)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1
}
