package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

// GoogleUserInfoURL is the OpenID userinfo endpoint queried after the code exchange.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	maxNicknameTries = 50
)

// AuthConfig configures Google sign-in and token issuance.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	JWTSecret    string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

// AuthService signs users in with Google and issues API tokens.
type AuthService interface {
	AuthCodeURL(state string) (string, error)
	Callback(ctx context.Context, code string) (dto.AuthResponse, error)
	SignIn(ctx context.Context, profile dto.GoogleProfile) (dto.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (dto.AuthResponse, error)
}

type authService struct {
	users       repository.UserRepository
	oauth       *oauth2.Config
	userInfoURL string
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAuthService constructs the auth service.
func NewAuthService(users repository.UserRepository, cfg AuthConfig, logger zerolog.Logger) AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = endpoints.Google
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = GoogleUserInfoURL
	}

	var oauthConfig *oauth2.Config
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		oauthConfig = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		}
	}

	return &authService{
		users:       users,
		oauth:       oauthConfig,
		userInfoURL: cfg.UserInfoURL,
		secret:      []byte(cfg.JWTSecret),
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		logger:      logger.With().Str("component", "auth_service").Logger(),
		now:         time.Now,
	}
}

func (s *authService) AuthCodeURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Callback exchanges the authorization code and signs the Google user in.
func (s *authService) Callback(ctx context.Context, code string) (dto.AuthResponse, error) {
	if s.oauth == nil {
		return dto.AuthResponse{}, ErrOAuthDisabled
	}
	if strings.TrimSpace(code) == "" {
		return dto.AuthResponse{}, fmt.Errorf("%w: missing code", ErrOAuthExchange)
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn().Err(err).Msg("google code exchange failed")
		return dto.AuthResponse{}, fmt.Errorf("%w: %w", ErrOAuthExchange, err)
	}

	profile, err := s.fetchProfile(ctx, token)
	if err != nil {
		return dto.AuthResponse{}, err
	}
	return s.SignIn(ctx, profile)
}

// SignIn finds or registers the user behind a Google profile and issues a token pair.
func (s *authService) SignIn(ctx context.Context, profile dto.GoogleProfile) (dto.AuthResponse, error) {
	if strings.TrimSpace(profile.Subject) == "" {
		return dto.AuthResponse{}, fmt.Errorf("%w: profile without subject", ErrOAuthExchange)
	}

	auth, err := s.users.FindAuthentication(ctx, models.ProviderGoogle, profile.Subject)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		auth, err = s.register(ctx, profile)
		if err != nil {
			return dto.AuthResponse{}, err
		}
	default:
		return dto.AuthResponse{}, err
	}

	response, err := s.issue(ctx, auth)
	if err != nil {
		return dto.AuthResponse{}, err
	}
	response.User = &dto.AuthUser{
		ID:           auth.User.ID,
		Nickname:     auth.User.Nickname,
		Email:        auth.Email,
		ProfileImage: auth.User.ProfileImage,
	}
	return response, nil
}

// Refresh rotates the token pair. The presented token must be the one last issued.
func (s *authService) Refresh(ctx context.Context, refreshToken string) (dto.AuthResponse, error) {
	userID, err := s.parseRefresh(refreshToken)
	if err != nil {
		return dto.AuthResponse{}, ErrInvalidToken
	}

	auth, err := s.users.GetAuthentication(ctx, userID, models.ProviderGoogle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AuthResponse{}, ErrInvalidToken
		}
		return dto.AuthResponse{}, err
	}
	if auth.RefreshToken == nil || *auth.RefreshToken != refreshToken {
		return dto.AuthResponse{}, ErrInvalidToken
	}

	return s.issue(ctx, auth)
}

func (s *authService) register(ctx context.Context, profile dto.GoogleProfile) (models.UserAuthentication, error) {
	nickname, err := s.uniqueNickname(ctx, baseNickname(profile))
	if err != nil {
		return models.UserAuthentication{}, err
	}

	user := models.User{
		Nickname:     nickname,
		ProfileImage: profile.Picture,
		Role:         models.UserRoleStudent,
	}
	auth := models.UserAuthentication{
		Provider:   models.ProviderGoogle,
		ProviderID: profile.Subject,
		Email:      profile.Email,
	}
	if err := s.users.Register(ctx, &user, &auth, DefaultFolders()); err != nil {
		return models.UserAuthentication{}, fmt.Errorf("register user: %w", err)
	}
	auth.User = user

	s.logger.Info().Uint("user_id", user.ID).Str("nickname", nickname).Msg("user registered")
	return auth, nil
}

func (s *authService) uniqueNickname(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 1; i <= maxNicknameTries; i++ {
		taken, err := s.users.NicknameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}
	return base + strconv.FormatInt(s.now().UnixNano()%100000, 10), nil
}

func baseNickname(profile dto.GoogleProfile) string {
	name := strings.TrimSpace(profile.GivenName + profile.FamilyName)
	if name == "" {
		name = strings.TrimSpace(profile.Name)
	}
	if name == "" {
		name, _, _ = strings.Cut(profile.Email, "@")
	}
	if name == "" {
		name = "learner"
	}
	return name
}

func (s *authService) issue(ctx context.Context, auth models.UserAuthentication) (dto.AuthResponse, error) {
	now := s.now()
	subject := strconv.FormatUint(uint64(auth.User.ID), 10)

	access, err := s.sign(jwt.MapClaims{
		"sub":          subject,
		"nickname":     auth.User.Nickname,
		"profileImage": auth.User.ProfileImage,
		"role":         auth.User.Role,
		"typ":          tokenTypeAccess,
		"iat":          now.Unix(),
		"exp":          now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return dto.AuthResponse{}, err
	}

	refresh, err := s.sign(jwt.MapClaims{
		"sub": subject,
		"typ": tokenTypeRefresh,
		"iat": now.Unix(),
		"exp": now.Add(s.refreshTTL).Unix(),
		"jti": strconv.FormatInt(now.UnixNano(), 36),
	})
	if err != nil {
		return dto.AuthResponse{}, err
	}

	if err := s.users.UpdateRefreshToken(ctx, auth.ID, &refresh); err != nil {
		return dto.AuthResponse{}, fmt.Errorf("store refresh token: %w", err)
	}

	return dto.AuthResponse{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *authService) sign(claims jwt.MapClaims) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *authService) parseRefresh(raw string) (uint, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != tokenTypeRefresh {
		return 0, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseUint(subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}

func (s *authService) fetchProfile(ctx context.Context, token *oauth2.Token) (dto.GoogleProfile, error) {
	client := s.oauth.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return dto.GoogleProfile{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return dto.GoogleProfile{}, fmt.Errorf("%w: userinfo: %w", ErrOAuthExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dto.GoogleProfile{}, fmt.Errorf("%w: userinfo returned %d: %s", ErrOAuthExchange, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var profile dto.GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return dto.GoogleProfile{}, fmt.Errorf("%w: decode userinfo: %w", ErrOAuthExchange, err)
	}
	return profile, nil
}
