package identity

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/backend/internal/apperr"
	"parley/backend/internal/models"
	"parley/backend/internal/storage"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "parley"

// UserStore is the slice of storage the identity service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]models.User, error)
}

// CustomClaims defines the data stored inside an access token.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Picture  string `json:"picture" validate:"omitempty,url"`
}

type Service struct {
	store       UserStore
	secret      []byte
	ttl         time.Duration
	searchLimit int
	validate    *validator.Validate
	log         *slog.Logger
}

func NewService(store UserStore, secret string, ttl time.Duration, searchLimit int, log *slog.Logger) *Service {
	return &Service{
		store:       store,
		secret:      []byte(secret),
		ttl:         ttl,
		searchLimit: searchLimit,
		validate:    validator.New(),
		log:         log,
	}
}

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.User, string, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return models.User{}, "", apperr.InvalidInput("name, email and a password of at least 6 characters are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Picture:      lo.Ternary(req.Picture != "", req.Picture, gravatarURL(req.Email)),
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return models.User{}, "", apperr.InvalidInput("user already exists")
		}
		return models.User{}, "", fmt.Errorf("failed to create user: %w", err)
	}
	s.log.Info("User registered", "user_id", user.ID)

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// Login checks the credentials and returns the user with a fresh token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return models.User{}, "", apperr.InvalidInput("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", apperr.Unauthorized("invalid email or password")
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return models.User{}, "", err
	}
	return *user, token, nil
}

// IssueToken signs an HS256 token for userID.
func (s *Service) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Authenticate resolves a token to the user id it was issued for.
func (s *Service) Authenticate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperr.Unauthorized("missing token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", apperr.Unauthorized("invalid token")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", apperr.Unauthorized("invalid token")
	}
	return claims.UserID, nil
}

// LookupProfiles resolves ids to public profiles. Unknown ids are absent from the result.
func (s *Service) LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	users, err := s.store.GetUsersByIDs(ctx, lo.Uniq(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return lo.SliceToMap(users, func(u models.User) (string, models.Profile) {
		return u.ID, u.Profile()
	}), nil
}

// SearchUsers returns profiles whose name or email contains term, excluding the caller.
func (s *Service) SearchUsers(ctx context.Context, callerID, term string) ([]models.Profile, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []models.Profile{}, nil
	}

	users, err := s.store.SearchUsers(ctx, term, callerID, s.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return lo.Map(users, func(u models.User, _ int) models.Profile {
		return u.Profile()
	}), nil
}

func gravatarURL(email string) string {
	sum := md5.Sum([]byte(email))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}
