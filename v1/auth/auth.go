package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned when registering an already used email.
	ErrUserExists = errors.New("auth: user already exists")
	// ErrInvalidCredentials is returned on a failed login or token check.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

const defaultTokenTTL = 24 * time.Hour

// User is a registered participant.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Claims is the JWT payload issued to authenticated users.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and verifies credentials. Users live in memory, matching
// the single-process scope of the rest of the system.
type Service struct {
	secret   []byte
	tokenTTL time.Duration

	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTokenTTL overrides the 24h token lifetime.
func WithTokenTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

// NewService returns a Service signing tokens with secret.
func NewService(secret []byte, opts ...ServiceOption) *Service {
	s := &Service{
		secret:   secret,
		tokenTTL: defaultTokenTTL,
		byID:     make(map[string]User),
		byEmail:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user and returns it together with a signed token.
func (s *Service) Register(ctx context.Context, username, email, password, role string) (User, string, error) {
	if username == "" || email == "" || password == "" {
		return User{}, "", errors.New("auth: username, email and password are required")
	}
	if role == "" {
		role = "user"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, "", err
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	s.mu.Lock()
	if _, taken := s.byEmail[email]; taken {
		s.mu.Unlock()
		return User{}, "", ErrUserExists
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID
	s.mu.Unlock()

	token, err := s.issue(u)
	if err != nil {
		return User{}, "", err
	}
	return u, token, nil
}

// Login checks the password for the email and returns the user and a token.
func (s *Service) Login(ctx context.Context, email, password string) (User, string, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	var u User
	if ok {
		u = s.byID[id]
	}
	s.mu.RUnlock()
	if !ok {
		return User{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return User{}, "", ErrInvalidCredentials
	}
	token, err := s.issue(u)
	if err != nil {
		return User{}, "", err
	}
	return u, token, nil
}

// Verify parses and validates a token, returning its claims.
func (s *Service) Verify(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredentials
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidCredentials
	}
	return claims, nil
}

func (s *Service) issue(u User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
