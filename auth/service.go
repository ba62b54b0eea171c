package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"pretalx-rt-sync/database"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service handles authentication operations
type Service struct {
	db        *database.Adapter
	jwtSecret []byte
}

// NewService creates a new authentication service
func NewService(db *database.Adapter, jwtSecret string) *Service {
	return &Service{
		db:        db,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new operator account
func (s *Service) Register(req RegisterRequest) (*AccountInfo, error) {
	if _, err := s.db.GetAccountByUsername(req.Username); err == nil {
		return nil, ErrAccountExists
	}

	account, err := s.db.CreateAccount(req.Username, req.Email, s.hashPassword(req.Password))
	if err != nil {
		return nil, err
	}

	return &AccountInfo{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
	}, nil
}

// Login authenticates an account and returns a JWT token
func (s *Service) Login(req LoginRequest) (*LoginResponse, error) {
	account, err := s.db.GetAccountByUsername(req.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !s.verifyPassword(req.Password, account.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.generateToken(account)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Token: token,
		Account: AccountInfo{
			ID:       account.ID,
			Username: account.Username,
			Email:    account.Email,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// RefreshToken generates a new JWT token for an existing account
func (s *Service) RefreshToken(accountID int) (*TokenResponse, error) {
	account, err := s.db.GetAccountByID(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	token, expiresAt, err := s.generateToken(account)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// GetAccount retrieves account information by ID
func (s *Service) GetAccount(accountID int) (*AccountInfo, error) {
	account, err := s.db.GetAccountByID(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	return &AccountInfo{
		ID:       account.ID,
		Username: account.Username,
		Email:    account.Email,
	}, nil
}

// ChangePassword changes an account's password
func (s *Service) ChangePassword(accountID int, req ChangePasswordRequest) error {
	account, err := s.db.GetAccountByID(accountID)
	if err != nil {
		return ErrAccountNotFound
	}

	if !s.verifyPassword(req.CurrentPassword, account.PasswordHash) {
		return ErrInvalidCredentials
	}

	return s.db.UpdateAccountPassword(accountID, s.hashPassword(req.NewPassword))
}

// ValidateToken validates a JWT token and returns claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func (s *Service) generateToken(account *database.Account) (string, time.Time, error) {
	expiresAt := time.Now().Add(24 * time.Hour)

	claims := &Claims{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   account.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// hashPassword hashes a password using Argon2id
func (s *Service) hashPassword(password string) string {
	salt := make([]byte, 16)
	rand.Read(salt)

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash)
}

// verifyPassword verifies a password against its stored hash
func (s *Service) verifyPassword(password, hashedPassword string) bool {
	parts := strings.SplitN(hashedPassword, "$", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expectedHash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(hash, expectedHash) == 1
}
