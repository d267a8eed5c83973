package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nettie/internal/models"
	"nettie/internal/repository"
)

// AuthService guards the guardian daemon's local API with a passcode and
// short-lived HS256 session tokens. This is dashboard access control only;
// cross-device authority comes from household membership, not from these
// tokens.
type AuthService struct {
	prefs  *repository.PrefsRepository
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewAuthService(prefs *repository.PrefsRepository, secret string, expiry time.Duration) *AuthService {
	return &AuthService{
		prefs:  prefs,
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// SetPasscode stores the bcrypt hash of a new dashboard passcode.
func (s *AuthService) SetPasscode(passcode string) error {
	if len(passcode) < 4 {
		return errors.New("passcode must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash passcode: %w", err)
	}
	return s.prefs.SetSetting(repository.SettingPasscodeHash, string(hash))
}

// Login verifies the passcode and mints a session token carrying the
// cached guardian identity.
func (s *AuthService) Login(passcode string) (string, error) {
	hash, err := s.prefs.GetSetting(repository.SettingPasscodeHash)
	if err != nil {
		return "", fmt.Errorf("failed to read passcode hash: %w", err)
	}
	if hash == "" {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)) != nil {
		return "", ErrInvalidCredentials
	}

	identity, err := s.prefs.GetIdentity()
	if err != nil {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}
	if identity == nil || identity.GuardianID == "" {
		return "", errors.New("no guardian identity configured")
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub":  identity.GuardianID,
		"role": string(models.RoleGuardian),
		"iat":  now.Unix(),
		"exp":  now.Add(s.expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Validate checks a session token and returns the guardian actor it names.
func (s *AuthService) Validate(tokenString string) (models.Actor, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return models.Actor{}, ErrInvalidSession
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, ErrInvalidSession
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || role != string(models.RoleGuardian) {
		return models.Actor{}, ErrInvalidSession
	}
	return models.Actor{ID: sub, Role: models.RoleGuardian}, nil
}
