package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"portico/internal/infrastructure/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenInvalid   = errors.New("token invalid")
)

// Service verifies (and, when a private key is configured, mints) RS256
// service tokens used to authenticate registry calls.
type Service struct {
	publicKey      *rsa.PublicKey
	privateKey     *rsa.PrivateKey
	issuer         string
	serviceTTL     time.Duration
	allowedIssuers []string
}

func NewService(cfg *config.Config) (*Service, error) {
	s := &Service{
		issuer:         cfg.JWTIssuer,
		serviceTTL:     cfg.JWTServiceTTL,
		allowedIssuers: cfg.JWTAllowedIssuers,
	}

	if cfg.JWTPublicKey != "" {
		pubKey, err := parseRSAPublicKey(cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		s.publicKey = pubKey
	}

	if cfg.JWTPrivateKey != "" {
		privKey, err := parseRSAPrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		s.privateKey = privKey

		if s.publicKey == nil {
			s.publicKey = &privKey.PublicKey
		}
	}

	if s.publicKey == nil {
		return nil, fmt.Errorf("at least one of JWT_PUBLIC_KEY or JWT_PRIVATE_KEY is required")
	}

	return s, nil
}

// NewServiceWithKeys builds a Service from already-parsed keys.
func NewServiceWithKeys(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, issuer string, serviceTTL time.Duration, allowedIssuers []string) *Service {
	return &Service{
		privateKey:     privateKey,
		publicKey:      publicKey,
		issuer:         issuer,
		serviceTTL:     serviceTTL,
		allowedIssuers: allowedIssuers,
	}
}

// GenerateServiceToken mints a short-lived token a downstream service can
// present on registry calls.
func (s *Service) GenerateServiceToken(serviceName string) (string, error) {
	if s.privateKey == nil {
		return "", fmt.Errorf("private key not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": serviceName,
		"iss": s.issuer,
		"aud": "portico",
		"iat": now.Unix(),
		"exp": now.Add(s.serviceTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

// ValidateServiceToken checks the signature and claims of a service token
// and returns the calling service's name.
func (s *Service) ValidateServiceToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenMalformed, token.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrTokenMalformed
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if len(s.allowedIssuers) > 0 {
		issuer, _ := claims["iss"].(string)
		if !s.issuerAllowed(issuer) {
			return "", fmt.Errorf("%w: issuer %q not allowed", ErrTokenInvalid, issuer)
		}
	}

	return subject, nil
}

func (s *Service) issuerAllowed(issuer string) bool {
	if issuer == s.issuer {
		return true
	}
	for _, allowed := range s.allowedIssuers {
		if allowed == issuer {
			return true
		}
	}
	return false
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}
