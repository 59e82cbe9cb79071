// Package config provides production-grade secrets management and
// validation for the build orchestrator.
//
// This module ensures all required secrets are properly configured before
// the orchestrator starts, preventing security vulnerabilities from missing
// or weak credentials.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Minimum entropy bits required for production secrets
const (
	MinEntropyBitsJWT     = 128
	MinJWTSecretLength    = 32
	MinWebhookSecretLength = 20
	MinRegistryTokenLength = 16
)

// SecretRequirement defines a required secret and its validation rules
type SecretRequirement struct {
	Name        string
	EnvVar      string
	Description string
	Required    bool // Required in production
	MinLength   int
	Validator   func(string) error
}

// SecretsConfig holds validated secrets for the orchestrator.
type SecretsConfig struct {
	// Signs status-sink and report-API tokens.
	JWTSecret    string
	JWTSecretOld string // For rotation support

	// Keys the HMAC signature on outbound status-webhook deliveries.
	WebhookSecret string

	// Publish credential for the package registry.
	RegistryToken string

	Environment  string
	IsProduction bool
}

// SecretsValidationError represents a validation failure
type SecretsValidationError struct {
	Missing  []string
	Invalid  []string
	Warnings []string
}

func (e *SecretsValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing secrets: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid secrets: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *SecretsValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// DefaultSecretRequirements returns the standard secret requirements for the orchestrator.
func DefaultSecretRequirements() []SecretRequirement {
	return []SecretRequirement{
		{
			Name:        "JWT Secret",
			EnvVar:      "JWT_SECRET",
			Description: "Secret key for signing status-sink and report-API tokens",
			Required:    true,
			MinLength:   MinJWTSecretLength,
			Validator:   validateJWTSecret,
		},
		{
			Name:        "Webhook Secret",
			EnvVar:      "WEBHOOK_SECRET",
			Description: "HMAC secret for signing status-webhook deliveries",
			Required:    false,
			MinLength:   MinWebhookSecretLength,
			Validator:   validateWebhookSecret,
		},
		{
			Name:        "Registry Token",
			EnvVar:      "REGISTRY_TOKEN",
			Description: "Publish credential for the package registry",
			Required:    false,
			MinLength:   MinRegistryTokenLength,
			Validator:   nil,
		},
	}
}

// ValidateSecrets validates all required secrets and returns a SecretsConfig.
// In production, this will return a non-nil error if any required secret is
// missing or invalid — callers MUST treat this as fatal.
func ValidateSecrets() (*SecretsConfig, error) {
	env := GetEnvironment()
	isProduction := IsProductionEnvironment()

	config := &SecretsConfig{
		Environment:  env,
		IsProduction: isProduction,
	}

	validationErr := &SecretsValidationError{}
	requirements := DefaultSecretRequirements()

	for _, req := range requirements {
		value := os.Getenv(req.EnvVar)

		if value == "" {
			if req.Required && isProduction {
				validationErr.Missing = append(validationErr.Missing, req.EnvVar)
			} else if req.Required {
				validationErr.Warnings = append(validationErr.Warnings,
					fmt.Sprintf("%s not set - using development default (NOT SECURE FOR PRODUCTION)", req.EnvVar))
			}
			continue
		}

		if len(value) < req.MinLength {
			if isProduction {
				validationErr.Invalid = append(validationErr.Invalid,
					fmt.Sprintf("%s: too short (min %d characters)", req.EnvVar, req.MinLength))
			} else {
				validationErr.Warnings = append(validationErr.Warnings,
					fmt.Sprintf("%s: shorter than recommended (%d chars, recommend %d+)", req.EnvVar, len(value), req.MinLength))
			}
		}

		if req.Validator != nil {
			if err := req.Validator(value); err != nil {
				if isProduction {
					validationErr.Invalid = append(validationErr.Invalid,
						fmt.Sprintf("%s: %s", req.EnvVar, err.Error()))
				} else {
					validationErr.Warnings = append(validationErr.Warnings,
						fmt.Sprintf("%s: %s (allowed in development)", req.EnvVar, err.Error()))
				}
			}
		}
	}

	config.JWTSecret = os.Getenv("JWT_SECRET")
	config.JWTSecretOld = os.Getenv("JWT_SECRET_OLD")
	config.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	config.RegistryToken = os.Getenv("REGISTRY_TOKEN")

	if isProduction && config.JWTSecret == "" {
		return nil, errors.New("FATAL: JWT_SECRET is required in production - status-sink and report tokens cannot be signed")
	}

	if isProduction && validationErr.HasErrors() {
		return nil, validationErr
	}

	if IsStagingEnvironment() && len(validationErr.Missing) > 0 {
		return nil, fmt.Errorf("staging environment requires all production secrets: %s",
			strings.Join(validationErr.Missing, ", "))
	}

	for _, warning := range validationErr.Warnings {
		log.Printf("WARNING: %s", warning)
	}

	return config, nil
}

// ValidateAndLogSecrets validates secrets and logs configuration status.
// Should be called at orchestrator startup.
func ValidateAndLogSecrets() (*SecretsConfig, error) {
	log.Println("Validating secrets configuration...")

	config, err := ValidateSecrets()
	if err != nil {
		log.Printf("FATAL: Secrets validation failed: %v", err)
		return nil, err
	}

	log.Println("Secrets configuration status:")
	logSecretStatus("JWT_SECRET", config.JWTSecret != "")
	logSecretStatus("JWT_SECRET_OLD (rotation)", config.JWTSecretOld != "")
	logSecretStatus("WEBHOOK_SECRET", config.WebhookSecret != "")
	logSecretStatus("REGISTRY_TOKEN", config.RegistryToken != "")

	if config.IsProduction {
		log.Println("Running in PRODUCTION mode - strict secret validation enforced")
	} else {
		log.Printf("Running in %s mode - development defaults allowed", config.Environment)
	}

	return config, nil
}

func logSecretStatus(name string, configured bool) {
	if configured {
		log.Printf("  [OK] %s: configured", name)
	} else {
		log.Printf("  [--] %s: not configured", name)
	}
}

// GetEnvironment returns the current environment
func GetEnvironment() string {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = os.Getenv("BUILDFORGE_ENV")
	}
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = EnvDevelopment
	}
	return strings.ToLower(env)
}

// IsProductionEnvironment returns true if running in production
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}

// IsStagingEnvironment returns true if running in staging
func IsStagingEnvironment() bool {
	env := GetEnvironment()
	return env == EnvStaging || env == "stage"
}

// --- Strict Validators ---

// validateJWTSecret enforces a strong signing key for status-sink and
// report-API tokens.
func validateJWTSecret(secret string) error {
	weakSecrets := []string{
		"secret", "jwt-secret", "jwt_secret", "your-secret", "changeme",
		"password", "test", "dev", "development", "example", "default",
		"placeholder", "replace-me", "todo", "fixme", "buildforge-secret",
	}

	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if lower == weak || strings.Contains(lower, weak) {
			return fmt.Errorf("contains weak/placeholder value %q", weak)
		}
	}

	allAlpha, allDigit := true, true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha {
		return errors.New("must contain non-alphabetic characters for sufficient entropy")
	}
	if allDigit {
		return errors.New("must contain non-numeric characters for sufficient entropy")
	}

	entropy := shannonEntropy(secret)
	if entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}

	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}

	return nil
}

// validateWebhookSecret checks the HMAC secret used to sign status-webhook
// deliveries.
func validateWebhookSecret(secret string) error {
	if isLowEntropy(secret) {
		return errors.New("webhook secret has suspiciously low entropy")
	}
	return nil
}

// --- Entropy Helpers ---

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// isLowEntropy checks if a string has suspiciously low entropy.
func isLowEntropy(s string) bool {
	if len(s) < 16 {
		return true
	}
	return shannonEntropy(s) < 2.5
}

// hasRepeatingPattern detects simple repeating patterns (e.g., "abcabc").
func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		pattern := s[:patLen]
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != pattern[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}

// --- Key Generation ---

// GenerateSecureSecret generates a cryptographically secure random secret.
func GenerateSecureSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// --- JWT Rotation ---

// JWTRotationValidator supports validating report/status tokens during key rotation.
type JWTRotationValidator struct {
	currentSecret []byte
	oldSecret     []byte
}

// NewJWTRotationValidator creates a validator that supports key rotation.
func NewJWTRotationValidator(currentSecret, oldSecret string) *JWTRotationValidator {
	v := &JWTRotationValidator{currentSecret: []byte(currentSecret)}
	if oldSecret != "" {
		v.oldSecret = []byte(oldSecret)
	}
	return v
}

// ValidateToken validates a JWT token, trying the current key first, then the old key.
func (v *JWTRotationValidator) ValidateToken(tokenString string, claims jwt.Claims) (*jwt.Token, error) {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.currentSecret, nil
	})

	if err == nil && token.Valid {
		return token, nil
	}

	if v.oldSecret != nil {
		token, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.oldSecret, nil
		})

		if err == nil && token.Valid {
			log.Println("WARNING: token validated with old JWT secret - rotate soon")
			return token, nil
		}
	}

	return nil, fmt.Errorf("token validation failed: %w", err)
}

// --- Production Enforcement Helpers ---

// RequireProductionSecrets returns an error if any production-required secrets are missing.
func RequireProductionSecrets(secrets ...string) error {
	var missing []string
	for _, secret := range secrets {
		if os.Getenv(secret) == "" {
			missing = append(missing, secret)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required secrets not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MustValidateSecrets calls ValidateSecrets and fatally logs if it fails.
func MustValidateSecrets() *SecretsConfig {
	config, err := ValidateAndLogSecrets()
	if err != nil {
		log.Fatalf("FATAL: Cannot start — secrets validation failed: %v", err)
	}
	return config
}

// --- Rotation Info ---

// SecretRotationInfo reports whether JWT secret rotation is currently active.
type SecretRotationInfo struct {
	SecretName      string
	HasCurrent      bool
	HasOld          bool
	RotationActive  bool
	RotationStarted time.Time
	RecommendedEnd  time.Time
}

// GetJWTRotationInfo returns information about JWT secret rotation status.
func GetJWTRotationInfo() SecretRotationInfo {
	current := os.Getenv("JWT_SECRET")
	old := os.Getenv("JWT_SECRET_OLD")

	info := SecretRotationInfo{
		SecretName:     "JWT_SECRET",
		HasCurrent:     current != "",
		HasOld:         old != "",
		RotationActive: current != "" && old != "",
	}

	if info.RotationActive {
		info.RotationStarted = time.Now()
		info.RecommendedEnd = info.RotationStarted.Add(24 * time.Hour)
	}

	return info
}
