package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"spcbench-backend-go/internal/models"
)

const (
	TokenAccess     = "access"
	TokenRefresh    = "refresh"
	TokenActivation = "activation"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

type TokenService struct {
	Secret        []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ActivationTTL time.Duration
}

func (t TokenService) HashPassword(raw string) (string, error) {
	return hashArgon2id(raw)
}

// VerifyPassword accepts argon2id hashes and legacy bcrypt hashes.
func (t TokenService) VerifyPassword(raw, hashed string) bool {
	if strings.HasPrefix(hashed, "$argon2") {
		return verifyArgon2id(raw, hashed)
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(raw)) == nil
}

func (t TokenService) sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.Secret)
}

func (t TokenService) CreateAccessToken(user models.User) (string, int64, error) {
	now := time.Now().UTC()
	exp := now.Add(t.AccessTTL)
	signed, err := t.sign(jwt.MapClaims{
		"iss":   t.Issuer,
		"sub":   user.ID,
		"typ":   TokenAccess,
		"email": user.Email,
		"su":    user.IsSuperuser,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	})
	return signed, exp.Unix(), err
}

func (t TokenService) CreateRefreshToken(userID string) (string, error) {
	now := time.Now().UTC()
	return t.sign(jwt.MapClaims{
		"iss": t.Issuer,
		"sub": userID,
		"typ": TokenRefresh,
		"iat": now.Unix(),
		"exp": now.Add(t.RefreshTTL).Unix(),
	})
}

func (t TokenService) IssuePair(user models.User) (TokenPair, error) {
	access, exp, err := t.CreateAccessToken(user)
	if err != nil {
		return TokenPair{}, eris.Wrap(err, "sign access token")
	}
	refresh, err := t.CreateRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, eris.Wrap(err, "sign refresh token")
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

// CreateActivationToken binds the token to the account's is_active flag so a
// deactivated account cannot be verified with a link issued before.
func (t TokenService) CreateActivationToken(user models.User) (string, error) {
	now := time.Now().UTC()
	return t.sign(jwt.MapClaims{
		"iss": t.Issuer,
		"sub": user.ID,
		"typ": TokenActivation,
		"act": user.IsActive,
		"iat": now.Unix(),
		"exp": now.Add(t.ActivationTTL).Unix(),
	})
}

// CheckActivationToken validates a token against the current state of user.
func (t TokenService) CheckActivationToken(tokenStr string, user models.User) error {
	token, claims, err := t.ParseToken(tokenStr)
	if err != nil || !token.Valid {
		return ErrBadRequest("Activation link is invalid or has expired.")
	}
	if typ, _ := claims["typ"].(string); typ != TokenActivation {
		return ErrBadRequest("Activation link is invalid or has expired.")
	}
	if sub, _ := claims["sub"].(string); sub != user.ID {
		return ErrBadRequest("Activation link is invalid or has expired.")
	}
	if act, ok := claims["act"].(bool); !ok || act != user.IsActive {
		return ErrBadRequest("Activation link is invalid or has expired.")
	}
	return nil
}

func (t TokenService) ParseToken(tokenStr string) (*jwt.Token, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return t.Secret, nil
	}, jwt.WithIssuer(t.Issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return token, claims, err
}

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  int
	keyLength   int
}

var defaultArgon2 = argon2Params{
	memory:      65536,
	iterations:  3,
	parallelism: 1,
	saltLength:  16,
	keyLength:   32,
}

func hashArgon2id(raw string) (string, error) {
	params := defaultArgon2
	salt := make([]byte, params.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", eris.Wrap(err, "read salt")
	}
	key := argon2.IDKey([]byte(raw), salt, params.iterations, params.memory, params.parallelism, uint32(params.keyLength))
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Key := base64.RawStdEncoding.EncodeToString(key)
	return "$argon2id$v=19$m=" + strconv.FormatUint(uint64(params.memory), 10) +
		",t=" + strconv.FormatUint(uint64(params.iterations), 10) +
		",p=" + strconv.FormatUint(uint64(params.parallelism), 10) +
		"$" + b64Salt + "$" + b64Key, nil
}

func verifyArgon2id(raw, encoded string) bool {
	params, salt, hash, err := decodeArgon2id(encoded)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(raw), salt, params.iterations, params.memory, params.parallelism, uint32(params.keyLength))
	return subtle.ConstantTimeCompare(hash, key) == 1
}

func decodeArgon2id(encoded string) (argon2Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || !strings.HasPrefix(parts[1], "argon2") {
		return argon2Params{}, nil, nil, eris.New("invalid argon2 hash")
	}
	var params argon2Params
	for _, kv := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return argon2Params{}, nil, nil, eris.Wrapf(err, "argon2 param %s", key)
		}
		switch key {
		case "m":
			params.memory = uint32(n)
		case "t":
			params.iterations = uint32(n)
		case "p":
			params.parallelism = uint8(n)
		}
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argon2Params{}, nil, nil, eris.Wrap(err, "argon2 salt")
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argon2Params{}, nil, nil, eris.Wrap(err, "argon2 key")
	}
	params.saltLength = len(salt)
	params.keyLength = len(hash)
	return params, salt, hash, nil
}
