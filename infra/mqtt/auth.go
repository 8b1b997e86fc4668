package mqtt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the MQTT login triple.
type Credentials struct {
	ClientID string
	Username string
	Password string
}

// DeviceClaims are carried by the jwt login password.
type DeviceClaims struct {
	ProductKey string `json:"pk"`
	DeviceKey  string `json:"dk"`
	jwt.RegisteredClaims
}

// NewCredentials derives the login for cfg at instant now.
func NewCredentials(cfg Config, now time.Time) (Credentials, error) {
	switch cfg.authMethod() {
	case AuthSign:
		return signCredentials(cfg, now), nil
	case AuthJWT:
		return jwtCredentials(cfg, now)
	case AuthPassword:
		id := cfg.ClientID
		if id == "" {
			id = cfg.DeviceKey
		}
		return Credentials{ClientID: id, Username: cfg.Username, Password: cfg.Password}, nil
	default:
		return Credentials{}, fmt.Errorf("unknown auth method %q", cfg.AuthMethod)
	}
}

func signCredentials(cfg Config, now time.Time) Credentials {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	return Credentials{
		ClientID: fmt.Sprintf("%s|securemode=2,signmethod=sha256,timestamp=%s|", cfg.DeviceKey, ts),
		Username: cfg.DeviceKey + "&" + cfg.ProductKey,
		Password: Sign(cfg.ProductKey, cfg.DeviceKey, cfg.DeviceSecret, ts),
	}
}

// Sign returns the upper-case hex SHA-256 login signature.
func Sign(productKey, deviceKey, secret, timestamp string) string {
	var b strings.Builder
	b.WriteString("clientId")
	b.WriteString(deviceKey)
	b.WriteString("deviceKey")
	b.WriteString(deviceKey)
	b.WriteString("productKey")
	b.WriteString(productKey)
	b.WriteString("timestamp")
	b.WriteString(timestamp)
	b.WriteString(secret)
	sum := sha256.Sum256([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func jwtCredentials(cfg Config, now time.Time) (Credentials, error) {
	ttl := time.Duration(cfg.JWTTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := DeviceClaims{
		ProductKey: cfg.ProductKey,
		DeviceKey:  cfg.DeviceKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.DeviceSecret))
	if err != nil {
		return Credentials{}, fmt.Errorf("sign jwt: %w", err)
	}
	return Credentials{
		ClientID: fmt.Sprintf("%s|securemode=2,signmethod=jwt,timestamp=%d|", cfg.DeviceKey, now.UnixMilli()),
		Username: cfg.DeviceKey + "&" + cfg.ProductKey,
		Password: token,
	}, nil
}

// ParseDeviceToken validates a jwt login password against secret.
func ParseDeviceToken(token, secret string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
