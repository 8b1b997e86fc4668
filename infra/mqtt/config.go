package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Login methods accepted in Config.AuthMethod.
const (
	AuthSign     = "sign"
	AuthJWT      = "jwt"
	AuthPassword = "password"
)

// Config defines the connection parameters for the device session.
type Config struct {
	Server       string `json:"server"`
	ProductKey   string `json:"product_key"`
	DeviceKey    string `json:"device_key"`
	DeviceSecret string `json:"device_secret"`
	AuthMethod   string `json:"auth_method"`
	// ClientID, Username and Password are only used by the password method.
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`

	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`

	ConnectTimeoutMS int `json:"connect_timeout_ms"`
	PublishTimeoutMS int `json:"publish_timeout_ms"`
	KeepAliveSeconds int `json:"keep_alive_seconds"`
	JWTTTLSeconds    int `json:"jwt_ttl_seconds"`

	LWTTopic   string `json:"lwt_topic"`
	LWTPayload string `json:"lwt_payload"`
	LWTQoS     byte   `json:"lwt_qos"`
	LWTRetain  bool   `json:"lwt_retain"`

	TLSConfig *tls.Config `json:"-"`
}

// SetDefaults fills unset optional fields.
func (c *Config) SetDefaults() {
	if c.AuthMethod == "" {
		c.AuthMethod = AuthSign
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 10_000
	}
	if c.PublishTimeoutMS <= 0 {
		c.PublishTimeoutMS = 5_000
	}
	if c.KeepAliveSeconds <= 0 {
		c.KeepAliveSeconds = 30
	}
	if c.JWTTTLSeconds <= 0 {
		c.JWTTTLSeconds = 3600
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("mqtt.server is required"))
	}
	if c.ProductKey == "" {
		errs = append(errs, errors.New("mqtt.product_key is required"))
	}
	if c.DeviceKey == "" {
		errs = append(errs, errors.New("mqtt.device_key is required"))
	}
	switch c.AuthMethod {
	case AuthSign, AuthJWT, "":
		if c.DeviceSecret == "" {
			errs = append(errs, fmt.Errorf("mqtt.device_secret is required for auth_method %q", c.authMethod()))
		}
	case AuthPassword:
	default:
		errs = append(errs, fmt.Errorf("unknown mqtt.auth_method %q", c.AuthMethod))
	}
	if c.LWTQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.lwt_qos must be 0, 1 or 2"))
	}
	return errors.Join(errs...)
}

func (c Config) authMethod() string {
	if c.AuthMethod == "" {
		return AuthSign
	}
	return c.AuthMethod
}

// ConnectTimeout bounds the initial connect.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// PublishTimeout bounds the wait on a publish token.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// NewClientOptions builds the Paho options for a login at now. Automatic
// reconnection is disabled: a lost session ends the simulator run.
func NewClientOptions(cfg Config, now time.Time) (*paho.ClientOptions, error) {
	creds, err := NewCredentials(cfg, now)
	if err != nil {
		return nil, err
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(creds.ClientID).
		SetUsername(creds.Username).
		SetPassword(creds.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false)
	if cfg.KeepAliveSeconds > 0 {
		opts.SetKeepAlive(time.Duration(cfg.KeepAliveSeconds) * time.Second)
	}
	if cfg.ConnectTimeoutMS > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout())
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
// Without a client certificate only the CA bundle is used.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CABundle != "" {
		caBytes, err := os.ReadFile(c.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
		}
		cfg.RootCAs = pool
	}
	switch {
	case c.ClientCert != "" && c.ClientKey != "":
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case c.ClientCert != "" || c.ClientKey != "":
		return nil, fmt.Errorf("tls config requires both client_cert and client_key")
	}
	return cfg, nil
}
