package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/topic"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single TCP/TLS connect attempt inside paho.
	defaultConnectTimeout = 10 * time.Second

	// defaultAckTimeout is how long subscribe/unsubscribe and async QoS>0
	// publish completions are waited for.
	defaultAckTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when the config leaves keepalive at zero.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix is used for generated client identifiers.
	clientIDPrefix = "mqtt-bridge-"
)

// resolveClientID returns the configured client id or a generated one.
func resolveClientID(cfg config.MQTTConfig) string {
	if cfg.Client.ClientID != "" {
		return cfg.Client.ClientID
	}
	return clientIDPrefix + uuid.NewString()
}

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and session mode
//   - Authentication credentials (if provided)
//   - Auto-reconnect and connect-retry with capped backoff
//   - TLS configuration (if enabled)
//   - Last will (if a will topic is set)
//   - Ordered delivery, so a subscription's handler sees messages in order
func buildClientOptions(cfg config.MQTTConfig, clientID string) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(clientID)
	opts.SetCleanSession(cfg.Client.CleanSession)

	if cfg.Account.Username != "" {
		opts.SetUsername(cfg.Account.Username)
		opts.SetPassword(cfg.Account.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := time.Duration(cfg.Connection.KeepAlive) * time.Second
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	opts.SetOrderMatters(true)

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	configureWill(opts, cfg)

	return opts, nil
}

// buildTLSConfig loads the CA bundle and optional client certificate.
func buildTLSConfig(cfg config.MQTTTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: cfg.Insecure, //nolint:gosec // opt-in for development brokers
	}

	if cfg.CACerts != "" {
		pem, err := os.ReadFile(cfg.CACerts)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA certs: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrTLSConfig, cfg.CACerts)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrTLSConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// configureWill registers the Last Will and Testament.
//
// The broker publishes it if the bridge drops off without a clean
// disconnect. "~/" will topics are placed under the private path.
func configureWill(opts *pahomqtt.ClientOptions, cfg config.MQTTConfig) {
	if cfg.Will.Topic == "" {
		return
	}
	willTopic := topic.NewPrivatePath(cfg.PrivatePath).Resolve(cfg.Will.Topic)
	opts.SetWill(willTopic, cfg.Will.Payload, byte(cfg.Will.QoS), cfg.Will.Retain) //nolint:gosec // QoS validated by config
}
