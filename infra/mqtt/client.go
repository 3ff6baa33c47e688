// Package mqtt connects the fleet to its field devices over MQTT: bin
// sensors publish fill and health readings, drivers publish their presence
// and receive collection assignments.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/wastefleet/core/logger"
	"github.com/kilianp07/wastefleet/core/monitoring"
)

// QoS keys looked up in Config.QoS.
const (
	QoSSensor     = "sensor"
	QoSPresence   = "presence"
	QoSCollection = "collection"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled    bool            `json:"enabled" koanf:"enabled"`
	Broker     string          `json:"broker" koanf:"broker"`
	ClientID   string          `json:"client_id" koanf:"client_id"`
	Username   string          `json:"username" koanf:"username"`
	Password   string          `json:"password" koanf:"password"`
	UseTLS     bool            `json:"use_tls" koanf:"use_tls"`
	ClientCert string          `json:"client_cert" koanf:"client_cert"`
	ClientKey  string          `json:"client_key" koanf:"client_key"`
	CABundle   string          `json:"ca_bundle" koanf:"ca_bundle"`
	AuthMethod string          `json:"auth_method" koanf:"auth_method"`
	QoS        map[string]byte `json:"qos" koanf:"qos"`
	LWTTopic   string          `json:"lwt_topic" koanf:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload" koanf:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos" koanf:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain" koanf:"lwt_retain"`
	MaxRetries int             `json:"max_retries" koanf:"max_retries"`
	BackoffMS  int             `json:"backoff_ms" koanf:"backoff_ms"`
	// HandlerTimeout bounds the processing of one inbound message.
	HandlerTimeout time.Duration `json:"handler_timeout" koanf:"handler_timeout"`
	TLSConfig      *tls.Config   `json:"-" koanf:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "wastefleet"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 5 * time.Second
	}
}

// Validate checks the configuration of an enabled client.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	switch c.AuthMethod {
	case "", "username_password", "certificate", "both":
	default:
		return fmt.Errorf("mqtt: unknown auth_method %q", c.AuthMethod)
	}
	return nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Handler processes one inbound message.
type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// PahoClient wraps a Paho connection. Subscriptions are replayed on every
// reconnect.
type PahoClient struct {
	cli        pahoClient
	qos        map[string]byte
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration

	mu   sync.Mutex
	subs map[string]subscription
}

// NewPahoClient connects to the broker.
func NewPahoClient(cfg Config, log logger.Logger) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	pc := &PahoClient{
		qos:        cfg.QoS,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		subs:       make(map[string]subscription),
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		pc.mu.Lock()
		defer pc.mu.Unlock()
		for topic, s := range pc.subs {
			if token := c.Subscribe(topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
				log.Errorf("resubscribe %s: %v", topic, token.Error())
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetOrderMatters(false)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
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
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (p *PahoClient) qosFor(key string, def byte) byte {
	if q, ok := p.qos[key]; ok {
		return q
	}
	return def
}

// Subscribe registers h for topic. The subscription survives reconnects.
func (p *PahoClient) Subscribe(topic, qosKey string, h Handler) error {
	s := subscription{
		qos: p.qosFor(qosKey, 1),
		handler: func(_ paho.Client, msg paho.Message) {
			defer monitoring.Recover()
			h(msg.Topic(), msg.Payload())
		},
	}
	p.mu.Lock()
	p.subs[topic] = s
	p.mu.Unlock()
	if token := p.cli.Subscribe(topic, s.qos, s.handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Publish sends payload, retrying with exponential backoff until ctx ends.
func (p *PahoClient) Publish(ctx context.Context, topic, qosKey string, retained bool, payload []byte) error {
	qos := p.qosFor(qosKey, 1)
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, retained, payload)
		if !waitToken(ctx, token) {
			return ctx.Err()
		}
		if err = token.Error(); err == nil {
			p.logger.Debugf("published to %s", topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("publish %s: %w", topic, err)
}

func waitToken(ctx context.Context, t paho.Token) bool {
	select {
	case <-t.Done():
		return true
	case <-ctx.Done():
		return false
	}
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
