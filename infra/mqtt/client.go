package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	coremon "github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/infra/logger"
)

// Config defines the connection parameters of the results publisher.
type Config struct {
	Broker      string      `json:"broker"`
	ClientID    string      `json:"client_id"`
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	TopicPrefix string      `json:"topic_prefix"`
	QoS         byte        `json:"qos"`
	Retain      bool        `json:"retain"`
	UseTLS      bool        `json:"use_tls"`
	ClientCert  string      `json:"client_cert"`
	ClientKey   string      `json:"client_key"`
	CABundle    string      `json:"ca_bundle"`
	MaxRetries  int         `json:"max_retries"`
	BackoffMS   int         `json:"backoff_ms"`
	TLSConfig   *tls.Config `json:"-"`
}

// SetDefaults applies defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "microgrid"
	}
	if c.ClientID == "" {
		c.ClientID = "microgrid-" + uuid.NewString()[:8]
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// StatusTopic is where the publisher announces "online" and the broker
// publishes the "offline" will.
func (c Config) StatusTopic() string { return c.TopicPrefix + "/status" }

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Publisher publishes run results as JSON messages. It implements
// metrics.MetricsSink and metrics.FailureRecorder.
type Publisher struct {
	cli        pahoClient
	prefix     string
	qos        byte
	retain     bool
	status     string
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
	sleep      func(time.Duration)
}

// NewPublisher connects to the broker and announces itself on the status
// topic.
func NewPublisher(cfg Config) (*Publisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt-publisher")
	p := &Publisher{
		prefix:     cfg.TopicPrefix,
		qos:        cfg.QoS,
		retain:     cfg.Retain,
		status:     cfg.StatusTopic(),
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		sleep:      time.Sleep,
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Publish(p.status, 1, true, "online"); token.Wait() && token.Error() != nil {
			log.Errorf("status publish error: %v", token.Error())
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
	p.cli = c
	return p, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.TopicPrefix != "" {
		opts.SetWill(cfg.StatusTopic(), "offline", 1, true)
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
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// RunMessage is the payload published for every completed run.
type RunMessage struct {
	MessageID string `json:"message_id"`
	coremetrics.RunReport
	DurationMS int64 `json:"duration_ms"`
}

// FailureMessage is the payload published for a rejected run.
type FailureMessage struct {
	MessageID string    `json:"message_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Time      time.Time `json:"time"`
}

// RunTopic returns the topic a run summary is published to.
func (p *Publisher) RunTopic(name string) string {
	return fmt.Sprintf("%s/runs/%s/summary", p.prefix, topicSegment(name))
}

// RecordRun publishes the run summary.
func (p *Publisher) RecordRun(r coremetrics.RunReport) error {
	msg := RunMessage{MessageID: uuid.NewString(), RunReport: r, DurationMS: r.Duration.Milliseconds()}
	return p.publish(p.RunTopic(r.Name), msg, map[string]string{"run_id": r.RunID})
}

// RecordFailure publishes a rejected run.
func (p *Publisher) RecordFailure(ev coremetrics.FailureEvent) error {
	msg := FailureMessage{MessageID: uuid.NewString(), Name: ev.Name, Kind: ev.Kind, Error: ev.Err, Time: ev.Time}
	topic := fmt.Sprintf("%s/runs/%s/failure", p.prefix, topicSegment(ev.Name))
	return p.publish(topic, msg, map[string]string{"error_kind": ev.Kind})
}

func (p *Publisher) publish(topic string, v any, tags map[string]string) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, p.qos, p.retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.maxRetries {
			p.sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	t := map[string]string{"module": "mqtt", "topic": topic}
	for k, v := range tags {
		t[k] = v
	}
	coremon.CaptureException(publishErr, t)
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Close announces the shutdown on the status topic and disconnects.
func (p *Publisher) Close() error {
	if p.cli == nil || !p.cli.IsConnected() {
		return nil
	}
	token := p.cli.Publish(p.status, 1, true, "offline")
	token.WaitTimeout(2 * time.Second)
	p.cli.Disconnect(250)
	return nil
}

// topicSegment makes a run name safe to use as a single topic level.
func topicSegment(name string) string {
	if name == "" {
		return "default"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(name)
}
