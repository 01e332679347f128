// Package mqttpub mirrors the joystick status and menu button events onto an
// MQTT broker.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/status  retained JSON status snapshot, rate limited
//	<prefix>/menu    JSON menu event, QoS 1, not retained
//	<prefix>/state   retained "online"/"offline" (last will)
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tmagjoy/internal/joystick"
	"tmagjoy/internal/sensortask"
)

const publishTimeout = 5 * time.Second

var nowFn = time.Now

type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	StatusInterval time.Duration
}

type sendFunc func(topic string, qos byte, retained bool, payload []byte) error

type Publisher struct {
	cfg    Config
	client mqtt.Client
	send   sendFunc

	mu           sync.Mutex
	lastStatusAt time.Time
	lastStage    joystick.Stage
	haveStatus   bool

	statusCh chan sensortask.Status
	menuCh   chan sensortask.MenuEvent

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	dropped atomic.Uint64
}

// New builds a publisher for cfg. The broker connection is opened by Start.
func New(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("mqttpub: broker is empty")
	}
	p := newPublisher(cfg, nil)
	state := p.topic("state")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(state, "offline", 1, true).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Printf("mqttpub: connected to %s", cfg.Broker)
			c.Publish(state, 1, true, "online")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqttpub: connection lost: %v", err)
		})

	p.client = mqtt.NewClient(opts)
	p.send = func(topic string, qos byte, retained bool, payload []byte) error {
		tok := p.client.Publish(topic, qos, retained, payload)
		if !tok.WaitTimeout(publishTimeout) {
			return fmt.Errorf("mqttpub: publish %s: timeout", topic)
		}
		return tok.Error()
	}
	return p, nil
}

func newPublisher(cfg Config, send sendFunc) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "tmagjoy"
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "tmagjoy"
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	return &Publisher{
		cfg:      cfg,
		send:     send,
		statusCh: make(chan sensortask.Status, 1),
		menuCh:   make(chan sensortask.MenuEvent, 16),
		stopCh:   make(chan struct{}),
	}
}

func (p *Publisher) topic(leaf string) string {
	return p.cfg.TopicPrefix + "/" + leaf
}

// Dropped reports how many offers were discarded because the publish loop
// was behind.
func (p *Publisher) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Start connects in the background and runs the publish loop until ctx is
// done or Close is called.
func (p *Publisher) Start(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("mqttpub: publisher is nil")
	}
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("mqttpub: already started")
	}
	if p.client != nil {
		// With connect retry enabled the token only completes once a
		// connection is made, so do not wait on it here.
		p.client.Connect()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	return nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	if p.client != nil && p.client.IsConnected() {
		_ = p.send(p.topic("state"), 1, true, []byte("offline"))
		p.client.Disconnect(250)
	}
}

func (p *Publisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case st := <-p.statusCh:
			b, err := json.Marshal(st)
			if err != nil {
				log.Printf("mqttpub: encode status: %v", err)
				continue
			}
			if err := p.send(p.topic("status"), 0, true, b); err != nil {
				log.Printf("mqttpub: %v", err)
			}
		case ev := <-p.menuCh:
			b, err := json.Marshal(ev)
			if err != nil {
				log.Printf("mqttpub: encode menu event: %v", err)
				continue
			}
			if err := p.send(p.topic("menu"), 1, false, b); err != nil {
				log.Printf("mqttpub: %v", err)
			}
		}
	}
}

// OfferStatus queues st for publishing when the status interval has elapsed
// or the calibration stage changed. It never blocks; a newer status replaces
// one still waiting.
func (p *Publisher) OfferStatus(st sensortask.Status) {
	if p == nil || !p.due(st) {
		return
	}
	select {
	case p.statusCh <- st:
		return
	default:
	}
	select {
	case <-p.statusCh:
	default:
	}
	select {
	case p.statusCh <- st:
	default:
		p.dropped.Add(1)
	}
}

// OfferMenu queues ev without blocking.
func (p *Publisher) OfferMenu(ev sensortask.MenuEvent) {
	if p == nil {
		return
	}
	select {
	case p.menuCh <- ev:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) due(st sensortask.Status) bool {
	now := nowFn()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.haveStatus && st.Stage == p.lastStage && now.Sub(p.lastStatusAt) < p.cfg.StatusInterval {
		return false
	}
	p.haveStatus = true
	p.lastStage = st.Stage
	p.lastStatusAt = now
	return true
}
