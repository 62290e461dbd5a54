package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cbodonnell/sessionkeeper/pkg/log"
)

// DefaultPollInterval is how often remote backends re-read watched keys.
const DefaultPollInterval = time.Second

// poller observes writes made by other processes by periodically reading
// every watched key and publishing values that differ from the last seen.
type poller struct {
	notifier *Notifier
	get      func(ctx context.Context, key string) (json.RawMessage, error)
	interval time.Duration

	// gate serializes polls and local writes, so a poll never reports a
	// local write as a remote change and subscribers see changes in commit
	// order.
	gate     sync.Mutex
	lock     sync.Mutex
	lastSeen map[string]json.RawMessage
	cancel   context.CancelFunc
	done     chan struct{}
}

func newPoller(notifier *Notifier, get func(ctx context.Context, key string) (json.RawMessage, error), interval time.Duration) *poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &poller{
		notifier: notifier,
		get:      get,
		interval: interval,
		lastSeen: make(map[string]json.RawMessage),
	}
}

func (p *poller) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

func (p *poller) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// write runs a local write with polls and other local writes held off.
// When changed is true the value it left behind is recorded and published
// before the gate is released.
func (p *poller) write(key string, fn func() (value json.RawMessage, changed bool, err error)) (json.RawMessage, bool, error) {
	p.gate.Lock()
	defer p.gate.Unlock()
	value, changed, err := fn()
	if err == nil && changed {
		p.observe(key, value)
		p.notifier.PublishChange(key, value)
	}
	return value, changed, err
}

// observe records a value written locally so the next poll does not
// publish it a second time.
func (p *poller) observe(key string, value json.RawMessage) {
	if !p.notifier.HasSubscribers(key) {
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.lastSeen[key] = cloneRaw(value)
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range p.notifier.Keys() {
				p.poll(ctx, key)
			}
		}
	}
}

func (p *poller) poll(ctx context.Context, key string) {
	p.gate.Lock()
	defer p.gate.Unlock()
	value, err := p.get(ctx, key)
	if err != nil && !IsNotFound(err) {
		if ctx.Err() != nil {
			return
		}
		log.Warn("Failed to poll key %s: %v", key, err)
		p.notifier.PublishError(key, err)
		return
	}
	if IsNotFound(err) {
		value = nil
	}

	p.lock.Lock()
	last, seen := p.lastSeen[key]
	changed := !seen || !bytes.Equal(last, value)
	if changed {
		p.lastSeen[key] = cloneRaw(value)
	}
	p.lock.Unlock()

	// The first poll only establishes a baseline.
	if changed && seen {
		p.notifier.PublishChange(key, value)
	}
}
