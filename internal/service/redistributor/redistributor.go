package redistributor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalDesk/internal/domain/models"
	"SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/logger"
)

// ErrNoSymbols is returned when a subscribe request resolves to no channels.
var ErrNoSymbols = errors.New("redistributor: no channels to subscribe")

const opTimeout = 5 * time.Second

// Callback receives one message from a subscribed channel.
type Callback func(channel string, payload []byte)

// Redistributor fans broker messages out to local subscribers while keeping
// at most one upstream subscription per channel. The first local subscriber
// opens the upstream connection, the last one closes it; overlapping
// subscriptions share channels through refcounts.
type Redistributor struct {
	bus     repository.Bus
	log     *logger.Logger
	metrics repository.Metrics

	mu       sync.Mutex
	upstream repository.Subscription
	channels map[string]*channelState
	nextID   uint64
}

type channelState struct {
	refs      int
	callbacks map[uint64]Callback
}

// New creates a redistributor on top of the given bus. No upstream
// subscription is opened until the first local subscriber arrives.
func New(bus repository.Bus, met repository.Metrics, log *logger.Logger) *Redistributor {
	return &Redistributor{
		bus:      bus,
		log:      log,
		metrics:  met,
		channels: make(map[string]*channelState),
	}
}

// Subscription is one local subscriber's handle. Close is idempotent.
type Subscription struct {
	r        *Redistributor
	id       uint64
	symbols  []string
	channels []string
	once     sync.Once
}

// Symbols returns the canonical symbols this subscription covers.
func (s *Subscription) Symbols() []string { return s.symbols }

// Close removes the subscriber and releases its channel references.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.r.release(s.id, s.channels)
	})
}

// Subscribe registers fn for the bar and trade channels of each symbol.
// Symbols are canonicalized and deduplicated first. The upstream subscription
// is opened lazily here, so a broker outage surfaces as an error on the first
// subscribe rather than as silent message loss.
func (r *Redistributor) Subscribe(ctx context.Context, symbols []string, fn Callback) (*Subscription, error) {
	return r.SubscribeChannels(ctx, symbols, nil, fn)
}

// SubscribeChannels registers fn for each symbol's bar and trade channels
// plus any extra broker channels, such as the shared setup feeds. At least
// one symbol or extra channel is required.
func (r *Redistributor) SubscribeChannels(ctx context.Context, symbols, extra []string, fn Callback) (*Subscription, error) {
	canonical := models.CanonicalSymbols(symbols, 0)
	if fn == nil {
		return nil, errors.New("redistributor: nil callback")
	}

	channels := make([]string, 0, len(canonical)*2+len(extra))
	seen := make(map[string]struct{}, len(canonical)*2+len(extra))
	for _, sym := range canonical {
		for _, ch := range []string{models.BarChannel(sym), models.TradeChannel(sym)} {
			channels = append(channels, ch)
			seen[ch] = struct{}{}
		}
	}
	for _, ch := range extra {
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, ErrNoSymbols
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.upstream == nil {
		sub, err := r.bus.Subscribe(ctx, channels...)
		if err != nil {
			r.metrics.RecordError("redistributor_subscribe")
			return nil, fmt.Errorf("redistributor: open upstream: %w", err)
		}
		r.upstream = sub
		go r.dispatch(sub)
		r.log.Info("redistributor: upstream opened",
			logger.Int("channels", len(channels)),
			logger.Strings("symbols", canonical))
	} else {
		var toAdd []string
		for _, ch := range channels {
			if _, ok := r.channels[ch]; !ok {
				toAdd = append(toAdd, ch)
			}
		}
		if len(toAdd) > 0 {
			if err := r.upstream.Add(ctx, toAdd...); err != nil {
				r.metrics.RecordError("redistributor_subscribe")
				return nil, fmt.Errorf("redistributor: add channels: %w", err)
			}
		}
	}

	r.nextID++
	id := r.nextID
	for _, ch := range channels {
		st, ok := r.channels[ch]
		if !ok {
			st = &channelState{callbacks: make(map[uint64]Callback)}
			r.channels[ch] = st
		}
		st.refs++
		st.callbacks[id] = fn
	}

	r.log.Debug("redistributor: subscriber added",
		logger.Int64("id", int64(id)),
		logger.Strings("symbols", canonical))

	return &Subscription{r: r, id: id, symbols: canonical, channels: channels}, nil
}

// release drops one subscriber's references. Channels that reach zero
// references are unsubscribed upstream; when none remain the upstream
// connection itself is closed.
func (r *Redistributor) release(id uint64, channels []string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	var toRemove []string
	for _, ch := range channels {
		st, ok := r.channels[ch]
		if !ok {
			continue
		}
		delete(st.callbacks, id)
		st.refs--
		if st.refs <= 0 {
			delete(r.channels, ch)
			toRemove = append(toRemove, ch)
		}
	}

	if r.upstream == nil {
		return
	}

	if len(r.channels) == 0 {
		if err := r.upstream.Close(); err != nil {
			r.log.Warn("redistributor: upstream close failed", logger.Error(err))
		}
		r.upstream = nil
		r.log.Info("redistributor: upstream closed")
		return
	}

	if len(toRemove) > 0 {
		if err := r.upstream.Remove(ctx, toRemove...); err != nil {
			r.log.Warn("redistributor: unsubscribe failed",
				logger.Strings("channels", toRemove),
				logger.Error(err))
		}
	}
}

// dispatch fans messages from one upstream subscription out to the callbacks
// registered for their channel. It exits when the subscription closes.
func (r *Redistributor) dispatch(sub repository.Subscription) {
	for msg := range sub.Messages() {
		r.mu.Lock()
		var cbs []Callback
		if st, ok := r.channels[msg.Channel]; ok {
			cbs = make([]Callback, 0, len(st.callbacks))
			for _, cb := range st.callbacks {
				cbs = append(cbs, cb)
			}
		}
		r.mu.Unlock()

		if len(cbs) == 0 {
			continue
		}
		for _, cb := range cbs {
			cb(msg.Channel, msg.Payload)
		}
		r.metrics.RecordDelivery(msg.Channel)
	}
}

// Healthy probes the underlying broker.
func (r *Redistributor) Healthy(ctx context.Context) error {
	return r.bus.Ping(ctx)
}

// ChannelCount reports distinct channels currently subscribed upstream.
func (r *Redistributor) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// SubscriberCount reports distinct local subscribers.
func (r *Redistributor) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uint64]struct{})
	for _, st := range r.channels {
		for id := range st.callbacks {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Close tears down the upstream subscription regardless of remaining local
// subscribers. Used on shutdown.
func (r *Redistributor) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upstream != nil {
		_ = r.upstream.Close()
		r.upstream = nil
	}
	r.channels = make(map[string]*channelState)
}
