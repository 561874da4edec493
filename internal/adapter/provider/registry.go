package provider

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
)

// DefaultPreferred is the provider picked when SMS_PROVIDER is unset.
const DefaultPreferred = "twilio"

// Registry owns the set of registered SMS providers and the single active
// one. It is an explicit constructed instance handed to whatever needs SMS
// sending; there is no package-level singleton. Selection is lazy: absence of
// SMS configuration is not a startup failure, only a failure at point of use.
type Registry struct {
	mu        sync.RWMutex
	preferred string
	providers map[string]port.SMSProvider
	order     []string
	active    port.SMSProvider
	initOnce  sync.Once
	logger    *zap.Logger
}

func NewRegistry(preferred string, logger *zap.Logger) *Registry {
	if preferred == "" {
		preferred = DefaultPreferred
	}
	return &Registry{
		preferred: strings.ToLower(preferred),
		providers: make(map[string]port.SMSProvider),
		logger:    logger,
	}
}

// Register adds a provider. Last registration under a given name wins;
// registration order is kept for fallback selection.
func (r *Registry) Register(p port.SMSProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(p.Name())
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Active returns the active provider, selecting one on first call. The
// selection result sticks, even when it found nothing; a later Switch is the
// way to change it.
func (r *Registry) Active() (port.SMSProvider, error) {
	r.initOnce.Do(r.selectActive)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return nil, domain.ErrNoProviderAvailable
	}
	return r.active, nil
}

// selectActive prefers the configured provider when registered and available,
// otherwise the first available one in registration order.
func (r *Registry) selectActive() {
	r.mu.Lock()
	defer r.mu.Unlock()

	// An explicit Switch before first use wins over lazy selection.
	if r.active != nil {
		return
	}

	if p, ok := r.providers[r.preferred]; ok && p.Available() {
		r.active = p
		r.logger.Info("sms provider selected", zap.String("provider", p.Name()))
		return
	}

	for _, name := range r.order {
		if p := r.providers[name]; p.Available() {
			r.active = p
			r.logger.Warn("preferred sms provider unavailable, falling back",
				zap.String("preferred", r.preferred),
				zap.String("provider", p.Name()),
			)
			return
		}
	}

	r.logger.Warn("no sms provider configured, sms sending disabled",
		zap.Error(domain.ErrNoProviderConfigured),
	)
}

// ByName looks a provider up case-insensitively.
func (r *Registry) ByName(name string) (port.SMSProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Available returns the providers whose credentials are currently usable.
// Recomputed on every call; availability can change under hot-reloaded
// configuration.
func (r *Registry) Available() []port.SMSProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var available []port.SMSProvider
	for _, name := range r.order {
		if p := r.providers[name]; p.Available() {
			available = append(available, p)
		}
	}
	return available
}

// All returns every registered provider in registration order.
func (r *Registry) All() []port.SMSProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]port.SMSProvider, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, r.providers[name])
	}
	return all
}

// ActiveName returns the active provider's name, or "" when none is active.
func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return ""
	}
	return r.active.Name()
}

// Switch is an explicit operator action: manual failover or A/B testing.
func (r *Registry) Switch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownProvider, name)
	}
	if !p.Available() {
		return fmt.Errorf("%w: %s", domain.ErrProviderNotAvailable, name)
	}

	previous := ""
	if r.active != nil {
		previous = r.active.Name()
	}
	r.active = p

	r.logger.Info("sms provider switched",
		zap.String("from", previous),
		zap.String("to", p.Name()),
	)
	return nil
}

// wrapBreakerError maps gobreaker's sentinel errors onto the domain vocabulary
// so callers can treat an open circuit as a transient failure.
func wrapBreakerError(providerName string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", domain.ErrCircuitOpen, providerName)
	}
	return err
}
