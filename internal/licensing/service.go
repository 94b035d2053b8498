package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/licensehub/internal/idgen"
	"github.com/mbd888/licensehub/internal/syncutil"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxTokenAttempts bounds regeneration after a token collision.
const maxTokenAttempts = 5

// Service implements provisioning, lifecycle, activation, validation and the
// customer query. Every call runs in one store transaction; activations of
// the same token are additionally serialized in-process.
type Service struct {
	store  Store
	tokens TokenGenerator
	clock  Clock
	events EventEmitter
	seats  *syncutil.KeyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithTokenGenerator replaces the default random token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Service) { s.tokens = g }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithEventEmitter sets the sink for domain events.
func WithEventEmitter(e EventEmitter) Option {
	return func(s *Service) {
		if e != nil {
			s.events = e
		}
	}
}

// NewService creates a licensing service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tokens: RandomTokenGenerator{},
		clock:  SystemClock{},
		events: noopEmitter{},
		seats:  syncutil.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// CreateBrand registers a new brand.
func (s *Service) CreateBrand(ctx context.Context, code, name string) (*Brand, error) {
	b := &Brand{
		ID:        idgen.WithPrefix("brd_"),
		Code:      code,
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateBrand(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateProduct registers a product under brand.
func (s *Service) CreateProduct(ctx context.Context, brand Brand, code, name string) (*Product, error) {
	p := &Product{
		ID:        idgen.WithPrefix("prd_"),
		BrandID:   brand.ID,
		Code:      code,
		Name:      name,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// KeyDetail is a license key with its activation usage.
type KeyDetail struct {
	Key         LicenseKey
	Activations []Activation
	Seats       Seats
}

// GetKeyForBrand returns a license key owned by brand together with its
// activations.
func (s *Service) GetKeyForBrand(ctx context.Context, brand Brand, keyID string) (*KeyDetail, error) {
	var detail *KeyDetail
	err := s.store.WithTx(ctx, func(tx Store) error {
		key, err := tx.GetLicenseKey(ctx, keyID)
		if err != nil {
			return err
		}
		if key.BrandID != brand.ID {
			return ErrCrossTenantKey
		}
		acts, err := tx.ListActivations(ctx, key.ID)
		if err != nil {
			return fmt.Errorf("list activations: %w", err)
		}
		detail = &KeyDetail{
			Key:         *key,
			Activations: acts,
			Seats:       Seats{Used: len(acts)},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) emit(ctx context.Context, typ EventType, brandID string, at time.Time, data map[string]any) {
	s.events.EmitLicenseEvent(ctx, Event{
		Type:       typ,
		BrandID:    brandID,
		OccurredAt: at,
		Data:       data,
	})
}

// isDomainError reports whether err is an expected business outcome rather
// than an infrastructure failure.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidKey, ErrNoValidLicenses, ErrCrossTenantKey, ErrCrossTenantAccess,
		ErrProductNotFound, ErrMissingExpiry, ErrInvalidTransition, ErrImmutable,
		ErrUnsupportedAction, ErrLicenseKeyNotFound, ErrLicenseNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// finishSpan records err on span. Business outcomes are noted but leave the
// span status unset so they do not show up as failures.
func finishSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	if !isDomainError(err) {
		span.SetStatus(codes.Error, err.Error())
	}
}
