package app

import (
	"context"

	"github.com/dokzlo13/colornotifyd/internal/config"
	"github.com/dokzlo13/colornotifyd/internal/eventbus"
	"github.com/dokzlo13/colornotifyd/internal/luapat"
	"github.com/dokzlo13/colornotifyd/internal/mqtt"
	"github.com/dokzlo13/colornotifyd/internal/store"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB            *store.DB
	Notifications *store.NotificationStore
	LightStates   *store.LightStateStore
	Patterns      *luapat.Registry
	Bus           *eventbus.Bus

	// Transport
	MQTT *mqtt.Client

	// Per-light scheduling engines
	Lights *LightService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Notifications = store.NewNotificationStore(database)
	s.LightStates = store.NewLightStateStore(database)

	// Load Lua pattern scripts
	s.Patterns, err = luapat.Load(cfg.Patterns.Dir)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Bus = eventbus.New()

	// Connect to the MQTT broker
	s.MQTT, err = mqtt.Connect(cfg.MQTT)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Lights = NewLightService(cfg, s.MQTT, s.Bus, s.Patterns, s.Notifications, s.LightStates)
	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	return s.Lights.Start(ctx)
}

// ClearState clears all persisted notifications.
func (s *Services) ClearState() error {
	return s.Notifications.Clear("")
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
