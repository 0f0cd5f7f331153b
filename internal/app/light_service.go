package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/colornotifyd/internal/config"
	"github.com/dokzlo13/colornotifyd/internal/eventbus"
	"github.com/dokzlo13/colornotifyd/internal/luapat"
	"github.com/dokzlo13/colornotifyd/internal/mqtt"
	"github.com/dokzlo13/colornotifyd/internal/notify"
	"github.com/dokzlo13/colornotifyd/internal/sequence"
	"github.com/dokzlo13/colornotifyd/internal/store"
	"github.com/dokzlo13/colornotifyd/internal/wrapped"
)

// statePayload is the wire form of notification and wrapped-light state
// messages.
type statePayload struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// LightService owns the per-light notification workers and the routing
// between MQTT, the event bus and the workers.
type LightService struct {
	cfg    *config.Config
	client *mqtt.Client
	topics mqtt.Topics
	bus    *eventbus.Bus

	patterns      *luapat.Registry
	notifications *store.NotificationStore
	lightStates   *store.LightStateStore

	workers  map[string]*notify.Worker   // by light name
	byEntity map[string][]*notify.Worker // by wrapped entity id
}

// NewLightService creates the service and its workers, one per configured
// light.
func NewLightService(
	cfg *config.Config,
	client *mqtt.Client,
	bus *eventbus.Bus,
	patterns *luapat.Registry,
	notifications *store.NotificationStore,
	lightStates *store.LightStateStore,
) *LightService {
	s := &LightService{
		cfg:           cfg,
		client:        client,
		topics:        mqtt.Topics{Prefix: cfg.MQTT.Prefix},
		bus:           bus,
		patterns:      patterns,
		notifications: notifications,
		lightStates:   lightStates,
		workers:       make(map[string]*notify.Worker),
		byEntity:      make(map[string][]*notify.Worker),
	}

	controller := mqtt.NewController(client, s.topics)
	for _, lc := range cfg.Lights {
		var onRGB [3]uint8
		if len(lc.OnRGB) == 3 {
			onRGB = [3]uint8{uint8(lc.OnRGB[0]), uint8(lc.OnRGB[1]), uint8(lc.OnRGB[2])}
		}
		worker := notify.NewWorker(notify.Config{
			Name:            lc.Name,
			WrappedEntity:   lc.WrappedEntity,
			OnPriority:      lc.OnPriority,
			OnRGB:           onRGB,
			DynamicPriority: lc.DynamicPriority,
			RestorePower:    lc.RestorePower,
			PeekTime:        lc.PeekTime.Duration(),
			CycleTime:       lc.CycleTime.Duration(),
			SupportsRGB:     lc.SupportsRGB,
			RateLimitRPS:    lc.RateLimitRPS,
		}, controller, patterns)
		name := lc.Name
		worker.OnVirtualState(func(on bool, rgb sequence.RGB) {
			params := map[string]any{"rgb_color": []int{int(rgb[0]), int(rgb[1]), int(rgb[2])}}
			s.persistVirtualState(name, on, params)
		})
		s.workers[lc.Name] = worker
		s.byEntity[lc.WrappedEntity] = append(s.byEntity[lc.WrappedEntity], worker)
	}
	return s
}

// Start replays persisted state, registers bus handlers, subscribes the
// MQTT topics and launches the worker loops.
func (s *LightService) Start(ctx context.Context) error {
	s.replayPersisted()
	s.registerHandlers()

	if err := s.subscribe(); err != nil {
		return err
	}

	for _, worker := range s.workers {
		go worker.Run(ctx)
	}
	log.Info().Int("lights", len(s.workers)).Msg("Light workers started")
	return nil
}

// replayPersisted seeds workers from the database: virtual on/off state
// first, then the notifications that were active when the daemon stopped.
func (s *LightService) replayPersisted() {
	for _, lc := range s.cfg.Lights {
		worker := s.workers[lc.Name]

		if st, ok, err := s.lightStates.Load(lc.Name); err != nil {
			log.Warn().Err(err).Str("light", lc.Name).Msg("Failed to load persisted light state")
		} else if ok && st.IsOn {
			if lc.RestorePower {
				worker.TurnOn(st.Params)
			} else {
				// Quiet seed: the base "on" entry is restored without
				// commanding the real device
				worker.SeedVirtualOn(st.Params)
			}
			log.Debug().Str("light", lc.Name).Bool("restore_power", lc.RestorePower).Msg("Replayed virtual on state")
		}

		persisted, err := s.notifications.LoadForLight(lc.Name)
		if err != nil {
			log.Warn().Err(err).Str("light", lc.Name).Msg("Failed to load persisted notifications")
			continue
		}
		for _, n := range persisted {
			if err := worker.HandleNotificationEvent(n.Key, true, n.Attributes); err != nil {
				log.Warn().Err(err).Str("light", lc.Name).Str("key", n.Key).Msg("Failed to replay notification")
			}
		}
		if len(persisted) > 0 {
			log.Info().Str("light", lc.Name).Int("count", len(persisted)).Msg("Replayed persisted notifications")
		}
	}
}

func (s *LightService) registerHandlers() {
	s.bus.Subscribe(eventbus.EventTypeNotification, s.handleNotificationEvent)
	s.bus.Subscribe(eventbus.EventTypeWrappedState, s.handleWrappedStateEvent)
	s.bus.Subscribe(eventbus.EventTypeCommand, s.handleCommandEvent)
}

func (s *LightService) subscribe() error {
	if err := s.client.Subscribe(s.topics.NotificationStateFilter(), s.onNotificationMessage); err != nil {
		return err
	}
	if err := s.client.Subscribe(s.topics.WrappedStateFilter(), s.onWrappedStateMessage); err != nil {
		return err
	}
	for _, lc := range s.cfg.Lights {
		name := lc.Name
		err := s.client.Subscribe(s.topics.VirtualSet(name), func(topic string, payload []byte) {
			s.onCommandMessage(name, payload)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// --- MQTT message callbacks: decode and hand off to the bus ---

func (s *LightService) onNotificationMessage(topic string, payload []byte) {
	key, ok := s.topics.NotificationKey(topic)
	if !ok {
		return
	}
	var msg statePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Bad notification payload")
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeNotification,
		Data: map[string]any{
			"key":        key,
			"is_on":      strings.EqualFold(msg.State, "on"),
			"attributes": msg.Attributes,
		},
	})
}

func (s *LightService) onWrappedStateMessage(topic string, payload []byte) {
	entity, ok := s.topics.WrappedEntity(topic)
	if !ok {
		return
	}
	var msg statePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Bad wrapped state payload")
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeWrappedState,
		Data: map[string]any{
			"entity":     entity,
			"state":      strings.ToLower(msg.State),
			"attributes": msg.Attributes,
		},
	})
}

func (s *LightService) onCommandMessage(light string, payload []byte) {
	var params map[string]any
	if err := json.Unmarshal(payload, &params); err != nil {
		log.Warn().Err(err).Str("light", light).Msg("Bad command payload")
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeCommand,
		Data: map[string]any{
			"light":  light,
			"params": params,
		},
	})
}

// --- bus handlers: route to workers and persist ---

func (s *LightService) handleNotificationEvent(event eventbus.Event) {
	key, _ := event.Data["key"].(string)
	isOn, _ := event.Data["is_on"].(bool)
	attrs, _ := event.Data["attributes"].(map[string]any)
	if key == "" {
		return
	}

	log.Info().Str("event_id", event.ID).Str("key", key).Bool("on", isOn).Msg("Notification changed")

	for name, worker := range s.workers {
		if err := worker.HandleNotificationEvent(key, isOn, attrs); err != nil {
			log.Error().Err(err).Str("light", name).Str("key", key).Msg("Rejected notification")
			continue
		}
		var err error
		if isOn {
			err = s.notifications.Save(name, key, attrs)
		} else {
			err = s.notifications.Delete(name, key)
		}
		if err != nil {
			log.Warn().Err(err).Str("light", name).Str("key", key).Msg("Failed to persist notification")
		}
	}
}

func (s *LightService) handleWrappedStateEvent(event eventbus.Event) {
	entity, _ := event.Data["entity"].(string)
	state, _ := event.Data["state"].(string)
	attrs, _ := event.Data["attributes"].(map[string]any)

	workers := s.byEntity[entity]
	if len(workers) == 0 {
		return
	}
	snap := wrapped.Snapshot{State: state, Attributes: attrs}
	for _, worker := range workers {
		worker.HandleWrappedState(snap)
	}
}

func (s *LightService) handleCommandEvent(event eventbus.Event) {
	light, _ := event.Data["light"].(string)
	params, _ := event.Data["params"].(map[string]any)
	worker, ok := s.workers[light]
	if !ok {
		return
	}

	state, _ := params["state"].(string)
	delete(params, "state")

	log.Info().Str("event_id", event.ID).Str("light", light).Str("state", state).Msg("Virtual light command")

	// Persistence happens through the worker's virtual-state hook once the
	// command actually takes effect
	switch strings.ToUpper(state) {
	case "ON":
		worker.TurnOn(params)
	case "OFF":
		worker.TurnOff()
	case "TOGGLE":
		worker.Toggle(params)
	default:
		log.Warn().Str("light", light).Str("state", state).Msg("Unknown command state")
	}
}

func (s *LightService) persistVirtualState(light string, isOn bool, params map[string]any) {
	if err := s.lightStates.Save(light, isOn, params); err != nil {
		log.Warn().Err(err).Str("light", light).Msg("Failed to persist virtual state")
	}
}

// Worker returns the worker for a light name, for tests and diagnostics.
func (s *LightService) Worker(name string) (*notify.Worker, error) {
	w, ok := s.workers[name]
	if !ok {
		return nil, fmt.Errorf("unknown light %q", name)
	}
	return w, nil
}
