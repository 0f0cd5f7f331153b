package mqtt

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Controller sends wrapped-light commands over MQTT. It satisfies the
// notification worker's device controller interface.
type Controller struct {
	client *Client
	topics Topics
}

// NewController creates a controller publishing under the given topics.
func NewController(client *Client, topics Topics) *Controller {
	return &Controller{client: client, topics: topics}
}

// TurnOn publishes a turn-on command with the given parameters.
func (c *Controller) TurnOn(ctx context.Context, entity string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := map[string]any{"state": "ON"}
	for k, v := range params {
		payload[k] = v
	}
	log.Debug().Str("entity", entity).Interface("params", params).Msg("Wrapped light turn_on")
	return c.client.Publish(c.topics.WrappedSet(entity), payload)
}

// TurnOff publishes a turn-off command.
func (c *Controller) TurnOff(ctx context.Context, entity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Debug().Str("entity", entity).Msg("Wrapped light turn_off")
	return c.client.Publish(c.topics.WrappedSet(entity), map[string]any{"state": "OFF"})
}
