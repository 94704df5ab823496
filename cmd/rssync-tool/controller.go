package main

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cwi-dis/vrt-sync/internal/config"
	"github.com/cwi-dis/vrt-sync/internal/mqtt"
	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/status"
)

// controller applies settings from the web form: reconfigure the regulator,
// persist the accepted settings and announce the change.
type controller struct {
	reg       *regulator.Regulator
	publisher mqtt.Publisher
	tracker   *status.Tracker

	mu   sync.Mutex
	cfg  *config.Config
	path string
}

func newController(reg *regulator.Regulator, cfg *config.Config, path string, publisher mqtt.Publisher, tracker *status.Tracker) *controller {
	return &controller{reg: reg, cfg: cfg, path: path, publisher: publisher, tracker: tracker}
}

// Settings returns the regulator's active settings.
func (c *controller) Settings() regulator.Settings {
	return c.reg.Settings()
}

// Apply reconfigures the regulator. Invalid settings change nothing. If the
// new source fails to start the settings are not saved and the regulator is
// left without a source.
func (c *controller) Apply(s regulator.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.reg.Reconfigure(s)
	c.tracker.Update(c.reg.Snapshot())
	if err != nil {
		if !isValidationError(err) {
			log.Printf("reconfigure to %s: %v", s.Mode, err)
		}
		return err
	}

	c.cfg.SetSettings(s)
	if err := c.cfg.Save(c.path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	log.Printf("reconfigured: source=%s fps_free=%g divider=%d", s.Mode, s.FPSFree, s.Divider)

	snap := c.tracker.Snapshot()
	event := mqtt.Event{
		Timestamp:  time.Now(),
		Event:      mqtt.EventReconfigured,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventReconfigured, ""),
	}
	if err := c.publisher.Publish(event); err != nil {
		log.Printf("reconfigured publish error: %v", err)
	}
	return nil
}

func isValidationError(err error) bool {
	var re regulator.Error
	return errors.As(err, &re)
}
