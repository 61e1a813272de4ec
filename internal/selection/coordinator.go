// Package selection tracks which device, if any, the user has selected and
// keeps that choice consistent with the active catalog and the viewport.
package selection

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/command"
	"aed_map/core-go/internal/metrics"
)

var ErrUnknownDevice = errors.New("selection: device not in active catalog")

// Viewport is the part of the viewport controller the coordinator drives.
type Viewport interface {
	FocusOn(d catalog.Device, detailZoom float64) error
	Recenter() error
}

type Coordinator struct {
	log        zerolog.Logger
	viewport   Viewport
	detailZoom float64
	metrics    *metrics.Metrics

	mu       sync.Mutex
	devices  []catalog.Device
	selected string
	detach   func()
	onChange []func()
}

func New(log zerolog.Logger, vp Viewport, detailZoom float64, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		log:        log,
		viewport:   vp,
		detailZoom: detailZoom,
		metrics:    m,
	}
}

// Select makes the device with the given ID the selection and focuses the
// viewport on it. If the viewport cannot focus it, the coordinator falls
// back to no selection and the region view, and returns the cause.
func (c *Coordinator) Select(id string) (catalog.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := catalog.IndexOf(c.devices, id)
	if i < 0 {
		return catalog.Device{}, ErrUnknownDevice
	}
	d := c.devices[i]
	c.selected = d.ID

	if err := c.viewport.FocusOn(d, c.detailZoom); err != nil {
		c.log.Warn().Err(err).Str("device_id", d.ID).Msg("cannot focus selected device, resetting view")
		c.selected = ""
		if rerr := c.viewport.Recenter(); rerr != nil {
			c.log.Debug().Err(rerr).Msg("recenter after failed focus")
		}
		return catalog.Device{}, err
	}
	c.metrics.IncSelection()
	return d, nil
}

// Clear drops the selection. The viewport is not moved.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = ""
}

// ReplaceCatalog installs a new active sequence. A selection that is no
// longer part of it is cleared; the return value reports that.
func (c *Coordinator) ReplaceCatalog(devices []catalog.Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices = append([]catalog.Device(nil), devices...)
	if c.selected != "" && catalog.IndexOf(c.devices, c.selected) < 0 {
		c.log.Debug().Str("device_id", c.selected).Msg("selected device left the catalog, clearing selection")
		c.selected = ""
		return true
	}
	return false
}

// Selected returns the selected device, if any.
func (c *Coordinator) Selected() (catalog.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := catalog.IndexOf(c.devices, c.selected)
	if i < 0 {
		return catalog.Device{}, false
	}
	return c.devices[i], true
}

func (c *Coordinator) SelectedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Devices returns a copy of the active sequence.
func (c *Coordinator) Devices() []catalog.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.Device(nil), c.devices...)
}

// OnChange registers fn to run after a recenter command was handled.
func (c *Coordinator) OnChange(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Attach subscribes to recenter commands on ch until Detach.
func (c *Coordinator) Attach(ch command.Channel) {
	unsub := ch.Subscribe(command.TopicRecenter, c.handleRecenter)

	c.mu.Lock()
	prev := c.detach
	c.detach = unsub
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Detach drops the recenter subscription and the change hooks.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	unsub := c.detach
	c.detach = nil
	c.onChange = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (c *Coordinator) handleRecenter() {
	c.Clear()
	if err := c.viewport.Recenter(); err != nil {
		c.log.Warn().Err(err).Msg("recenter command ignored")
		return
	}
	c.metrics.IncRecenter()

	c.mu.Lock()
	hooks := append([]func(){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
