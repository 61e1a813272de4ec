// Package viewport owns the map's visible region and zoom. It keeps the view
// inside a fixed containment region, fits the view to a device set and
// focuses single devices.
package viewport

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/metrics"
)

var (
	ErrUnboundViewport = errors.New("viewport: not initialized")
	ErrAlreadyBound    = errors.New("viewport: already initialized")
	ErrInvalidSize     = errors.New("viewport: invalid map size")
	ErrInvalidZoom     = errors.New("viewport: invalid zoom")
)

type Phase int

const (
	// Unbound: no map attached; every view operation is rejected.
	Unbound Phase = iota
	// Bound: containment and drag correction installed, no data fitted yet.
	Bound
	// Ready: the view has been fitted or focused at least once.
	Ready
)

func (p Phase) String() string {
	switch p {
	case Bound:
		return "bound"
	case Ready:
		return "ready"
	default:
		return "unbound"
	}
}

// FitPolicy decides what a malformed device coordinate does to FitToDevices.
type FitPolicy int

const (
	// FitStrict falls back to the containment region when any coordinate
	// fails to parse.
	FitStrict FitPolicy = iota
	// FitSkipInvalid leaves malformed devices out of the bounding box.
	FitSkipInvalid
)

func ParseFitPolicy(s string) (FitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return FitStrict, nil
	case "skip_invalid", "skip-invalid":
		return FitSkipInvalid, nil
	default:
		return FitStrict, fmt.Errorf("unknown fit policy %q", s)
	}
}

func (p FitPolicy) String() string {
	if p == FitSkipInvalid {
		return "skip_invalid"
	}
	return "strict"
}

// Viewport is a snapshot of the visible map state.
type Viewport struct {
	Center geo.LatLng `json:"center"`
	Zoom   float64    `json:"zoom"`
	Bounds geo.Bounds `json:"bounds"`
	Size   geo.Size   `json:"size"`
}

type Options struct {
	Size          geo.Size
	InitialCenter geo.LatLng
	InitialZoom   float64
	LayoutDelay   time.Duration
	FitPolicy     FitPolicy
	Scheduler     Scheduler
}

type Controller struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	initialCenter geo.LatLng
	initialZoom   float64
	layoutDelay   time.Duration
	fitPolicy     FitPolicy
	sched         Scheduler

	mu             sync.Mutex
	phase          Phase
	region         geo.Bounds
	minZoom        float64
	maxZoom        float64
	view           Viewport
	dragCorrection func(geo.Bounds) geo.Bounds
	layout         Timer
	layoutGen      uint64
	onLayout       []func(Viewport)
}

func New(log zerolog.Logger, opts Options, m *metrics.Metrics) *Controller {
	size := opts.Size
	if !size.Valid() {
		size = geo.Size{Width: 1024, Height: 768}
	}
	delay := opts.LayoutDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	return &Controller{
		log:           log,
		metrics:       m,
		initialCenter: opts.InitialCenter,
		initialZoom:   opts.InitialZoom,
		layoutDelay:   delay,
		fitPolicy:     opts.FitPolicy,
		sched:         sched,
		view:          Viewport{Size: size},
	}
}

// Initialize binds the controller to a containment region and zoom range.
// The region becomes a hard panning limit and a drag correction that snaps
// the view back inside it is installed.
func (c *Controller) Initialize(region geo.Bounds, minZoom, maxZoom float64) error {
	if !region.Valid() || region.LatSpan() <= 0 || region.LngSpan() <= 0 {
		return fmt.Errorf("viewport: invalid containment region %+v", region)
	}
	if math.IsNaN(minZoom) || math.IsNaN(maxZoom) || minZoom > maxZoom {
		return fmt.Errorf("%w: range [%v, %v]", ErrInvalidZoom, minZoom, maxZoom)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != Unbound {
		return ErrAlreadyBound
	}

	c.region = region
	c.minZoom = minZoom
	c.maxZoom = maxZoom
	c.dragCorrection = func(b geo.Bounds) geo.Bounds {
		return geo.Constrain(b, region)
	}

	center := c.initialCenter
	if center == (geo.LatLng{}) {
		center = region.Center()
	}
	c.setViewLocked(center, c.initialZoom)
	c.phase = Bound
	return nil
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// View returns the current viewport snapshot.
func (c *Controller) View() Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Region returns the containment region; zero before Initialize.
func (c *Controller) Region() geo.Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.region
}

// HasPendingLayout reports whether a deferred layout pass is scheduled.
func (c *Controller) HasPendingLayout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout != nil
}

// OnLayout registers fn to run after each deferred layout pass. Hooks are
// dropped on Close.
func (c *Controller) OnLayout(fn func(Viewport)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLayout = append(c.onLayout, fn)
}

// FitToDevices fits the view to the devices' bounding box. An empty sequence,
// or malformed data under FitStrict, shows the containment region. It never
// fails because of device data. A pending detail layout pass is dropped.
func (c *Controller) FitToDevices(devices []catalog.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Unbound {
		return ErrUnboundViewport
	}
	c.cancelLayoutLocked()
	c.phase = Ready

	if len(devices) == 0 {
		c.fitRegionLocked()
		return nil
	}

	points := make([]geo.LatLng, 0, len(devices))
	skipped := 0
	for _, d := range devices {
		p, err := d.Position()
		if err != nil {
			if c.fitPolicy == FitStrict {
				c.log.Warn().Err(err).Str("device_id", d.ID).Int("devices", len(devices)).
					Msg("could not fit to device bounds, using containment region")
				c.metrics.IncFitFallback("invalid_coordinates")
				c.fitRegionLocked()
				return nil
			}
			skipped++
			continue
		}
		points = append(points, p)
	}
	if skipped > 0 {
		c.log.Warn().Int("skipped", skipped).Int("devices", len(devices)).Msg("devices with malformed coordinates left out of fit")
	}

	box, err := geo.BoundsOf(points)
	if err != nil {
		c.metrics.IncFitFallback("no_valid_coordinates")
		c.fitRegionLocked()
		return nil
	}
	clipped, ok := box.Intersect(c.region)
	if !ok {
		c.log.Warn().Interface("bounds", box).Msg("devices lie outside the containment region, using containment region")
		c.metrics.IncFitFallback("outside_region")
		c.fitRegionLocked()
		return nil
	}
	c.fitLocked(clipped)
	return nil
}

// FocusOn centers the view on the device at detailZoom and schedules the
// deferred layout pass, replacing any pass still pending.
func (c *Controller) FocusOn(d catalog.Device, detailZoom float64) error {
	if math.IsNaN(detailZoom) {
		return ErrInvalidZoom
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Unbound {
		return ErrUnboundViewport
	}
	p, err := d.Position()
	if err != nil {
		return err
	}
	c.setViewLocked(p, detailZoom)
	c.phase = Ready
	c.scheduleLayoutLocked()
	return nil
}

// Recenter shows the containment region and drops any pending detail layout.
func (c *Controller) Recenter() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Unbound {
		return ErrUnboundViewport
	}
	c.cancelLayoutLocked()
	c.fitRegionLocked()
	c.phase = Ready
	return nil
}

// Pan moves the view by dx, dy pixels (positive x east, positive y south),
// then applies the drag correction.
func (c *Controller) Pan(dx, dy float64) error {
	if math.IsNaN(dx) || math.IsNaN(dy) || math.IsInf(dx, 0) || math.IsInf(dy, 0) {
		return fmt.Errorf("viewport: invalid pan delta (%v, %v)", dx, dy)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Unbound {
		return ErrUnboundViewport
	}

	old := c.view.Bounds
	lngPerPx := old.LngSpan() / float64(c.view.Size.Width)
	latPerPx := old.LatSpan() / float64(c.view.Size.Height)
	moved := old.Translate(-dy*latPerPx, dx*lngPerPx)

	corrected := c.dragCorrection(moved)
	shift := geo.LatLng{
		Lat: corrected.Center().Lat - old.Center().Lat,
		Lng: corrected.Center().Lng - old.Center().Lng,
	}
	c.view.Bounds = corrected
	c.view.Center = geo.LatLng{Lat: c.view.Center.Lat + shift.Lat, Lng: c.view.Center.Lng + shift.Lng}
	if !corrected.Contains(c.view.Center) {
		c.view.Center = corrected.Center()
	}
	return nil
}

// SetZoom zooms around the current center. The level is clamped to the
// configured range.
func (c *Controller) SetZoom(zoom float64) error {
	if math.IsNaN(zoom) {
		return ErrInvalidZoom
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Unbound {
		return ErrUnboundViewport
	}
	c.setViewLocked(c.view.Center, zoom)
	return nil
}

// Resize records the map's pixel size. The view is recomputed by the next
// fit, focus or deferred layout pass.
func (c *Controller) Resize(size geo.Size) error {
	if !size.Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, size.Width, size.Height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Size = size
	return nil
}

// Close unbinds the controller: the pending layout pass is cancelled and
// the drag correction and layout hooks are released.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLayoutLocked()
	c.dragCorrection = nil
	c.onLayout = nil
	c.phase = Unbound
	c.view = Viewport{Size: c.view.Size}
}

func (c *Controller) clampZoom(z float64) float64 {
	return math.Max(c.minZoom, math.Min(c.maxZoom, z))
}

func (c *Controller) setViewLocked(center geo.LatLng, zoom float64) {
	zoom = c.clampZoom(zoom)
	raw := geo.ViewBounds(center, zoom, c.view.Size)
	bounds := raw
	if c.dragCorrection != nil {
		bounds = c.dragCorrection(raw)
	}
	if bounds != raw {
		center = geo.LatLng{
			Lat: center.Lat + bounds.Center().Lat - raw.Center().Lat,
			Lng: center.Lng + bounds.Center().Lng - raw.Center().Lng,
		}
		if !bounds.Contains(center) {
			center = bounds.Center()
		}
	}
	c.view.Center = center
	c.view.Zoom = zoom
	c.view.Bounds = bounds
}

func (c *Controller) fitRegionLocked() {
	c.view.Center = c.region.Center()
	c.view.Zoom = c.clampZoom(geo.BoundsZoom(c.region, c.view.Size))
	c.view.Bounds = c.region
}

// fitLocked shows target, which must already lie inside the region.
func (c *Controller) fitLocked(target geo.Bounds) {
	zoom := geo.BoundsZoom(target, c.view.Size)
	if zoom > c.maxZoom {
		c.setViewLocked(target.Center(), c.maxZoom)
		return
	}
	c.view.Center = target.Center()
	c.view.Zoom = c.clampZoom(zoom)
	c.view.Bounds = target
}

func (c *Controller) scheduleLayoutLocked() {
	c.cancelLayoutLocked()
	gen := c.layoutGen
	c.layout = c.sched.AfterFunc(c.layoutDelay, func() {
		c.runLayout(gen)
	})
}

func (c *Controller) cancelLayoutLocked() {
	if c.layout != nil {
		c.layout.Stop()
		c.layout = nil
	}
	// A callback that already fired but is waiting on mu sees a stale generation.
	c.layoutGen++
}

func (c *Controller) runLayout(gen uint64) {
	c.mu.Lock()
	if gen != c.layoutGen || c.phase == Unbound {
		c.mu.Unlock()
		return
	}
	c.layout = nil
	c.setViewLocked(c.view.Center, c.view.Zoom)
	snapshot := c.view
	hooks := append([]func(Viewport){}, c.onLayout...)
	c.mu.Unlock()

	c.metrics.IncLayoutPass()
	c.log.Debug().Float64("zoom", snapshot.Zoom).Int("width", snapshot.Size.Width).Msg("layout recalculated")
	for _, fn := range hooks {
		fn(snapshot)
	}
}
