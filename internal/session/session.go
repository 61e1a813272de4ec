// Package session composes one mounted map view: the viewport controller,
// the selection coordinator, the marker renderer and the page-scoped command
// bus. All operations on a session are serialized.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/command"
	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/marker"
	"aed_map/core-go/internal/metrics"
	"aed_map/core-go/internal/panel"
	"aed_map/core-go/internal/selection"
	"aed_map/core-go/internal/viewport"
)

var (
	ErrNotFound       = errors.New("session: not found")
	ErrAlreadyMounted = errors.New("session: already mounted")
	ErrClosed         = errors.New("session: unmounted")
)

// Provider returns the ordered device sequence for a filter. catalog.Store
// satisfies it.
type Provider interface {
	Devices(f catalog.Filter) []catalog.Device
}

type Options struct {
	Region     geo.Bounds
	MinZoom    float64
	MaxZoom    float64
	DetailZoom float64
	// PanelWidth is how many pixels the detail panel takes from the map.
	PanelWidth int
	Viewport   viewport.Options
	Icons      marker.IconSet

	// IdleTimeout is how long the Manager keeps a session without requests
	// or stream clients. Zero disables expiry.
	IdleTimeout time.Duration
}

// State is the snapshot pushed to clients.
type State struct {
	ID            string            `json:"id"`
	Phase         string            `json:"phase"`
	Filter        catalog.Filter    `json:"filter"`
	Region        geo.Bounds        `json:"region"`
	Viewport      viewport.Viewport `json:"viewport"`
	LayoutPending bool              `json:"layout_pending"`
	Selected      *catalog.Device   `json:"selected,omitempty"`
	Panel         *panel.View       `json:"panel,omitempty"`
	Markers       []marker.Marker   `json:"markers"`
	Unplaced      int               `json:"unplaced"`
}

type Session struct {
	id       string
	log      zerolog.Logger
	opts     Options
	provider Provider

	ctrl     *viewport.Controller
	coord    *selection.Coordinator
	bus      *command.Bus
	renderer *marker.Renderer

	mu        sync.Mutex
	phase     viewport.Phase
	filter    catalog.Filter
	mapSize   geo.Size
	panelOpen bool
	closed    bool
	done      chan struct{}

	lmu          sync.Mutex
	listeners    map[uint64]func(State)
	nextListener uint64

	clock      func() time.Time
	lastActive atomic.Int64
}

func newSession(id string, log zerolog.Logger, opts Options, provider Provider, filter catalog.Filter, m *metrics.Metrics) *Session {
	log = log.With().Str("session_id", id).Logger()
	ctrl := viewport.New(log, opts.Viewport, m)
	size := opts.Viewport.Size
	if !size.Valid() {
		size = ctrl.View().Size
	}
	if filter == "" {
		filter = catalog.FilterAll
	}
	return &Session{
		id:        id,
		log:       log,
		opts:      opts,
		provider:  provider,
		ctrl:      ctrl,
		coord:     selection.New(log, ctrl, opts.DetailZoom, m),
		bus:       command.NewBus(),
		renderer:  marker.NewRenderer(opts.Icons),
		filter:    filter,
		mapSize:   size,
		done:      make(chan struct{}),
		listeners: make(map[uint64]func(State)),
		clock:     time.Now,
	}
}

func (s *Session) ID() string { return s.id }

// Channel is the session's command channel. Any control on the page may
// publish on it.
func (s *Session) Channel() command.Channel { return s.bus }

// Done is closed when the session is unmounted.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Phase() viewport.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Mount binds the viewport to the containment region, attaches the
// selection coordinator to the command channel and fits the initial
// catalog, in that order.
func (s *Session) Mount() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.phase != viewport.Unbound {
		s.mu.Unlock()
		return ErrAlreadyMounted
	}

	if err := s.ctrl.Initialize(s.opts.Region, s.opts.MinZoom, s.opts.MaxZoom); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("mount session: %w", err)
	}
	if err := s.ctrl.Resize(s.mapSize); err != nil {
		s.ctrl.Close()
		s.mu.Unlock()
		return fmt.Errorf("mount session: %w", err)
	}
	s.phase = viewport.Bound

	s.coord.Attach(serializedChannel{s: s})
	s.coord.OnChange(s.afterRecenterLocked)
	s.ctrl.OnLayout(func(viewport.Viewport) { s.notify() })

	if err := s.applyCatalogLocked(s.provider.Devices(s.filter)); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("mount session: %w", err)
	}
	s.phase = viewport.Ready
	s.mu.Unlock()

	s.log.Info().Str("filter", string(s.filter)).Int("width", s.mapSize.Width).Int("height", s.mapSize.Height).Msg("map session mounted")
	s.notify()
	return nil
}

// Unmount releases the viewport, the command subscription and the
// listeners. It is safe to call more than once.
func (s *Session) Unmount() {
	s.mu.Lock()
	if s.phase == viewport.Unbound {
		s.mu.Unlock()
		return
	}
	s.coord.Detach()
	s.ctrl.Close()
	s.phase = viewport.Unbound
	s.panelOpen = false
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.lmu.Lock()
	s.listeners = make(map[uint64]func(State))
	s.lmu.Unlock()

	s.log.Info().Msg("map session unmounted")
}

// SetFilter replaces the active sequence with the catalog under f.
func (s *Session) SetFilter(f catalog.Filter) error {
	s.mu.Lock()
	if s.phase == viewport.Unbound {
		s.mu.Unlock()
		return viewport.ErrUnboundViewport
	}
	s.filter = f
	err := s.applyCatalogLocked(s.provider.Devices(f))
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Reload pulls the catalog again under the current filter. It is the
// session side of a full catalog replacement.
func (s *Session) Reload() error {
	s.mu.Lock()
	if s.phase == viewport.Unbound {
		s.mu.Unlock()
		return viewport.ErrUnboundViewport
	}
	err := s.applyCatalogLocked(s.provider.Devices(s.filter))
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Select opens the detail panel for the device and focuses it.
func (s *Session) Select(deviceID string) (catalog.Device, error) {
	s.mu.Lock()
	if s.phase == viewport.Unbound {
		s.mu.Unlock()
		return catalog.Device{}, viewport.ErrUnboundViewport
	}
	d, err := s.coord.Select(deviceID)
	switch {
	case err == nil:
		s.openPanelLocked()
	case errors.Is(err, selection.ErrUnknownDevice):
		s.mu.Unlock()
		return catalog.Device{}, err
	default:
		// The coordinator already fell back to no selection.
		s.closePanelLocked()
	}
	s.mu.Unlock()

	s.notify()
	return d, err
}

// ClosePanel clears the selection and gives the panel's width back to the
// map. The view is not moved.
func (s *Session) ClosePanel() error {
	s.mu.Lock()
	if s.phase == viewport.Unbound {
		s.mu.Unlock()
		return viewport.ErrUnboundViewport
	}
	s.coord.Clear()
	s.closePanelLocked()
	s.mu.Unlock()

	s.notify()
	return nil
}

// Recenter publishes a recenter command on the session's channel.
func (s *Session) Recenter() error {
	return s.Publish(command.TopicRecenter)
}

// Publish sends topic on the session's channel. The coordinator's handler
// takes the session lock itself, so Publish must not be called with it held.
func (s *Session) Publish(topic string) error {
	if s.Phase() == viewport.Unbound {
		return viewport.ErrUnboundViewport
	}
	s.bus.Publish(topic)
	return nil
}

func (s *Session) Pan(dx, dy float64) error {
	s.mu.Lock()
	err := s.ctrl.Pan(dx, dy)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Session) SetZoom(zoom float64) error {
	s.mu.Lock()
	err := s.ctrl.SetZoom(zoom)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// Resize records the full map container size. While the panel is open the
// viewport gets the container minus the panel.
func (s *Session) Resize(size geo.Size) error {
	if !size.Valid() {
		return fmt.Errorf("%w: %dx%d", viewport.ErrInvalidSize, size.Width, size.Height)
	}
	s.mu.Lock()
	if s.phase == viewport.Unbound {
		s.mu.Unlock()
		return viewport.ErrUnboundViewport
	}
	s.mapSize = size
	err := s.ctrl.Resize(s.effectiveSizeLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe registers fn for state pushes. The returned func removes it.
// A session with subscribers never counts as idle.
func (s *Session) Subscribe(fn func(State)) func() {
	s.touch()
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
		// The idle clock starts when the last stream goes away.
		s.touch()
	}
}

// touch marks the session as used now.
func (s *Session) touch() {
	s.lastActive.Store(s.clock().UnixNano())
}

// idleSince reports when the session was last used, and false while a
// subscriber keeps it alive.
func (s *Session) idleSince() (time.Time, bool) {
	s.lmu.Lock()
	n := len(s.listeners)
	s.lmu.Unlock()
	if n > 0 {
		return time.Time{}, false
	}
	return time.Unix(0, s.lastActive.Load()), true
}

func (s *Session) applyCatalogLocked(devices []catalog.Device) error {
	if s.coord.ReplaceCatalog(devices) {
		s.closePanelLocked()
	}
	return s.ctrl.FitToDevices(devices)
}

func (s *Session) effectiveSizeLocked() geo.Size {
	if !s.panelOpen || s.opts.PanelWidth <= 0 {
		return s.mapSize
	}
	narrowed := geo.Size{Width: s.mapSize.Width - s.opts.PanelWidth, Height: s.mapSize.Height}
	if !narrowed.Valid() {
		// The panel covers the whole map.
		return s.mapSize
	}
	return narrowed
}

func (s *Session) openPanelLocked() {
	if s.panelOpen {
		return
	}
	s.panelOpen = true
	if err := s.ctrl.Resize(s.effectiveSizeLocked()); err != nil {
		s.log.Debug().Err(err).Msg("resize for detail panel")
	}
}

func (s *Session) closePanelLocked() {
	if !s.panelOpen {
		return
	}
	s.panelOpen = false
	if err := s.ctrl.Resize(s.mapSize); err != nil {
		s.log.Debug().Err(err).Msg("resize after detail panel")
	}
}

// afterRecenterLocked runs after the coordinator handled a recenter
// command, still inside the serialized handler.
func (s *Session) afterRecenterLocked() {
	if !s.panelOpen {
		return
	}
	s.closePanelLocked()
	// Fit the region again at the restored width.
	if err := s.ctrl.Recenter(); err != nil {
		s.log.Debug().Err(err).Msg("recenter at restored width")
	}
}

// serializedChannel is the session bus as the coordinator sees it: every
// handler it subscribes runs under the session lock, like any other session
// operation, and listeners are notified afterwards.
type serializedChannel struct {
	s *Session
}

func (c serializedChannel) Publish(topic string) {
	c.s.bus.Publish(topic)
}

func (c serializedChannel) Subscribe(topic string, h command.Handler) func() {
	s := c.s
	return s.bus.Subscribe(topic, func() {
		s.mu.Lock()
		if s.phase == viewport.Unbound {
			// Unmounted between dispatch and delivery.
			s.mu.Unlock()
			return
		}
		h()
		s.mu.Unlock()
		s.notify()
	})
}

func (s *Session) stateLocked() State {
	view := s.ctrl.View()
	devices := s.coord.Devices()
	selectedID := s.coord.SelectedID()
	markers, unplaced := s.renderer.Render(devices, selectedID)

	st := State{
		ID:            s.id,
		Phase:         s.phase.String(),
		Filter:        s.filter,
		Region:        s.ctrl.Region(),
		Viewport:      view,
		LayoutPending: s.ctrl.HasPendingLayout(),
		Markers:       markers,
		Unplaced:      unplaced,
	}
	if d, ok := s.coord.Selected(); ok {
		st.Selected = &d
		p := panel.Build(d)
		st.Panel = &p
	}
	return st
}

func (s *Session) notify() {
	s.lmu.Lock()
	if len(s.listeners) == 0 {
		s.lmu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	st := s.State()
	for _, fn := range fns {
		fn(st)
	}
}
