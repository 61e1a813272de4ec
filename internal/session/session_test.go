package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/command"
	"aed_map/core-go/internal/geo"
	"aed_map/core-go/internal/marker"
	"aed_map/core-go/internal/selection"
	"aed_map/core-go/internal/viewport"
)

var belgium = geo.NewBounds(geo.LatLng{Lat: 49.5, Lng: 2.5}, geo.LatLng{Lat: 51.5, Lng: 6.4})

type fakeTimer struct {
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, f func()) viewport.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}

type fakeProvider struct {
	mu      sync.Mutex
	devices []catalog.Device
}

func (p *fakeProvider) Devices(f catalog.Filter) []catalog.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return catalog.Apply(p.devices, f)
}

func (p *fakeProvider) set(devices []catalog.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

var (
	deviceA = catalog.Device{ID: "a", Name: "Brussel Centraal", Latitude: "50.85", Longitude: "4.35", BatteryPercent: "90", Accessibility: catalog.Public}
	deviceB = catalog.Device{ID: "b", Name: "Gent Sint-Pieters", Latitude: "51.05", Longitude: "3.72", BatteryPercent: "75", Accessibility: catalog.Private}
	broken  = catalog.Device{ID: "x", Name: "Broken", Latitude: "??", Longitude: "4.0", Accessibility: catalog.Public}
)

func testOptions(sched viewport.Scheduler) Options {
	return Options{
		Region:     belgium,
		MinZoom:    7,
		MaxZoom:    18,
		DetailZoom: 18,
		PanelWidth: 384,
		Viewport: viewport.Options{
			Size:          geo.Size{Width: 1024, Height: 768},
			InitialCenter: geo.LatLng{Lat: 50.8503, Lng: 4.3517},
			InitialZoom:   8,
			LayoutDelay:   100 * time.Millisecond,
			FitPolicy:     viewport.FitSkipInvalid,
			Scheduler:     sched,
		},
	}
}

func mounted(t *testing.T, devices ...catalog.Device) (*Session, *fakeScheduler, *fakeProvider) {
	t.Helper()
	sched := &fakeScheduler{}
	prov := &fakeProvider{devices: devices}
	s := newSession("s1", zerolog.Nop(), testOptions(sched), prov, catalog.FilterAll, nil)
	if err := s.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return s, sched, prov
}

func TestMount_FitsCatalog(t *testing.T) {
	s, _, _ := mounted(t, deviceA, deviceB)

	st := s.State()
	if st.Phase != "ready" {
		t.Fatalf("expected ready, got %s", st.Phase)
	}
	want := geo.NewBounds(geo.LatLng{Lat: 50.85, Lng: 4.35}, geo.LatLng{Lat: 51.05, Lng: 3.72})
	if st.Viewport.Bounds != want {
		t.Fatalf("expected bounds %+v, got %+v", want, st.Viewport.Bounds)
	}
	if len(st.Markers) != 2 || st.Selected != nil || st.Panel != nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if !st.Region.ContainsBounds(st.Viewport.Bounds) {
		t.Fatalf("view escapes region")
	}
}

func TestMount_Twice(t *testing.T) {
	s, _, _ := mounted(t, deviceA)
	if err := s.Mount(); !errors.Is(err, ErrAlreadyMounted) {
		t.Fatalf("expected ErrAlreadyMounted, got %v", err)
	}
	s.Unmount()
	if err := s.Mount(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOperationsBeforeMountAreRejected(t *testing.T) {
	s := newSession("s0", zerolog.Nop(), testOptions(&fakeScheduler{}), &fakeProvider{}, catalog.FilterAll, nil)

	if _, err := s.Select("a"); !errors.Is(err, viewport.ErrUnboundViewport) {
		t.Fatalf("Select: expected ErrUnboundViewport, got %v", err)
	}
	if err := s.Recenter(); !errors.Is(err, viewport.ErrUnboundViewport) {
		t.Fatalf("Recenter: expected ErrUnboundViewport, got %v", err)
	}
	if err := s.Pan(10, 10); !errors.Is(err, viewport.ErrUnboundViewport) {
		t.Fatalf("Pan: expected ErrUnboundViewport, got %v", err)
	}
	if err := s.SetFilter(catalog.FilterPublic); !errors.Is(err, viewport.ErrUnboundViewport) {
		t.Fatalf("SetFilter: expected ErrUnboundViewport, got %v", err)
	}
}

func TestSelect_OpensPanelAndNarrowsMap(t *testing.T) {
	s, sched, _ := mounted(t, deviceA, deviceB)

	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	st := s.State()
	if st.Selected == nil || st.Selected.ID != "a" || st.Panel == nil {
		t.Fatalf("expected a selected with panel, got %+v", st)
	}
	if st.Viewport.Zoom != 18 {
		t.Fatalf("expected detail zoom, got %v", st.Viewport.Zoom)
	}
	if !st.LayoutPending {
		t.Fatalf("expected a pending layout pass")
	}
	for _, m := range st.Markers {
		if m.DeviceID == "a" && m.Style != marker.StyleSelected {
			t.Fatalf("selected marker has style %s", m.Style)
		}
	}

	if n := sched.fire(); n != 1 {
		t.Fatalf("expected one layout pass, got %d", n)
	}
	st = s.State()
	if st.Viewport.Size.Width != 1024-384 {
		t.Fatalf("expected narrowed width, got %d", st.Viewport.Size.Width)
	}
	if st.Viewport.Center != (geo.LatLng{Lat: 50.85, Lng: 4.35}) {
		t.Fatalf("expected center on device, got %+v", st.Viewport.Center)
	}
	if !belgium.ContainsBounds(st.Viewport.Bounds) {
		t.Fatalf("view escapes region: %+v", st.Viewport.Bounds)
	}
}

func TestClosePanel_RestoresWidthKeepsView(t *testing.T) {
	s, sched, _ := mounted(t, deviceA, deviceB)
	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	sched.fire()
	before := s.State().Viewport.Center

	if err := s.ClosePanel(); err != nil {
		t.Fatalf("ClosePanel: %v", err)
	}
	st := s.State()
	if st.Selected != nil || st.Panel != nil {
		t.Fatalf("expected no selection")
	}
	if st.Viewport.Size.Width != 1024 {
		t.Fatalf("expected full width, got %d", st.Viewport.Size.Width)
	}
	if st.Viewport.Center != before {
		t.Fatalf("close must not move the view")
	}
}

func TestSelect_MalformedDeviceFallsBack(t *testing.T) {
	s, _, _ := mounted(t, deviceA, broken)

	_, err := s.Select("x")
	var perr *geo.CoordinateParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected coordinate error, got %v", err)
	}
	st := s.State()
	if st.Selected != nil {
		t.Fatalf("expected no selection")
	}
	if st.Viewport.Bounds != belgium {
		t.Fatalf("expected region view, got %+v", st.Viewport.Bounds)
	}
	if st.Unplaced != 1 {
		t.Fatalf("expected 1 unplaced device, got %d", st.Unplaced)
	}
}

func TestSelect_Unknown(t *testing.T) {
	s, _, _ := mounted(t, deviceA)
	if _, err := s.Select("nope"); !errors.Is(err, selection.ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestRecenter_IdempotentAndClearsSelection(t *testing.T) {
	s, sched, _ := mounted(t, deviceA, deviceB)
	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	if err := s.Recenter(); err != nil {
		t.Fatalf("Recenter: %v", err)
	}
	first := s.State()
	if err := s.Recenter(); err != nil {
		t.Fatalf("Recenter: %v", err)
	}
	second := s.State()

	if first.Selected != nil {
		t.Fatalf("expected selection cleared")
	}
	if first.Viewport.Bounds != belgium || second.Viewport != first.Viewport {
		t.Fatalf("recenter not idempotent: %+v vs %+v", first.Viewport, second.Viewport)
	}
	if first.Viewport.Size.Width != 1024 {
		t.Fatalf("expected panel width restored, got %d", first.Viewport.Size.Width)
	}
	if n := sched.fire(); n != 0 {
		t.Fatalf("pending layout should have been cancelled, %d ran", n)
	}
}

func TestRecenter_FromOtherPublisher(t *testing.T) {
	s, _, _ := mounted(t, deviceA)
	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	s.Channel().Publish(command.TopicRecenter)

	if st := s.State(); st.Selected != nil || st.Viewport.Bounds != belgium {
		t.Fatalf("expected default state, got %+v", st)
	}
}

// pausingViewport runs hook once, at the start of the first Recenter.
type pausingViewport struct {
	selection.Viewport
	once sync.Once
	hook func()
}

func (v *pausingViewport) Recenter() error {
	v.once.Do(v.hook)
	return v.Viewport.Recenter()
}

func TestRecenter_ConcurrentSelectWaitsForIt(t *testing.T) {
	sched := &fakeScheduler{}
	prov := &fakeProvider{devices: []catalog.Device{deviceA, deviceB}}
	s := newSession("s1", zerolog.Nop(), testOptions(sched), prov, catalog.FilterAll, nil)

	selectDone := make(chan error, 1)
	vp := &pausingViewport{Viewport: s.ctrl}
	vp.hook = func() {
		// The selection is already cleared here; the view is not reset yet.
		go func() {
			_, err := s.Select("a")
			selectDone <- err
		}()
		select {
		case err := <-selectDone:
			t.Errorf("select completed in the middle of a recenter (err=%v)", err)
			selectDone <- err
		case <-time.After(50 * time.Millisecond):
		}
	}
	s.coord = selection.New(zerolog.Nop(), vp, 18, nil)
	if err := s.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if _, err := s.Select("b"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	if err := s.Recenter(); err != nil {
		t.Fatalf("Recenter: %v", err)
	}

	select {
	case err := <-selectDone:
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("select never completed")
	}

	// Recenter then select is the only order the session may show.
	st := s.State()
	if st.Selected == nil || st.Selected.ID != "a" || st.Panel == nil {
		t.Fatalf("expected device a selected with its panel, got %+v", st.Selected)
	}
	if st.Viewport.Zoom != 18 || st.Viewport.Bounds == belgium {
		t.Fatalf("expected view focused on device a, got %+v", st.Viewport)
	}
	if st.Viewport.Size.Width != 1024-384 {
		t.Fatalf("expected narrowed width with the panel open, got %d", st.Viewport.Size.Width)
	}
}

func TestSetFilter_ClearsSelectionNotInResult(t *testing.T) {
	s, _, _ := mounted(t, deviceA, deviceB)
	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	if err := s.SetFilter(catalog.FilterPrivate); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	st := s.State()
	if st.Selected != nil {
		t.Fatalf("expected selection cleared")
	}
	if len(st.Markers) != 1 || st.Markers[0].DeviceID != "b" {
		t.Fatalf("expected only b, got %+v", st.Markers)
	}
	if st.Viewport.Size.Width != 1024 {
		t.Fatalf("expected full width after panel closed, got %d", st.Viewport.Size.Width)
	}
	if st.Filter != catalog.FilterPrivate {
		t.Fatalf("expected private filter, got %s", st.Filter)
	}
}

func TestReload_EmptyCatalogShowsRegion(t *testing.T) {
	s, _, prov := mounted(t, deviceA, deviceB)
	prov.set(nil)

	if err := s.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if st := s.State(); st.Viewport.Bounds != belgium || len(st.Markers) != 0 {
		t.Fatalf("expected region view with no markers, got %+v", st)
	}
}

func TestResize_WhilePanelOpen(t *testing.T) {
	s, _, _ := mounted(t, deviceA)
	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := s.Resize(geo.Size{Width: 1400, Height: 900}); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if w := s.State().Viewport.Size.Width; w != 1400-384 {
		t.Fatalf("expected %d, got %d", 1400-384, w)
	}
	if err := s.Resize(geo.Size{}); !errors.Is(err, viewport.ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
}

func TestSubscribe_ReceivesLayoutPush(t *testing.T) {
	s, sched, _ := mounted(t, deviceA)

	var got []State
	unsub := s.Subscribe(func(st State) { got = append(got, st) })

	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	sched.fire()
	if len(got) != 2 {
		t.Fatalf("expected select and layout pushes, got %d", len(got))
	}
	if got[1].LayoutPending {
		t.Fatalf("layout push should report no pending pass")
	}

	unsub()
	if err := s.Pan(5, 5); err != nil {
		t.Fatalf("Pan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unsubscribed listener still called")
	}
}

func TestUnmount_ReleasesResources(t *testing.T) {
	s, sched, _ := mounted(t, deviceA)
	if _, err := s.Select("a"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	s.Unmount()
	s.Unmount()

	select {
	case <-s.Done():
	default:
		t.Fatalf("Done not closed")
	}
	if n := s.bus.Subscribers(command.TopicRecenter); n != 0 {
		t.Fatalf("expected no recenter subscribers, got %d", n)
	}
	if n := sched.fire(); n != 0 {
		t.Fatalf("layout pass survived unmount")
	}
	if s.Phase() != viewport.Unbound {
		t.Fatalf("expected unbound, got %s", s.Phase())
	}
}
