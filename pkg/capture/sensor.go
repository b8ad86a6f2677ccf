package capture

import (
	"fmt"
	"log/slog"

	"github.com/vsi-examples/vsistream/pkg/stream"
	"github.com/vsi-examples/vsistream/pkg/vsi"
)

// Sensor interfaces.
const (
	TX Interface = 1
	RX Interface = 2
)

// Sensor control flags.
const (
	ControlTxEnable  uint32 = 1 << 0
	ControlRxEnable  uint32 = 1 << 1
	ControlTxDisable uint32 = 1 << 2
	ControlRxDisable uint32 = 1 << 3
	ControlTxPause   uint32 = 1 << 4
	ControlRxPause   uint32 = 1 << 5
	ControlTxResume  uint32 = 1 << 6
	ControlRxResume  uint32 = 1 << 7
)

// Sensor events.
const (
	EventTxData uint32 = 1 << 0
	EventRxData uint32 = 1 << 1
)

// DefaultSensorSource is the data file read by RX when no source is set.
const DefaultSensorSource = "intdata.txt"

// SensorStatus reports which directions are enabled.
type SensorStatus struct {
	TxActive bool `json:"tx_active" yaml:"tx_active"`
	RxActive bool `json:"rx_active" yaml:"rx_active"`
}

// SensorOptions configures a Sensor driver.
type SensorOptions struct {
	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Sensor drives a simulated sample peripheral with a receiver (RX) and a
// transmitter (TX).
//
// RX reads integer rows from a text file, one row per block; the first
// block after enabling is all zero while the peripheral primes. TX hands
// every transmitted block to the function set with SetOutput.
type Sensor struct {
	base
}

// NewSensor creates an uninitialized sensor driver.
func NewSensor(opts SensorOptions) *Sensor {
	s := &Sensor{}
	s.setup("sensor", opts.Logger)
	for _, c := range []struct {
		iface  Interface
		name   string
		output bool
		event  uint32
	}{
		{TX, "tx", true, EventTxData},
		{RX, "rx", false, EventRxData},
	} {
		ch := s.addChannel(c.iface, c.name, c.output)
		event := c.event
		ch.periph.SetIRQHandler(func() {
			ch.periph.ClearIRQ()
			s.emit(event)
		})
	}
	return s
}

var _ Driver = (*Sensor)(nil)

// Initialize resets both directions and installs the event callback.
func (s *Sensor) Initialize(cb EventFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialize(cb)
	for _, ch := range s.channels {
		ch.periph.WriteReg(vsi.RegControl, 0)
	}
	s.logger.Debug("capture: sensor initialized")
	return nil
}

// Uninitialize disables both directions.
func (s *Sensor) Uninitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uninitialize()
}

func (s *Sensor) enabled(ch *channel) bool {
	return ch.periph.ReadReg(vsi.RegControl)&vsi.ControlEnable != 0
}

// Configure sets channels (1..32), sample bits (8..32) and sample rate of
// an interface. The extra argument is ignored.
func (s *Sensor) Configure(iface Interface, channels, sampleBits, sampleRate, _ int) error {
	if !s.initialized.Load() {
		return fmt.Errorf("capture: sensor: not initialized: %w", ErrDriver)
	}
	if channels < 1 || channels > 32 || sampleBits < 8 || sampleBits > 32 || sampleRate <= 0 {
		return fmt.Errorf("capture: sensor: configure channels %d bits %d rate %d: %w", channels, sampleBits, sampleRate, ErrParameter)
	}
	ch, err := s.channel(iface)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled(ch) {
		return fmt.Errorf("capture: sensor: %s enabled: %w: %w", ch.name, ErrDriver, ErrBusy)
	}
	ch.cfg = [4]int{channels, sampleBits, sampleRate, 0}
	ch.configured = true
	ch.periph.WriteReg(vsi.RegChannels, uint32(channels))
	ch.periph.WriteReg(vsi.RegSampleBits, uint32(sampleBits))
	ch.periph.WriteReg(vsi.RegSampleRate, uint32(sampleRate))
	return nil
}

// SampleSize returns the size in bytes of one sample frame (all channels).
func (s *Sensor) SampleSize(iface Interface) int {
	ch, err := s.channel(iface)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ch.cfg[0] * ((ch.cfg[1] + 7) / 8)
}

// SetBuffer binds blockCount blocks of blockSize bytes to an interface.
// blockCount must be a power of two.
func (s *Sensor) SetBuffer(iface Interface, buf []byte, blockCount, blockSize int) error {
	ch, err := s.channel(iface)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ch.configured {
		return fmt.Errorf("capture: sensor: %s not configured: %w", ch.name, ErrDriver)
	}
	if err := s.setBuffer(ch, buf, blockCount, blockSize, ch.cfg[2]); err != nil {
		return fmt.Errorf("%w: %w", ErrDriver, err)
	}
	return nil
}

// SetSource sets the data file read by RX. It takes effect at the next
// enable.
func (s *Sensor) SetSource(iface Interface, path string) error {
	ch, err := s.channel(iface)
	if err != nil {
		return err
	}
	if ch.output {
		return fmt.Errorf("capture: sensor: %s has no source: %w", ch.name, ErrUnsupported)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled(ch) {
		return fmt.Errorf("capture: sensor: %s enabled: %w", ch.name, ErrBusy)
	}
	ch.source = path
	return nil
}

// SetOutput sets the function that receives each block sent on TX.
func (s *Sensor) SetOutput(iface Interface, fn func([]byte) error) error {
	ch, err := s.channel(iface)
	if err != nil {
		return err
	}
	if !ch.output {
		return fmt.Errorf("capture: sensor: %s is an input: %w", ch.name, ErrUnsupported)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch.sink = fn
	return nil
}

// Control enables, disables, pauses or resumes each direction. Disable
// takes precedence over enable and pause over resume.
func (s *Sensor) Control(flags uint32) error {
	if !s.initialized.Load() {
		return fmt.Errorf("capture: sensor: not initialized: %w", ErrDriver)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range []struct {
		ch                             *channel
		enable, disable, pause, resume uint32
	}{
		{s.channels[TX], ControlTxEnable, ControlTxDisable, ControlTxPause, ControlTxResume},
		{s.channels[RX], ControlRxEnable, ControlRxDisable, ControlRxPause, ControlRxResume},
	} {
		switch {
		case flags&d.disable != 0:
			s.disable(d.ch)
		case flags&d.enable != 0:
			if err := s.enable(d.ch, stream.ModeContinuous); err != nil {
				return err
			}
		}
		switch {
		case flags&d.pause != 0:
			s.pause(d.ch)
		case flags&d.resume != 0:
			s.resume(d.ch)
		}
	}
	return nil
}

// StreamStart enables an interface in the given mode.
func (s *Sensor) StreamStart(iface Interface, mode stream.Mode) error {
	ch, err := s.channel(iface)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enable(ch, mode)
}

// StreamStop disables an interface.
func (s *Sensor) StreamStop(iface Interface) error {
	ch, err := s.channel(iface)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disable(ch)
	return nil
}

// Count returns the number of blocks moved by an interface.
func (s *Sensor) Count(iface Interface) uint32 {
	ch, err := s.channel(iface)
	if err != nil {
		return 0
	}
	return ch.periph.Count()
}

// Active reports which directions are enabled.
func (s *Sensor) Active() SensorStatus {
	if !s.initialized.Load() {
		return SensorStatus{}
	}
	return SensorStatus{
		TxActive: s.enabled(s.channels[TX]),
		RxActive: s.enabled(s.channels[RX]),
	}
}

func (s *Sensor) interval(ch *channel) uint32 {
	sampleSize := ch.cfg[0] * ((ch.cfg[1] + 7) / 8)
	return vsi.Interval(uint32(ch.stream.BlockSize()), uint32(sampleSize), uint32(ch.cfg[2]))
}

func (s *Sensor) enable(ch *channel, mode stream.Mode) error {
	if !ch.buffered {
		return fmt.Errorf("capture: sensor: %s has no buffer: %w", ch.name, ErrDriver)
	}
	if s.enabled(ch) {
		return nil
	}
	if err := s.loadModel(ch); err != nil {
		return err
	}
	// Registers written before the model existed are replayed so it sees
	// the configured geometry.
	for _, r := range []int{vsi.RegChannels, vsi.RegSampleBits, vsi.RegSampleRate} {
		ch.periph.WriteReg(r, ch.periph.ReadReg(r))
	}
	if st := ch.stream.State(); st != stream.StateStreaming {
		if err := ch.stream.Start(mode); err != nil {
			return fmt.Errorf("capture: sensor: %s: %w: %w", ch.name, ErrDriver, err)
		}
	}
	ch.periph.WriteReg(vsi.RegControl, vsi.ControlEnable)
	ch.periph.EnableIRQ(true)
	ch.startDMA(s.interval(ch))
	s.logger.Debug("capture: sensor enabled", "iface", ch.name, "interval_us", s.interval(ch))
	return nil
}

func (s *Sensor) disable(ch *channel) {
	ch.stopDMA()
	ch.periph.WriteReg(vsi.RegControl, 0)
	ch.stream.Stop()
	s.logger.Debug("capture: sensor disabled", "iface", ch.name)
}

func (s *Sensor) pause(ch *channel) {
	ch.periph.EnableIRQ(false)
	ch.stopDMA()
}

func (s *Sensor) resume(ch *channel) {
	if !s.enabled(ch) {
		return
	}
	ch.periph.EnableIRQ(true)
	ch.startDMA(s.interval(ch))
}

func (s *Sensor) loadModel(ch *channel) error {
	if ch.output {
		fn := ch.sink
		if fn == nil {
			fn = func([]byte) error { return nil }
		}
		ch.periph.SetModel(vsi.NewOutput(fn))
		return nil
	}
	path := ch.source
	if path == "" {
		path = DefaultSensorSource
	}
	m := vsi.NewIntLines(path)
	m.Prime = true
	if err := m.Open(); err != nil {
		return fmt.Errorf("capture: sensor: %w: %w", ErrParameter, err)
	}
	ch.periph.SetModel(m)
	return nil
}
