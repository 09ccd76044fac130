package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/holoplot/go-evdev"
)

// Input names accepted in the channels and exit config sections.
const (
	InputA             = "a"
	InputB             = "b"
	InputX             = "x"
	InputY             = "y"
	InputStart         = "start"
	InputSelect        = "select"
	InputLeftShoulder  = "left_shoulder"
	InputRightShoulder = "right_shoulder"
	InputDPadLeft      = "dpad_left"
	InputDPadRight     = "dpad_right"
	InputDPadUp        = "dpad_up"
	InputDPadDown      = "dpad_down"
	InputLeftTrigger   = "left_trigger"
	InputRightTrigger  = "right_trigger"
	InputLeftStickX    = "left_stick_x"
	InputLeftStickY    = "left_stick_y"
	InputRightStickX   = "right_stick_x"
	InputRightStickY   = "right_stick_y"
)

// Handler presets.
const (
	PresetButton  = "button"
	PresetTrigger = "trigger"
	PresetStick   = "stick"
	PresetCustom  = "custom"
)

// InputDef is a named gamepad input and the handler shape it gets by default.
type InputDef struct {
	Map      ChannelMap
	Preset   string
	Active   Range // only for PresetCustom
	DeadZone Range // only for PresetCustom
}

// Xbox-style controller as reported by the xpad driver. Start and Select are
// swapped on purpose: the pads this was built for report them that way round.
var gamepadInputs = map[string]InputDef{
	InputA:             {Map: ChannelMap{"A", KeyCode(evdev.BTN_SOUTH)}, Preset: PresetButton},
	InputB:             {Map: ChannelMap{"B", KeyCode(evdev.BTN_EAST)}, Preset: PresetButton},
	InputX:             {Map: ChannelMap{"X", KeyCode(evdev.BTN_WEST)}, Preset: PresetButton},
	InputY:             {Map: ChannelMap{"Y", KeyCode(evdev.BTN_NORTH)}, Preset: PresetButton},
	InputStart:         {Map: ChannelMap{"Start", KeyCode(evdev.BTN_SELECT)}, Preset: PresetButton},
	InputSelect:        {Map: ChannelMap{"Select", KeyCode(evdev.BTN_START)}, Preset: PresetButton},
	InputLeftShoulder:  {Map: ChannelMap{"Left Shoulder", KeyCode(evdev.BTN_TL)}, Preset: PresetButton},
	InputRightShoulder: {Map: ChannelMap{"Right Shoulder", KeyCode(evdev.BTN_TR)}, Preset: PresetButton},

	// D-pad halves share an axis; each is active at one end of it.
	InputDPadLeft:  {Map: ChannelMap{"D-Pad Left", AbsCode(evdev.ABS_HAT0X)}, Preset: PresetCustom, Active: Range{-1, -1}},
	InputDPadRight: {Map: ChannelMap{"D-Pad Right", AbsCode(evdev.ABS_HAT0X)}, Preset: PresetCustom, Active: Range{1, 1}},
	InputDPadUp:    {Map: ChannelMap{"D-Pad Up", AbsCode(evdev.ABS_HAT0Y)}, Preset: PresetCustom, Active: Range{-1, -1}},
	InputDPadDown:  {Map: ChannelMap{"D-Pad Down", AbsCode(evdev.ABS_HAT0Y)}, Preset: PresetCustom, Active: Range{1, 1}},

	InputLeftTrigger:  {Map: ChannelMap{"Left Trigger", AbsCode(evdev.ABS_Z)}, Preset: PresetTrigger},
	InputRightTrigger: {Map: ChannelMap{"Right Trigger", AbsCode(evdev.ABS_RZ)}, Preset: PresetTrigger},
	InputLeftStickX:   {Map: ChannelMap{"Left Stick X-Axis", AbsCode(evdev.ABS_X)}, Preset: PresetStick},
	InputLeftStickY:   {Map: ChannelMap{"Left Stick Y-Axis", AbsCode(evdev.ABS_Y)}, Preset: PresetStick},
	InputRightStickX:  {Map: ChannelMap{"Right Stick X-Axis", AbsCode(evdev.ABS_RX)}, Preset: PresetStick},
	InputRightStickY:  {Map: ChannelMap{"Right Stick Y-Axis", AbsCode(evdev.ABS_RY)}, Preset: PresetStick},
}

// LookupInput returns the definition of a named input (case-insensitive).
func LookupInput(name string) (InputDef, bool) {
	def, ok := gamepadInputs[strings.ToLower(strings.TrimSpace(name))]
	return def, ok
}

// InputNames returns all accepted input names, sorted.
func InputNames() []string {
	names := make([]string, 0, len(gamepadInputs))
	for n := range gamepadInputs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// DefaultChannelLayout is the stock 8-channel assignment: both sticks, the
// right trigger and the shoulder buttons. Channel 8 is unassigned.
func DefaultChannelLayout() []ChannelConfig {
	return []ChannelConfig{
		{Input: InputLeftStickX},
		{Input: InputLeftStickY},
		{Input: InputRightStickX},
		{Input: InputRightStickY},
		{Input: InputRightTrigger},
		{Input: InputLeftShoulder},
		{Input: InputRightShoulder},
		{},
	}
}

// resolve turns a channel entry into a map and its ranges.
func (ch ChannelConfig) resolve() (ChannelMap, Range, Range, error) {
	def, ok := LookupInput(ch.Input)
	if !ok {
		return ChannelMap{}, Range{}, Range{}, fmt.Errorf("unknown input %q", ch.Input)
	}

	preset := ch.Preset
	if preset == "" {
		preset = def.Preset
	}

	switch preset {
	case PresetButton:
		return def.Map, ButtonRange, NoDeadZone, nil
	case PresetTrigger:
		return def.Map, TriggerRange, NoDeadZone, nil
	case PresetStick:
		return def.Map, StickRange, StickDeadZone, nil
	case PresetCustom:
		active, dz := def.Active, def.DeadZone
		if ch.ActiveRange != nil {
			r, err := rangeFromList(ch.ActiveRange)
			if err != nil {
				return ChannelMap{}, Range{}, Range{}, fmt.Errorf("active_range: %w", err)
			}
			active = r
		}
		if ch.DeadZone != nil {
			r, err := rangeFromList(ch.DeadZone)
			if err != nil {
				return ChannelMap{}, Range{}, Range{}, fmt.Errorf("dead_zone: %w", err)
			}
			dz = r
		}
		if active.Min > active.Max || dz.Min > dz.Max {
			return ChannelMap{}, Range{}, Range{}, fmt.Errorf("%w: %s: inverted range", ErrInvalidChannel, def.Map.Name)
		}
		return def.Map, active, dz, nil
	default:
		return ChannelMap{}, Range{}, Range{}, fmt.Errorf("unknown preset %q (must be button, trigger, stick or custom)", preset)
	}
}

func rangeFromList(v []int32) (Range, error) {
	if len(v) != 2 {
		return Range{}, fmt.Errorf("want [min, max], got %d values", len(v))
	}
	return Range{Min: v[0], Max: v[1]}, nil
}

// BuildLayout creates one handler per PPM channel (nil for unassigned
// channels) plus the exit handler. Channel handlers publish on bus; the exit
// handler does too, so observers see it activate.
func BuildLayout(cfg *Config, bus *Bus) (channels []*ChannelHandler, exit *ChannelHandler, err error) {
	if len(cfg.Channels) > cfg.PPM.ChannelCount {
		return nil, nil, fmt.Errorf("%d channel entries for %d PPM channels", len(cfg.Channels), cfg.PPM.ChannelCount)
	}
	channels = make([]*ChannelHandler, cfg.PPM.ChannelCount)
	for i, ch := range cfg.Channels {
		if ch.Input == "" {
			continue
		}
		m, active, dz, err := ch.resolve()
		if err != nil {
			return nil, nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
		h, err := NewChannelHandler(m, active, dz, bus)
		if err != nil {
			return nil, nil, fmt.Errorf("channel %d: %w", i+1, err)
		}
		channels[i] = h
	}

	m, active, dz, err := ChannelConfig{Input: cfg.Exit.Input}.resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("exit: %w", err)
	}
	if exit, err = NewChannelHandler(m, active, dz, bus); err != nil {
		return nil, nil, fmt.Errorf("exit: %w", err)
	}
	return channels, exit, nil
}
