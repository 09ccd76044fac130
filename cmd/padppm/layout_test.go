package main

import (
	"slices"
	"testing"

	"github.com/holoplot/go-evdev"
)

func TestLookupInput(t *testing.T) {
	def, ok := LookupInput("  Left_Stick_X ")
	if !ok {
		t.Fatalf("left_stick_x not found")
	}
	if def.Map.Code != AbsCode(evdev.ABS_X) || def.Preset != PresetStick {
		t.Errorf("left_stick_x = %+v", def)
	}
	if _, ok := LookupInput("turbo"); ok {
		t.Errorf("unknown input found")
	}
}

func TestStartAndSelectAreSwapped(t *testing.T) {
	start, _ := LookupInput(InputStart)
	sel, _ := LookupInput(InputSelect)
	if start.Map.Code != KeyCode(evdev.BTN_SELECT) || sel.Map.Code != KeyCode(evdev.BTN_START) {
		t.Fatalf("start=%v select=%v", start.Map.Code, sel.Map.Code)
	}
}

func TestInputNames(t *testing.T) {
	names := InputNames()
	if len(names) != len(gamepadInputs) {
		t.Fatalf("got %d names, want %d", len(names), len(gamepadInputs))
	}
	if !slices.IsSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	for _, n := range names {
		if _, ok := LookupInput(n); !ok {
			t.Errorf("name %q does not resolve", n)
		}
	}
}

func TestChannelConfig_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		ch         ChannelConfig
		wantActive Range
		wantDZ     Range
	}{
		{"button", ChannelConfig{Input: InputA}, ButtonRange, NoDeadZone},
		{"trigger", ChannelConfig{Input: InputLeftTrigger}, TriggerRange, NoDeadZone},
		{"stick", ChannelConfig{Input: InputRightStickY}, StickRange, StickDeadZone},
		{"dpad", ChannelConfig{Input: InputDPadRight}, Range{1, 1}, NoDeadZone},
		{"stick as trigger", ChannelConfig{Input: InputLeftStickX, Preset: PresetTrigger}, TriggerRange, NoDeadZone},
		{"custom", ChannelConfig{Input: InputLeftStickY, Preset: PresetCustom,
			ActiveRange: []int32{0, 32767}, DeadZone: []int32{0, 2000}}, Range{0, 32767}, Range{0, 2000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, active, dz, err := tt.ch.resolve()
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if active != tt.wantActive || dz != tt.wantDZ {
				t.Fatalf("ranges = %v %v, want %v %v", active, dz, tt.wantActive, tt.wantDZ)
			}
		})
	}
}

func TestChannelConfig_ResolveErrors(t *testing.T) {
	bad := []ChannelConfig{
		{Input: "turbo"},
		{Input: InputA, Preset: "wheel"},
		{Input: InputA, Preset: PresetCustom, ActiveRange: []int32{1, 2, 3}},
		{Input: InputA, Preset: PresetCustom, DeadZone: []int32{4}},
		{Input: InputA, Preset: PresetCustom, ActiveRange: []int32{10, 0}},
	}
	for _, ch := range bad {
		if _, _, _, err := ch.resolve(); err == nil {
			t.Errorf("%+v: expected error", ch)
		}
	}
}

func TestBuildLayout_Default(t *testing.T) {
	cfg := DefaultConfig()
	channels, exit, err := BuildLayout(&cfg, NewBus())
	if err != nil {
		t.Fatalf("BuildLayout: %v", err)
	}
	if len(channels) != defaultChannelCount {
		t.Fatalf("got %d channels, want %d", len(channels), defaultChannelCount)
	}

	wantNames := []string{
		"Left Stick X-Axis", "Left Stick Y-Axis", "Right Stick X-Axis", "Right Stick Y-Axis",
		"Right Trigger", "Left Shoulder", "Right Shoulder",
	}
	for i, want := range wantNames {
		if channels[i] == nil || channels[i].Name() != want {
			t.Errorf("channel %d = %v, want %s", i+1, channels[i], want)
		}
	}
	if channels[7] != nil {
		t.Errorf("channel 8 = %v, want unassigned", channels[7])
	}
	if exit.Name() != "Start" || exit.Map().Code != KeyCode(evdev.BTN_SELECT) {
		t.Errorf("exit = %v (%v)", exit, exit.Map().Code)
	}
}

func TestBuildLayout_ShortChannelListPadsUnassigned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = []ChannelConfig{{Input: InputA}}
	channels, _, err := BuildLayout(&cfg, nil)
	if err != nil {
		t.Fatalf("BuildLayout: %v", err)
	}
	if len(channels) != cfg.PPM.ChannelCount || channels[0] == nil || channels[1] != nil {
		t.Fatalf("channels = %v", channels)
	}
}

func TestBuildLayout_HandlersPublishOnBus(t *testing.T) {
	cfg := DefaultConfig()
	bus := NewBus()
	rec := &recordingHandler{}
	_ = bus.Subscribe(rec, KindActivated)

	channels, exit, err := BuildLayout(&cfg, bus)
	if err != nil {
		t.Fatalf("BuildLayout: %v", err)
	}
	channels[5].Handle(Sample{Code: KeyCode(evdev.BTN_TL), Value: 1})
	exit.Handle(Sample{Code: KeyCode(evdev.BTN_SELECT), Value: 1})

	if len(rec.got) != 2 || rec.got[0].Source != channels[5] || rec.got[1].Source != exit {
		t.Fatalf("activations = %v", rec.got)
	}
}

func TestBuildLayout_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exit.Input = "home"
	if _, _, err := BuildLayout(&cfg, nil); err == nil {
		t.Errorf("unknown exit: expected error")
	}

	cfg = DefaultConfig()
	cfg.PPM.ChannelCount = 2
	if _, _, err := BuildLayout(&cfg, nil); err == nil {
		t.Errorf("too many channel entries: expected error")
	}
}
