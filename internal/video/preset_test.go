package video

import "testing"

func TestPresetByName(t *testing.T) {
	for _, name := range PresetNames() {
		p, err := PresetByName(name)
		if err != nil {
			t.Errorf("PresetByName(%q) failed: %v", name, err)
		}
		if p.FPS <= 0 || p.Width <= 0 || p.Height <= 0 {
			t.Errorf("Preset %q has invalid geometry: %+v", name, p)
		}
		if p.Codec == "" || p.Extension == "" {
			t.Errorf("Preset %q missing codec or extension: %+v", name, p)
		}
	}

	if _, err := PresetByName("betamax"); err == nil {
		t.Error("Expected error for unknown preset")
	}
}

func TestLosslessPreset(t *testing.T) {
	p, err := PresetByName("mkv-lossless")
	if err != nil {
		t.Fatalf("PresetByName failed: %v", err)
	}
	if p.CRF != 0 {
		t.Errorf("Expected CRF 0 for lossless preset, got %d", p.CRF)
	}
}
