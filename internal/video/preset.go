// Package video models the video codec boundary: assembling ordered frame
// images into one artifact, and a stateful session for repeated per-frame
// extraction from an existing artifact.
package video

import (
	"fmt"
	"sort"
	"strings"
)

// Preset names a fixed combination of container, frame rate, resolution,
// pixel format and rate control. One frame corresponds to exactly one
// chunk, at playback position frameNumber/FPS seconds.
type Preset struct {
	Name        string
	Extension   string // container extension, e.g. ".mp4"
	FPS         int
	Width       int
	Height      int
	PixelFormat string
	Codec       string // encoder name, e.g. "libx264"
	CRF         int    // constant-rate factor; -1 when Bitrate is used
	Bitrate     string // e.g. "1M"; empty when CRF is used
}

var presets = map[string]Preset{
	"mp4": {
		Name:        "mp4",
		Extension:   ".mp4",
		FPS:         15,
		Width:       512,
		Height:      512,
		PixelFormat: "yuv420p",
		Codec:       "libx264",
		CRF:         23,
		Bitrate:     "",
	},
	"mkv-lossless": {
		Name:        "mkv-lossless",
		Extension:   ".mkv",
		FPS:         15,
		Width:       512,
		Height:      512,
		PixelFormat: "yuv444p",
		Codec:       "libx264",
		CRF:         0,
		Bitrate:     "",
	},
	"webm": {
		Name:        "webm",
		Extension:   ".webm",
		FPS:         15,
		Width:       512,
		Height:      512,
		PixelFormat: "yuv420p",
		Codec:       "libvpx-vp9",
		CRF:         -1,
		Bitrate:     "1M",
	},
}

// PresetByName looks up a named preset.
func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown video preset %q (have: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return p, nil
}

// PresetNames returns the available preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
