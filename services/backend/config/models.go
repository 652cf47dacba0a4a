// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

// ModelSpec describes the generative weights expected for a profile.
// Filenames differ per profile to avoid ambiguity and accidental
// overwrites when the user switches machines.
type ModelSpec struct {
	Filename   string
	MinSizeGiB float64
}

var modelSpecs = map[Profile]ModelSpec{
	ProfileHighVRAM: {Filename: "llama-3-8b-instruct.Q6_K.gguf", MinSizeGiB: 5.2},
	ProfileLowVRAM:  {Filename: "llama-3-8b-instruct.Q4_K_M.gguf", MinSizeGiB: 3.8},
	ProfileCPUOnly:  {Filename: "llama-3-8b-instruct.Q4_K_S.gguf", MinSizeGiB: 3.5},
}

// LLMModelPath returns where the generative weights for the profile live.
func (c *Config) LLMModelPath() string {
	spec := modelSpecs[c.Profile]
	return filepath.Join(c.ModelsDir(), spec.Filename)
}

// WhisperModelDir returns the speech model directory.
func (c *Config) WhisperModelDir() string {
	return filepath.Join(c.ModelsDir(), "whisper-small")
}

// LLMReady reports whether the generative weights are present and not
// obviously truncated (a partial download passes os.Stat but fails the
// size floor).
func (c *Config) LLMReady() bool {
	spec := modelSpecs[c.Profile]
	info, err := os.Stat(c.LLMModelPath())
	if err != nil {
		return false
	}
	minBytes := int64(spec.MinSizeGiB * 0.8 * float64(1<<30))
	return info.Size() >= minBytes
}

// WhisperReady reports whether the speech model directory contains the
// files the runtime needs.
func (c *Config) WhisperReady() bool {
	dir := c.WhisperModelDir()
	for _, name := range []string{"model.bin", "config.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	info, err := os.Stat(filepath.Join(dir, "model.bin"))
	if err != nil {
		return false
	}
	// whisper-small is ~460 MB; anything under 350 MB is a partial download.
	return info.Size() >= 350*1024*1024
}
