/*
 *
 * Copyright 2025 the Ultimate Squash Game authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package metrics defines the sample model shared by the producer,
// the drain loop, and the storage sinks.
//
// Metric types and categories are small integer codes backed by a
// static dictionary. Producer and consumer share the same dictionary,
// so slots carry only fixed-width codes and never variable-length
// strings. Unknown names map to the reserved Unknown code instead of
// failing: recording is best-effort and must never error.
package metrics

// MetricType identifies what a sample measures.
type MetricType uint16

// Metric type codes. Code 0 is the reserved unknown bucket.
const (
	MetricUnknown MetricType = iota
	MetricFrameTime
	MetricFPS
	MetricMemoryUsed
	MetricUpdateTime
	MetricRenderTime
	MetricInputLatency
	MetricAudioTime
)

// Category attributes a sample to a game subsystem.
type Category uint16

// Category codes. Code 0 is the default bucket, code 1 the reserved
// unknown bucket.
const (
	CategoryDefault Category = iota
	CategoryUnknown
	CategoryGameplay
	CategoryRendering
	CategoryPhysics
	CategoryAudio
	CategoryUI
)

var metricNames = map[MetricType]string{
	MetricUnknown:      "unknown",
	MetricFrameTime:    "frame_time",
	MetricFPS:          "fps",
	MetricMemoryUsed:   "memory_used",
	MetricUpdateTime:   "update_time",
	MetricRenderTime:   "render_time",
	MetricInputLatency: "input_latency",
	MetricAudioTime:    "audio_time",
}

var metricCodes = map[string]MetricType{}

var categoryNames = map[Category]string{
	CategoryDefault:   "default",
	CategoryUnknown:   "unknown",
	CategoryGameplay:  "gameplay",
	CategoryRendering: "rendering",
	CategoryPhysics:   "physics",
	CategoryAudio:     "audio",
	CategoryUI:        "ui",
}

var categoryCodes = map[string]Category{}

func init() {
	for code, name := range metricNames {
		metricCodes[name] = code
	}
	for code, name := range categoryNames {
		categoryCodes[name] = code
	}
}

// String returns the dictionary name for the metric type, or "unknown"
// for codes outside the dictionary.
func (t MetricType) String() string {
	if name, ok := metricNames[t]; ok {
		return name
	}
	return metricNames[MetricUnknown]
}

// Known reports whether the code is in the dictionary.
func (t MetricType) Known() bool {
	_, ok := metricNames[t]
	return ok
}

// ParseMetricType maps a metric name to its code. Unknown names map to
// MetricUnknown; parsing never fails.
func ParseMetricType(name string) MetricType {
	if code, ok := metricCodes[name]; ok {
		return code
	}
	return MetricUnknown
}

// String returns the dictionary name for the category, or "unknown"
// for codes outside the dictionary.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[CategoryUnknown]
}

// Known reports whether the code is in the dictionary.
func (c Category) Known() bool {
	_, ok := categoryNames[c]
	return ok
}

// ParseCategory maps a category name to its code. Unknown names map to
// CategoryUnknown; parsing never fails.
func ParseCategory(name string) Category {
	if code, ok := categoryCodes[name]; ok {
		return code
	}
	return CategoryUnknown
}

// Normalize clamps codes outside the dictionary to their reserved
// unknown buckets so a bad caller cannot poison downstream grouping.
func Normalize(t MetricType, c Category) (MetricType, Category) {
	if !t.Known() {
		t = MetricUnknown
	}
	if !c.Known() {
		c = CategoryUnknown
	}
	return t, c
}
