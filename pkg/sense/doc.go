// Package sense defines the sensor-facing data model shared across the
// pipeline: camera frames with the derived features the acquisition gate
// scores (luminance histogram, down-sampled luma grid), voice-activity audio
// segments, and the source interfaces the capture adapters implement.
//
// Feature derivation is pure Go over stdlib image decoding so the scoring
// path never depends on OpenCV; camera adapters that use gocv live in their
// own package and hand over encoded JPEG bytes only.
package sense
