// Package metrics provides Prometheus metrics for the worker lifecycle and encoder progress.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Current encoder frames per second",
	})

	encoderSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Subsystem: "encoder",
		Name:      "processing_speed",
		Help:      "Encoder processing speed multiplier",
	})

	encoderBitrate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Subsystem: "encoder",
		Name:      "bitrate_kbps",
		Help:      "Current output bitrate in kbit/s",
	})

	encoderDroppedFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Subsystem: "encoder",
		Name:      "dropped_frames",
		Help:      "Frames dropped in the current encoder session",
	})

	encoderDuplicateFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Subsystem: "encoder",
		Name:      "duplicate_frames",
		Help:      "Frames duplicated in the current encoder session",
	})

	// Local copy of the last values for the health endpoint.
	encoderCache   EncoderMetrics
	encoderCacheOK bool
	encoderCacheMu sync.RWMutex
)

// EncoderMetrics holds the last reported encoder progress.
type EncoderMetrics struct {
	FPS             float64 `json:"fps"`
	Speed           float64 `json:"speed"`
	BitrateKbps     float64 `json:"bitrate_kbps"`
	DroppedFrames   float64 `json:"dropped_frames"`
	DuplicateFrames float64 `json:"duplicate_frames"`
}

// SetEncoderFPS sets the current FPS.
func SetEncoderFPS(fps float64) {
	encoderFPS.Set(fps)
	updateCache(func(m *EncoderMetrics) { m.FPS = fps })
}

// SetEncoderSpeed sets the processing speed.
func SetEncoderSpeed(speed float64) {
	encoderSpeed.Set(speed)
	updateCache(func(m *EncoderMetrics) { m.Speed = speed })
}

// SetEncoderBitrate sets the output bitrate in kbit/s.
func SetEncoderBitrate(kbps float64) {
	encoderBitrate.Set(kbps)
	updateCache(func(m *EncoderMetrics) { m.BitrateKbps = kbps })
}

// SetEncoderDroppedFrames sets the dropped frame count.
func SetEncoderDroppedFrames(count float64) {
	encoderDroppedFrames.Set(count)
	updateCache(func(m *EncoderMetrics) { m.DroppedFrames = count })
}

// SetEncoderDuplicateFrames sets the duplicated frame count.
func SetEncoderDuplicateFrames(count float64) {
	encoderDuplicateFrames.Set(count)
	updateCache(func(m *EncoderMetrics) { m.DuplicateFrames = count })
}

// ResetEncoderMetrics zeroes the encoder gauges, e.g. when a worker stops.
func ResetEncoderMetrics() {
	encoderFPS.Set(0)
	encoderSpeed.Set(0)
	encoderBitrate.Set(0)
	encoderDroppedFrames.Set(0)
	encoderDuplicateFrames.Set(0)

	encoderCacheMu.Lock()
	encoderCache = EncoderMetrics{}
	encoderCacheOK = false
	encoderCacheMu.Unlock()
}

// GetEncoderMetrics returns the last reported values, or nil when none were reported.
func GetEncoderMetrics() *EncoderMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	if !encoderCacheOK {
		return nil
	}
	dup := encoderCache
	return &dup
}

func updateCache(update func(*EncoderMetrics)) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	encoderCacheOK = true
	update(&encoderCache)
}
