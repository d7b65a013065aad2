/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package metrics registers the daemon's Prometheus collectors, per spec
// §6.5: live object counts by variant, overflow-drop counts, reconnect
// counts, and timer queue depth. The core never opens its own HTTP
// listener for this; it only registers collectors against a Registerer
// supplied by cmd/conserverd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/timer"
)

// Collectors bundles every gauge/counter the daemon exposes.
type Collectors struct {
	ObjectsByVariant *prometheus.GaugeVec
	OverflowDrops    *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	TimerQueueDepth  prometheus.Gauge
}

// New builds the collector set and registers it against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ObjectsByVariant: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "conserverd",
			Name:      "objects",
			Help:      "Number of live objects in the master list, by variant.",
		}, []string{"variant"}),
		OverflowDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conserverd",
			Name:      "overflow_drops_total",
			Help:      "Number of times a reader's ring buffer overflowed and bytes were dropped.",
		}, []string{"object"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conserverd",
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts made for a console object.",
		}, []string{"object"}),
		TimerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conserverd",
			Name:      "timer_queue_depth",
			Help:      "Number of armed timers currently in the timer wheel.",
		}),
	}
	reg.MustRegister(c.ObjectsByVariant, c.OverflowDrops, c.Reconnects, c.TimerQueueDepth)
	return c
}

// Sample refreshes the gauges from the current master list and timer
// wheel; call this once per event loop iteration, or on a slower ticker,
// since the underlying state already changes only once per iteration.
func (c *Collectors) Sample(master []*object.Object, w *timer.Wheel) {
	counts := map[string]float64{
		object.VariantSerial.String():  0,
		object.VariantTelnet.String():  0,
		object.VariantLogfile.String(): 0,
		object.VariantClient.String():  0,
	}
	for _, obj := range master {
		counts[obj.Variant.String()]++
	}
	for variant, n := range counts {
		c.ObjectsByVariant.WithLabelValues(variant).Set(n)
	}
	c.TimerQueueDepth.Set(float64(w.Len()))
}

// RecordOverflow bumps the overflow counter for a named object.
func (c *Collectors) RecordOverflow(objectName string) {
	c.OverflowDrops.WithLabelValues(objectName).Inc()
}

// RecordReconnect bumps the reconnect counter for a named object.
func (c *Collectors) RecordReconnect(objectName string) {
	c.Reconnects.WithLabelValues(objectName).Inc()
}
