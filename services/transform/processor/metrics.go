// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package processor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

var meter = otel.Meter("aleutian.transform")

// Metrics for transformation runs.
var (
	runDuration     metric.Float64Histogram
	runTotal        metric.Int64Counter
	recordsTotal    metric.Int64Counter
	synthesisRounds metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"transform_run_duration_seconds",
			metric.WithDescription("Duration of a full data processing run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"transform_run_total",
			metric.WithDescription("Total number of processing runs by terminal status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		recordsTotal, err = meter.Int64Counter(
			"transform_records_total",
			metric.WithDescription("Total number of records transformed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		synthesisRounds, err = meter.Int64Counter(
			"transform_synthesis_rounds_total",
			metric.WithDescription("Total number of program synthesis rounds"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRunMetrics records metrics for a finished processing run.
func recordRunMetrics(ctx context.Context, name string, status datatypes.ProcessingStatus, duration time.Duration, records int) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("config", name),
		attribute.String("status", string(status)),
	)
	runDuration.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
	recordsTotal.Add(ctx, int64(records), attrs)
}

// recordSynthesisRound counts one synthesis round for a config.
func recordSynthesisRound(ctx context.Context, name string) {
	if err := initMetrics(); err != nil {
		return
	}
	synthesisRounds.Add(ctx, 1, metric.WithAttributes(attribute.String("config", name)))
}
