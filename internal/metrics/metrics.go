// Package metrics registers the bridge's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clara_sessions_active",
		Help: "Number of live sessions",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clara_connections_active",
		Help: "Number of attached duplex connections",
	})

	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clara_pipeline_runs_total",
		Help: "Total pipeline runs by input flavour and outcome",
	}, []string{"flavour", "outcome"})

	SentenceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clara_sentence_latency_seconds",
		Help:    "Time from run start to each reply_chunk emission",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	ASRRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clara_asr_request_duration_seconds",
		Help:    "ASR transcription duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	TTSRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clara_tts_request_duration_seconds",
		Help:    "TTS synthesis duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"engine"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clara_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"transport", "status"})

	AmbientSegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clara_ambient_segments_total",
		Help: "Ambient segments by disposition (accepted, filtered, dropped_busy, triggered)",
	}, []string{"disposition"})

	ReplayedEnvelopesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clara_replayed_envelopes_total",
		Help: "Envelopes re-emitted on reconnect",
	})

	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clara_meet_workers_active",
		Help: "Number of running meeting workers",
	})

	WorkerJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clara_meet_worker_joins_total",
		Help: "Meeting join attempts by outcome",
	}, []string{"outcome"})
)
