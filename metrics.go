// metrics.go - Optional Prometheus instrumentation

/*
▄▄▄█████▓▓█████  ███▄ ▄███▓ ██▓███    ██████ ▓█████  ███▄    █   ██████ ▓█████
▓  ██▒ ▓▒▓█   ▀ ▓██▒▀█▀ ██▒▓██░  ██▒▒██    ▒ ▓█   ▀  ██ ▀█   █ ▒██    ▒ ▓█   ▀
▒ ▓██░ ▒░▒███   ▓██    ▓██░▓██░ ██▓▒░ ▓██▄   ▒███   ▓██  ▀█ ██▒░ ▓██▄   ▒███
░ ▓██▓ ░ ▒▓█  ▄ ▒██    ▒██ ▒██▄█▓▒ ▒  ▒   ██▒▒▓█  ▄ ▓██▒  ▐▌██▒  ▒   ██▒▒▓█  ▄
  ▒██▒ ░ ░▒████▒▒██▒   ░██▒▒██▒ ░  ░▒██████▒▒░▒████▒▒██░   ▓██░▒██████▒▒░▒████▒
  ▒ ░░   ░░ ▒░ ░░ ▒░   ░  ░▒▓▒░ ░  ░▒ ▒▓▒ ▒ ░░░ ▒░ ░░ ▒░   ▒ ▒ ▒ ▒▓▒ ▒ ░░░ ▒░ ░
    ░     ░ ░  ░░  ░      ░░▒ ░     ░ ░▒  ░ ░ ░ ░  ░░ ░░   ░ ▒░░ ░▒  ░ ░ ░ ░  ░
  ░         ░   ░      ░   ░░       ░  ░  ░     ░      ░   ░ ░ ░  ░  ░     ░
            ░  ░       ░                  ░     ░  ░         ░       ░     ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/TempSenseVR/TempSense-GUI
License: GPLv3 or later
*/

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	metricReadingsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempsense_readings_decoded_total",
		Help: "Sensor reports decoded successfully, by source.",
	}, []string{"source"})

	metricReadingsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempsense_readings_dropped_total",
		Help: "Sensor reports rejected by the decoder, by reason.",
	}, []string{"reason"})

	metricQueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempsense_queue_drops_total",
		Help: "Events shed from bounded queues, by queue.",
	}, []string{"queue"})

	metricFramesPresented = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempsense_frames_presented_total",
		Help: "Frames composed and handed to the display backend.",
	})

	metricLinkReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempsense_link_reconnects_total",
		Help: "Partner link reconnection attempts.",
	})

	metricStaleChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempsense_stale_channels",
		Help: "Channels whose freshest reading has aged past the threshold.",
	})
)

// MetricsServer exposes the Prometheus registry over HTTP when the operator
// asks for it. Everything above still counts when the server is off; scraping
// is the only optional part.
type MetricsServer struct {
	srv *http.Server
	log *zap.Logger
}

func StartMetricsServer(addr string, log *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m := &MetricsServer{
		srv: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log: log.Named("metrics"),
	}
	go func() {
		m.log.Info("serving", zap.String("addr", addr))
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Warn("server stopped", zap.Error(err))
		}
	}()
	return m
}

func (m *MetricsServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.srv.Shutdown(ctx)
}
