package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/austindbirch/outboundiq/internal/logging"
	"github.com/austindbirch/outboundiq/internal/metrics"
)

// nsqStats is the subset of nsqd's /stats?format=json document we read.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

type backlogMonitor struct {
	statsURL string
	topic    string
	channel  string
	client   *http.Client
	logger   *logging.Logger
}

func newBacklogMonitor(nsqdHTTP, topic, channel string, logger *logging.Logger) *backlogMonitor {
	return &backlogMonitor{
		statsURL: fmt.Sprintf("http://%s/stats?format=json&topic=%s", nsqdHTTP, topic),
		topic:    topic,
		channel:  channel,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

func (b *backlogMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.update(ctx); err != nil {
				b.logger.Plain().WithError(err).Warn("Failed to update NSQ backlog")
			}
		}
	}
}

// update reads nsqd stats once and refreshes the backlog gauges.
func (b *backlogMonitor) update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("get NSQ stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get NSQ stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode NSQ stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if topic.TopicName != b.topic {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.ChannelName == b.channel {
				metrics.UpdateQueueBacklog(float64(ch.Depth))
			}
			metrics.UpdateNSQChannel(topic.TopicName, ch.ChannelName, float64(ch.Depth), float64(ch.InFlightCount))
		}
	}
	return nil
}

// nsqdHTTPAddr maps the nsqd TCP address to its HTTP address. Only the
// default port pair 4150/4151 is translated.
func nsqdHTTPAddr(tcpAddr string) string {
	host, port, err := net.SplitHostPort(tcpAddr)
	if err != nil {
		return tcpAddr
	}
	if port == "4150" {
		port = "4151"
	}
	return net.JoinHostPort(host, port)
}
