// Package dlq aggregates dead-lettered hotel events into operator alerts.
package dlq

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/streams"
)

const (
	defaultPollInterval = 30 * time.Second
	maxSampleMessages   = 3
)

// Alert is one aggregated notification covering a batch of dead letters.
type Alert struct {
	Stream     string
	Total      int
	Groups     []AlertGroup
	WindowFrom time.Time
	WindowTo   time.Time
}

// AlertGroup counts dead letters sharing an error code and provider.
type AlertGroup struct {
	ErrorCode      string
	ProviderSource string
	Count          int
	SampleHotelIDs []string
	SampleMessages []string
}

// Summary renders the alert as a single human-readable block.
func (a Alert) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d dead letter(s) on %s between %s and %s\n",
		a.Total, a.Stream,
		a.WindowFrom.Format(time.RFC3339), a.WindowTo.Format(time.RFC3339))
	for _, g := range a.Groups {
		fmt.Fprintf(&b, "  [%s/%s] count=%d hotels=%s",
			g.ErrorCode, g.ProviderSource, g.Count, strings.Join(g.SampleHotelIDs, ","))
		if len(g.SampleMessages) > 0 {
			fmt.Fprintf(&b, " sample=%q", g.SampleMessages[0])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Notifier delivers an aggregated alert to operators.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is the default
// sink when no external channel is configured.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a logger-backed notifier.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the alert at warn level.
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.log.Warn("dead letter alert",
		logger.String("stream", alert.Stream),
		logger.Int("total", alert.Total),
		logger.Int("groups", len(alert.Groups)),
		logger.String("summary", alert.Summary()))
	return nil
}

// AlerterConfig holds configuration options.
type AlerterConfig struct {
	PollInterval time.Duration
}

// Alerter drains dead-letter streams on a timer, aggregates entries by
// error code and provider, and notifies once per batch. Entries are
// acknowledged only after the notification is delivered.
type Alerter struct {
	consumers []*streams.Consumer
	notifier  Notifier
	log       logger.Logger

	pollInterval time.Duration
	now          func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewAlerter creates an alerter over the given dead-letter consumers.
func NewAlerter(consumers []*streams.Consumer, notifier Notifier, cfg AlerterConfig, log logger.Logger) *Alerter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Alerter{
		consumers:    consumers,
		notifier:     notifier,
		log:          log,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the polling loop.
func (a *Alerter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(ctx)

	a.log.Info("dead letter alerter started",
		logger.Duration("poll_interval", a.pollInterval),
		logger.Int("streams", len(a.consumers)))
}

// Stop gracefully stops the alerter. The alerter can be started again
// afterwards.
func (a *Alerter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	close(a.stopChan)
	a.wg.Wait()

	a.mu.Lock()
	a.started = false
	a.stopChan = make(chan struct{})
	a.mu.Unlock()

	a.log.Info("dead letter alerter stopped")
}

// IsRunning returns whether the alerter is currently running.
func (a *Alerter) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *Alerter) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	a.ProcessOnce(ctx)

	for {
		select {
		case <-ticker.C:
			a.ProcessOnce(ctx)
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessOnce drains one batch from every stream and sends at most one
// alert per stream.
func (a *Alerter) ProcessOnce(ctx context.Context) {
	for _, consumer := range a.consumers {
		if err := a.processStream(ctx, consumer); err != nil {
			a.log.Error("dead letter aggregation failed",
				logger.String("stream", consumer.Stream()),
				logger.Error(err))
		}
	}
}

func (a *Alerter) processStream(ctx context.Context, consumer *streams.Consumer) error {
	deliveries, err := consumer.ReadDeadLetters(ctx)
	if err != nil {
		return fmt.Errorf("read dead letters: %w", err)
	}
	if len(deliveries) == 0 {
		return nil
	}

	letters := make([]models.DeadLetter, 0, len(deliveries))
	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		letters = append(letters, d.Letter)
		ids = append(ids, d.ID)
	}

	alert := Aggregate(consumer.Stream(), letters, a.now())
	if err := a.notifier.Notify(ctx, alert); err != nil {
		// Leave the batch pending so the next tick retries it.
		return fmt.Errorf("notify: %w", err)
	}

	if err := consumer.Ack(ctx, ids...); err != nil {
		return fmt.Errorf("ack %d entries: %w", len(ids), err)
	}

	a.log.Info("dead letter batch alerted",
		logger.String("stream", consumer.Stream()),
		logger.Int("count", len(letters)))
	return nil
}

// Aggregate groups dead letters by error code and provider source.
func Aggregate(stream string, letters []models.DeadLetter, now time.Time) Alert {
	type key struct {
		code     string
		provider string
	}

	groups := make(map[key]*AlertGroup)
	windowFrom := now
	for _, l := range letters {
		k := key{code: l.ErrorCode, provider: l.ProviderSource}
		g, ok := groups[k]
		if !ok {
			g = &AlertGroup{ErrorCode: l.ErrorCode, ProviderSource: l.ProviderSource}
			groups[k] = g
		}
		g.Count++
		if len(g.SampleHotelIDs) < maxSampleMessages {
			g.SampleHotelIDs = append(g.SampleHotelIDs, l.HotelID)
		}
		if l.ErrorMessage != "" && len(g.SampleMessages) < maxSampleMessages {
			g.SampleMessages = append(g.SampleMessages, l.ErrorMessage)
		}
		if ts, err := time.Parse(time.RFC3339, l.FetchedAt); err == nil && ts.Before(windowFrom) {
			windowFrom = ts
		}
	}

	out := make([]AlertGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].ErrorCode != out[j].ErrorCode {
			return out[i].ErrorCode < out[j].ErrorCode
		}
		return out[i].ProviderSource < out[j].ProviderSource
	})

	return Alert{
		Stream:     stream,
		Total:      len(letters),
		Groups:     out,
		WindowFrom: windowFrom,
		WindowTo:   now,
	}
}
