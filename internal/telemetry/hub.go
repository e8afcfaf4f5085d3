package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/netsdr/internal/dsp"
	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/protocol"
)

// Config holds the runtime settings exposed by the hub.
type Config struct {
	SampleBits   int `json:"sampleBits"`
	SpectrumSize int `json:"spectrumSize"`
	HistoryLimit int `json:"historyLimit"`
}

const (
	minSpectrumSize = 16
	maxSpectrumSize = 4096
	minHistoryLimit = 1
	maxHistoryLimit = 10_000

	// floorDBFS stands in for -Inf so that silence still encodes as JSON.
	floorDBFS = -200.0
)

// DefaultConfig matches a 16-bit stream of full 8 KiB datagrams.
func DefaultConfig() Config {
	return Config{
		SampleBits:   16,
		SpectrumSize: 1024,
		HistoryLimit: 500,
	}
}

func validateConfig(cfg Config, base Config) (Config, error) {
	if base.SampleBits == 0 || base.SpectrumSize == 0 || base.HistoryLimit == 0 {
		base = DefaultConfig()
	}
	if cfg.SampleBits == 0 {
		cfg.SampleBits = base.SampleBits
	}
	if cfg.SpectrumSize == 0 {
		cfg.SpectrumSize = base.SpectrumSize
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = base.HistoryLimit
	}

	if !protocol.ValidSampleWidth(cfg.SampleBits) {
		return Config{}, fmt.Errorf("sample bits must be 8, 16 or 32, got %d", cfg.SampleBits)
	}
	if cfg.SpectrumSize < minSpectrumSize || cfg.SpectrumSize > maxSpectrumSize {
		return Config{}, fmt.Errorf("spectrum size must be between %d and %d", minSpectrumSize, maxSpectrumSize)
	}
	if cfg.SpectrumSize&(cfg.SpectrumSize-1) != 0 {
		return Config{}, errors.New("spectrum size must be a power of two")
	}
	if cfg.HistoryLimit < minHistoryLimit || cfg.HistoryLimit > maxHistoryLimit {
		return Config{}, fmt.Errorf("history limit must be between %d and %d", minHistoryLimit, maxHistoryLimit)
	}
	return cfg, nil
}

// Sample is the per-frame summary kept in history and pushed to live clients.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint16    `json:"sequence"`
	Samples   int       `json:"samples"`
	Lost      uint16    `json:"lost"`
	PowerDBFS float64   `json:"powerDbfs"`
	PeakBin   int       `json:"peakBin"`
	PeakDBFS  float64   `json:"peakDbfs"`
}

// Stats aggregates everything the hub has seen since it was created.
type Stats struct {
	Since        time.Time `json:"since"`
	Frames       uint64    `json:"frames"`
	Samples      uint64    `json:"samples"`
	Lost         uint64    `json:"lost"`
	LastSequence uint16    `json:"lastSequence"`
	PowerDBFS    float64   `json:"powerDbfs"`
	Spectrum     []float64 `json:"spectrum"`
}

// Hub collects frame history and fans updates out to subscribers.
type Hub struct {
	logger logging.Logger
	dsp    *dsp.CachedDSP

	mu          sync.RWMutex
	config      Config
	history     []Sample
	stats       Stats
	subscribers map[chan Sample]struct{}
}

// NewHub builds a hub. Zero fields in cfg take their defaults; an invalid
// cfg falls back to DefaultConfig.
func NewHub(cfg Config, logger logging.Logger) *Hub {
	logger = logging.OrDefault(logger).With(logging.F("subsystem", "telemetry"))
	valid, err := validateConfig(cfg, DefaultConfig())
	if err != nil {
		logger.Warn("invalid telemetry config, using defaults", logging.F("error", err))
		valid = DefaultConfig()
	}
	return &Hub{
		logger:      logger,
		dsp:         dsp.NewCachedDSP(valid.SpectrumSize),
		config:      valid,
		stats:       Stats{Since: time.Now()},
		subscribers: make(map[chan Sample]struct{}),
	}
}

// Report implements Reporter.
func (h *Hub) Report(f Frame) {
	cfg := h.ConfigSnapshot()
	fullScale := dsp.FullScale(cfg.SampleBits)

	ts := f.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	sample := Sample{
		Timestamp: ts,
		Sequence:  f.Sequence,
		Samples:   len(f.Samples),
		Lost:      f.Lost,
		PowerDBFS: clampDBFS(dsp.PowerDBFS(f.Samples, fullScale)),
		PeakBin:   -1,
		PeakDBFS:  floorDBFS,
	}

	var spectrum []float64
	iq := dsp.ToIQ(f.Samples, fullScale)
	if len(iq) > cfg.SpectrumSize {
		iq = iq[:cfg.SpectrumSize]
	}
	if len(iq) > 0 {
		_, dbfs := h.dsp.FFTAndDBFS(iq)
		for i := range dbfs {
			dbfs[i] = clampDBFS(dbfs[i])
		}
		sample.PeakBin, sample.PeakDBFS = dsp.PeakBin(dbfs)
		spectrum = dbfs
	}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.config.HistoryLimit {
		h.history = h.history[len(h.history)-h.config.HistoryLimit:]
	}
	h.stats.Frames++
	h.stats.Samples += uint64(len(f.Samples))
	h.stats.Lost += uint64(f.Lost)
	h.stats.LastSequence = f.Sequence
	h.stats.PowerDBFS = sample.PowerDBFS
	if spectrum != nil {
		h.stats.Spectrum = spectrum
	}
	for ch := range h.subscribers {
		select {
		case ch <- sample:
		default:
		}
	}
	h.mu.Unlock()
}

func clampDBFS(v float64) float64 {
	if math.IsNaN(v) || v < floorDBFS {
		return floorDBFS
	}
	return v
}

// History returns a copy of the stored samples, oldest first.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Stats returns a copy of the running totals.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.stats
	s.Spectrum = append([]float64(nil), h.stats.Spectrum...)
	return s
}

// ConfigSnapshot returns the current configuration.
func (h *Hub) ConfigSnapshot() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// SetConfig validates and applies cfg. Zero fields keep their current value.
func (h *Hub) SetConfig(cfg Config) (Config, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	valid, err := validateConfig(cfg, h.config)
	if err != nil {
		return Config{}, err
	}
	h.config = valid
	if len(h.history) > valid.HistoryLimit {
		h.history = h.history[len(h.history)-valid.HistoryLimit:]
	}
	h.dsp.UpdateSize(valid.SpectrumSize)
	return valid, nil
}

// Subscribe registers a listener for live samples. Slow listeners miss
// samples rather than stalling Report.
func (h *Hub) Subscribe() (<-chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.Stats())
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.History())
}

func (h *Hub) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.ConfigSnapshot())
	case http.MethodPost:
		var incoming Config
		if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
			http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
			return
		}
		cfg, err := h.SetConfig(incoming)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeEvent(w http.ResponseWriter, sample Sample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// Replay history so a new client has something to draw.
	for _, sample := range h.History() {
		if err := writeEvent(w, sample); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case sample, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, sample); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
