package telemetry

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/netsdr/internal/logging"
)

func newTestHub(cfg Config) *Hub {
	return NewHub(cfg, logging.New(logging.Debug, logging.Text, io.Discard))
}

// toneFrame builds interleaved 16-bit IQ samples of a complex tone at bin.
func toneFrame(pairs, bin int, amplitude float64) []int32 {
	out := make([]int32, 2*pairs)
	for i := 0; i < pairs; i++ {
		phase := 2 * math.Pi * float64(bin) * float64(i) / float64(pairs)
		out[2*i] = int32(amplitude * math.Cos(phase))
		out[2*i+1] = int32(amplitude * math.Sin(phase))
	}
	return out
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero takes defaults", cfg: Config{}},
		{name: "8 bit", cfg: Config{SampleBits: 8}},
		{name: "bad width", cfg: Config{SampleBits: 12}, wantErr: true},
		{name: "not power of two", cfg: Config{SpectrumSize: 100}, wantErr: true},
		{name: "spectrum too large", cfg: Config{SpectrumSize: 8192}, wantErr: true},
		{name: "history too large", cfg: Config{HistoryLimit: 20_000}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := validateConfig(tc.cfg, DefaultConfig())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.SampleBits == 0 || got.SpectrumSize == 0 || got.HistoryLimit == 0 {
				t.Fatalf("defaults not applied: %+v", got)
			}
		})
	}
}

func TestHubReportComputesPowerAndSpectrum(t *testing.T) {
	hub := newTestHub(Config{SpectrumSize: 64})
	hub.Report(Frame{Sequence: 3, Samples: toneFrame(64, 5, 32767)})

	hist := hub.History()
	if len(hist) != 1 {
		t.Fatalf("history len = %d", len(hist))
	}
	s := hist[0]
	if s.Sequence != 3 || s.Samples != 128 {
		t.Fatalf("sample = %+v", s)
	}
	if math.Abs(s.PowerDBFS) > 0.1 {
		t.Fatalf("power = %.3f dBFS, want about 0", s.PowerDBFS)
	}
	if s.PeakBin != 32+5 {
		t.Fatalf("peak bin = %d, want %d", s.PeakBin, 37)
	}
	stats := hub.Stats()
	if stats.Frames != 1 || stats.Samples != 128 || len(stats.Spectrum) != 64 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHubSilenceEncodes(t *testing.T) {
	hub := newTestHub(Config{})
	hub.Report(Frame{Samples: make([]int32, 8)})
	if _, err := json.Marshal(hub.Stats()); err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	if got := hub.History()[0].PowerDBFS; got != floorDBFS {
		t.Fatalf("silence power = %v", got)
	}
}

func TestHubHistoryLimitAndLost(t *testing.T) {
	hub := newTestHub(Config{HistoryLimit: 2})
	for i := 0; i < 4; i++ {
		hub.Report(Frame{Sequence: uint16(i), Lost: 1, Samples: []int32{1, 1}})
	}
	hist := hub.History()
	if len(hist) != 2 || hist[0].Sequence != 2 || hist[1].Sequence != 3 {
		t.Fatalf("history = %+v", hist)
	}
	if stats := hub.Stats(); stats.Lost != 4 || stats.LastSequence != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHubSubscribe(t *testing.T) {
	hub := newTestHub(Config{})
	ch, cancel := hub.Subscribe()
	hub.Report(Frame{Sequence: 9, Samples: []int32{1, 2}})
	select {
	case s := <-ch:
		if s.Sequence != 9 {
			t.Fatalf("sequence = %d", s.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatal("no live sample")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}

func TestHandleStats(t *testing.T) {
	hub := newTestHub(Config{})
	hub.Report(Frame{Sequence: 1, Samples: []int32{100, -100}})

	rr := httptest.NewRecorder()
	hub.handleStats(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var stats Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Frames != 1 || stats.LastSequence != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	rr = httptest.NewRecorder()
	hub.handleStats(rr, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", rr.Code)
	}
}

func TestHandleConfig(t *testing.T) {
	hub := newTestHub(Config{})

	body := bytes.NewBufferString(`{"historyLimit": 5}`)
	rr := httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if cfg := hub.ConfigSnapshot(); cfg.HistoryLimit != 5 || cfg.SampleBits != 16 {
		t.Fatalf("config = %+v", cfg)
	}

	rr = httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{"sampleBits": 12}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad config status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	hub.handleConfig(rr, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", rr.Code)
	}
}

func TestStdoutReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Debug, logging.JSON, &buf))
	MultiReporter{r, nil}.Report(Frame{Sequence: 4, Lost: 2, Samples: []int32{1}})
	out := buf.String()
	for _, want := range []string{`"sequence":4`, `"lost":2`, `"subsystem":"telemetry"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log %q missing %s", out, want)
		}
	}
}
