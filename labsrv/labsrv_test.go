package labsrv

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knadh/koanf"

	"github.com/labalyzer/labctl/aout"
	"github.com/labalyzer/labctl/daqmx"
	"github.com/labalyzer/labctl/dio64"
	"github.com/labalyzer/labctl/sweep"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

type bench struct {
	rig   *Rig
	ao    *daqmx.Simulator
	dio   *dio64.Simulator
	src   *sweep.MockSource
	clock time.Time
	h     http.Handler
}

func newBench(t *testing.T) *bench {
	t.Helper()
	cal := filepath.Join(t.TempDir(), "calibration.csv")
	if err := os.WriteFile(cal, []byte("freq,pow\n100,-10\n200,-6\n300,-12\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := DefaultConfig()
	c.Mock = true
	c.Analog.Channels = []aout.Channel{
		{Name: "coil", Board: 1, Number: 0, Min: -10, Max: 10},
		{Name: "ch1", Board: 0, Number: 1, Min: -10, Max: 10},
		{Name: "ch0", Board: 0, Number: 0, Min: -5, Max: 5},
	}
	c.Sweep.Controller.CalibrationFile = cal

	b := &bench{
		ao:    daqmx.NewSimulator(quiet()),
		dio:   dio64.NewSimulator(quiet()),
		src:   sweep.NewMockSource(),
		clock: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	b.dio.Now = func() time.Time { return b.clock }
	rig, err := NewRigWith(c, b.ao, b.dio, b.src, quiet())
	if err != nil {
		t.Fatal(err)
	}
	b.rig = rig
	b.h = BuildMux(rig)
	return b
}

func (b *bench) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	b.h.ServeHTTP(w, r)
	return w
}

const timeframeCSV = "ch0,ch1,coil\n0,1,2\n1,2,3\n-1,0,1\n"

const patternJSON = `{"transitions":[{"tick":0,"ports":1},{"tick":2500,"ports":2}],"duration":10000}`

func TestEndpointsGraph(t *testing.T) {
	b := newBench(t)
	w := b.do(http.MethodGet, "/endpoints", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	graph := map[string][]string{}
	if err := json.NewDecoder(w.Body).Decode(&graph); err != nil {
		t.Fatal(err)
	}
	for node, route := range map[string]string{
		"/analog":  "POST /timeframe/csv",
		"/digital": "GET /progress",
		"/sweep":   "POST /output",
		"/rig":     "POST /play",
	} {
		found := false
		for _, r := range graph[node] {
			if r == route {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s to list %q, got %v", node, route, graph[node])
		}
	}
}

func TestPlayback(t *testing.T) {
	b := newBench(t)
	if w := b.do(http.MethodPost, "/analog/timeframe/csv", "text/csv", timeframeCSV); w.Code != http.StatusOK {
		t.Fatalf("timeframe upload: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := b.do(http.MethodPost, "/digital/pattern", "application/json", patternJSON); w.Code != http.StatusOK {
		t.Fatalf("pattern upload: expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := b.do(http.MethodGet, "/digital/checksum", "", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"uint"`) {
		t.Errorf("expected checksum, got %d %s", w.Code, w.Body.String())
	}
	if w := b.do(http.MethodPost, "/rig/play", "", ""); w.Code != http.StatusOK {
		t.Fatalf("play: expected 200, got %d %s", w.Code, w.Body.String())
	}

	b.clock = b.clock.Add(500 * time.Microsecond)
	w := b.do(http.MethodGet, "/digital/progress", "", "")
	var f struct {
		F64 float64 `json:"f64"`
	}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 < 0.49 || f.F64 > 0.51 {
		t.Errorf("expected progress near 0.5, got %g", f.F64)
	}
	if w := b.do(http.MethodPost, "/rig/stop", "", ""); w.Code != http.StatusOK {
		t.Errorf("stop: expected 200, got %d", w.Code)
	}
	if w := b.do(http.MethodGet, "/digital/progress", "", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for progress when stopped, got %d", w.Code)
	}
}

func TestPlayStopsAnalogWhenDigitalFails(t *testing.T) {
	b := newBench(t)
	b.do(http.MethodPost, "/analog/timeframe/csv", "text/csv", timeframeCSV)
	b.do(http.MethodPost, "/digital/pattern", "application/json", patternJSON)
	b.dio.Inject["DIO64_Out_Start"] = -17
	if w := b.do(http.MethodPost, "/rig/play", "", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	started, stopped := 0, 0
	for _, c := range b.ao.Calls() {
		if strings.HasPrefix(c, "DAQmxStartTask(") {
			started++
		}
		if strings.HasPrefix(c, "DAQmxStopTask(") {
			stopped++
		}
	}
	if started != 2 || stopped < 2 {
		t.Errorf("expected both boards armed before the card and stopped after it failed, got %d starts %d stops", started, stopped)
	}
	for _, tsk := range b.rig.Analog.c.Tasks() {
		if tsk.State() == aout.Running {
			t.Errorf("board %d left running", tsk.Board)
		}
	}
}

func TestAnalogErrorsMapToStatus(t *testing.T) {
	b := newBench(t)
	if w := b.do(http.MethodPost, "/analog/direct", "application/json", `{"ch0":0,"ch1":0,"coil":0}`); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for direct write in timeframe mode, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/analog/timeframe/csv", "text/csv", "ch0,ch1\n0,1\n"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing column, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/analog/mode", "application/json", `{"str":"direct"}`); w.Code != http.StatusOK {
		t.Fatalf("expected mode change, got %d %s", w.Code, w.Body.String())
	}
	if w := b.do(http.MethodGet, "/analog/mode", "", ""); !strings.Contains(w.Body.String(), `"direct"`) {
		t.Errorf("expected direct mode, got %s", w.Body.String())
	}
	if w := b.do(http.MethodPost, "/analog/direct", "application/json", `{"ch0":1,"ch1":2,"coil":3}`); w.Code != http.StatusOK {
		t.Errorf("expected direct write, got %d %s", w.Code, w.Body.String())
	}
	if w := b.do(http.MethodPost, "/analog/direct", "application/json", `{"ch0":9,"ch1":2,"coil":3}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range voltage, got %d", w.Code)
	}
}

func TestSweepRoutes(t *testing.T) {
	b := newBench(t)
	if w := b.do(http.MethodPost, "/sweep/output", "application/json", `{"hz":150e6,"calibrated":true}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if b.src.Power != -8 {
		t.Errorf("expected calibrated power -8, got %g", b.src.Power)
	}
	if w := b.do(http.MethodGet, "/sweep/frequency", "", ""); !strings.Contains(w.Body.String(), "150000000") {
		t.Errorf("expected ramp origin 150 MHz, got %s", w.Body.String())
	}
	if w := b.do(http.MethodPost, "/sweep/output", "application/json", `{"hz":350e6,"calibrated":true}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 out of range, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/sweep/frequency", "application/json", `{"f64":2e8}`); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if b.src.Start != 150e6 || b.src.Stop != 200e6 {
		t.Errorf("expected span 150-200 MHz, got %g-%g", b.src.Start, b.src.Stop)
	}
}

func TestLockPerNode(t *testing.T) {
	b := newBench(t)
	if w := b.do(http.MethodPost, "/analog/lock", "application/json", `{"bool":true}`); w.Code != http.StatusOK {
		t.Fatalf("expected lock, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/analog/start", "", ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}
	if w := b.do(http.MethodGet, "/analog/channels", "", ""); w.Code != http.StatusOK {
		t.Errorf("expected channels readable while locked, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/sweep/frequency", "application/json", `{"f64":2e8}`); w.Code != http.StatusOK {
		t.Errorf("expected other nodes unaffected, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/rig/play", "", ""); w.Code != http.StatusLocked {
		t.Errorf("expected play refused while analog is locked, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/rig/stop", "", ""); w.Code != http.StatusLocked {
		t.Errorf("expected stop refused while analog is locked, got %d", w.Code)
	}
	if w := b.do(http.MethodGet, "/rig/timeframe-length", "", ""); w.Code != http.StatusOK {
		t.Errorf("expected timeframe length readable, got %d", w.Code)
	}
}

func TestRigHonorsDigitalLock(t *testing.T) {
	b := newBench(t)
	if w := b.do(http.MethodPost, "/digital/lock", "application/json", `{"bool":true}`); w.Code != http.StatusOK {
		t.Fatalf("expected lock, got %d", w.Code)
	}
	if w := b.do(http.MethodPost, "/rig/play", "", ""); w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}
	for _, c := range b.dio.Calls() {
		if strings.HasPrefix(c, "DIO64_Out_Start") {
			t.Errorf("expected the card not started, got %s", c)
		}
	}
	for _, c := range b.ao.Calls() {
		if strings.HasPrefix(c, "DAQmxStartTask(") {
			t.Errorf("expected no board started, got %s", c)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
	c.Analog.Mode = "burst"
	c.Digital.PortMask = make([]uint16, 5)
	c.Sweep.Transport.Kind = "gpib"
	if err := c.Validate(); err == nil {
		t.Error("expected errors for bad mode, mask and transport")
	}
	c = DefaultConfig()
	c.Digital.TickDivisor = math.MaxUint32
	if err := c.Validate(); !errors.Is(err, dio64.ErrInvalidDivisor) {
		t.Errorf("expected ErrInvalidDivisor, got %v", err)
	}
}

func TestLoadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labsrv.yml")
	body := `addr: ":9000"
mock: true
analog:
  mode: direct
  channels:
    - name: coil
      board: 1
      number: 0
      min: -10
      max: 10
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadYaml(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Addr != ":9000" || !c.Mock || c.Analog.Mode != "direct" || len(c.Analog.Channels) != 1 {
		t.Errorf("unexpected config %+v", c)
	}
	if c.Analog.Output.TriggerSource != "PFI0" || c.Digital.TickDivisor != 3 {
		t.Errorf("expected defaults kept for missing keys, got %+v", c)
	}
}

func TestLoadConfigMergesFileOverDefaults(t *testing.T) {
	k := koanf.New(".")
	if err := LoadConfig(k, filepath.Join(t.TempDir(), "missing.yml")); err != nil {
		t.Fatalf("expected a missing file to be ignored, got %v", err)
	}
	path := filepath.Join(t.TempDir(), "labsrv.yml")
	if err := os.WriteFile(path, []byte("analog:\n  mode: direct\ndigital:\n  tickDivisor: 39\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	k = koanf.New(".")
	if err := LoadConfig(k, path); err != nil {
		t.Fatal(err)
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		t.Fatal(err)
	}
	if c.Analog.Mode != "direct" || c.Digital.TickDivisor != 39 {
		t.Errorf("expected file values, got mode %q divisor %d", c.Analog.Mode, c.Digital.TickDivisor)
	}
	if c.Addr != ":8000" || c.Analog.Output.TriggerSource != "PFI0" || c.Sweep.Controller.Dwell != time.Millisecond {
		t.Errorf("expected defaults for keys missing from the file, got %+v", c)
	}
}
