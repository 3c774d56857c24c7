// Package timeframe provides an HTTP interface to synchronized analog and
// digital timeframe output
package timeframe

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strings"

	"github.com/labalyzer/labctl/aout"
	"github.com/labalyzer/labctl/dio64"
	"github.com/labalyzer/labctl/generichttp"
)

func init() {
	generichttp.RegisterStatus(aout.ErrVoltageRange, http.StatusBadRequest)
	generichttp.RegisterStatus(aout.ErrConfiguration, http.StatusConflict)
	generichttp.RegisterStatus(dio64.ErrNotConfigured, http.StatusConflict)
	generichttp.RegisterStatus(dio64.ErrNotRunning, http.StatusConflict)
	generichttp.RegisterStatus(dio64.ErrInvalidPattern, http.StatusBadRequest)
	generichttp.RegisterStatus(dio64.ErrInvalidPort, http.StatusBadRequest)
}

// Analog is a multi-board analog output
type Analog interface {
	SetMode(aout.Mode) error
	Mode() aout.Mode
	Channels() []aout.Channel
	DirectWrite(map[int][]float64) error
	WriteTimeframe(map[int]aout.Buffer) error
	Start() error
	Stop() error
}

// Digital is a pattern sequencer
type Digital interface {
	WritePattern([]uint16) error
	Start() error
	Stop() error
	Progress() (float64, error)
	ForceOutput(value uint16, port int) error
	Checksum() (uint16, bool)
}

// HTTPAnalog wraps an Analog in a route table
type HTTPAnalog struct {
	RouteTable generichttp.RouteTable
}

// NewHTTPAnalog returns the routes of an analog output
func NewHTTPAnalog(a Analog) HTTPAnalog {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/mode"}:           GetMode(a),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/mode"}:          SetMode(a),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/direct"}:        Direct(a),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/timeframe/csv"}: TimeframeCSV(a),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}:         Do(a.Start),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:          Do(a.Stop),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/channels"}:       Channels(a),
	}
	return HTTPAnalog{RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPAnalog) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPDigital wraps a Digital in a route table
type HTTPDigital struct {
	RouteTable generichttp.RouteTable
}

// NewHTTPDigital returns the routes of a digital sequencer
func NewHTTPDigital(d Digital) HTTPDigital {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/pattern"}:      Pattern(d),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}:        Do(d.Start),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}:         Do(d.Stop),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/progress"}:      generichttp.GetFloat(d.Progress),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/force-output"}: ForceOutput(d),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/checksum"}:      Checksum(d),
	}
	return HTTPDigital{RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPDigital) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Do returns a handler that calls fcn and replies 200 if it succeeds
func Do(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetMode returns the mode as {"str": "direct"|"timeframe"}
func GetMode(a Analog) http.HandlerFunc {
	return generichttp.GetString(func() (string, error) {
		return a.Mode().String(), nil
	})
}

// SetMode parses {"str": mode} and changes the mode of every board
func SetMode(a Analog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := generichttp.StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m, err := aout.ParseMode(s.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.SetMode(m); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Direct parses {"channel name": volts, ...} naming every channel and writes
// it immediately
func Direct(a Analog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vals := map[string]float64{}
		err := json.NewDecoder(r.Body).Decode(&vals)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rows, err := aout.RowByName(a.Channels(), vals)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.DirectWrite(rows); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// TimeframeCSV parses a CSV body whose header names the channels and writes
// it as the timeframe
func TimeframeCSV(a Analog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		bufs, err := aout.ReadCSV(r.Body, a.Channels())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.WriteTimeframe(bufs); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Channels returns the configured channels as a JSON array
func Channels(a Analog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, a.Channels())
	}
}

// Pattern uploads a pattern.  A JSON body is a dio64.Pattern; any other body
// is the raw card buffer as little-endian 16-bit words.
func Pattern(d Digital) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var (
			buf []uint16
			err error
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var p dio64.Pattern
			if err = json.NewDecoder(r.Body).Decode(&p); err == nil {
				buf, err = p.Encode()
			}
		} else {
			buf, err = dio64.ReadPattern(r.Body)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.WritePattern(buf); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type portValue struct {
	Port int `json:"port"`

	Value uint16 `json:"value"`
}

// ForceOutput parses {"port": 0-3, "value": word} and drives the port
func ForceOutput(d Digital) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input portValue
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := d.ForceOutput(input.Value, input.Port); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Checksum returns the CRC of the uploaded pattern as {"uint": crc}
func Checksum(d Digital) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		crc, ok := d.Checksum()
		if !ok {
			generichttp.Error(w, fmt.Errorf("%w: no pattern uploaded", dio64.ErrNotConfigured))
			return
		}
		hp := generichttp.HumanPayload{T: types.Uint16, Uint: uint64(crc)}
		hp.EncodeAndRespond(w, r)
	}
}
