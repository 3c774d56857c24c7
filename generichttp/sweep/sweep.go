// Package sweep provides an HTTP interface to a calibrated sweep controller
package sweep

import (
	"encoding/json"
	"net/http"

	"github.com/labalyzer/labctl/calibration"
	"github.com/labalyzer/labctl/generichttp"
	"github.com/labalyzer/labctl/sweep"
)

func init() {
	generichttp.RegisterStatus(sweep.ErrNotInitialized, http.StatusConflict)
	generichttp.RegisterStatus(calibration.ErrOutOfRange, http.StatusUnprocessableEntity)
}

// Controller is a sweep controller
type Controller interface {
	Initialize() error
	SetOutput(hz, dbm float64, useCalibration bool) error
	SetFrequency(hz float64) error
	CurrentStart() float64
}

// HTTPSweep wraps a Controller in a route table
type HTTPSweep struct {
	RouteTable generichttp.RouteTable
}

// NewHTTPSweep returns the routes of a sweep controller
func NewHTTPSweep(c Controller) HTTPSweep {
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/initialize"}: Initialize(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/output"}:     Output(c),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/frequency"}:  generichttp.SetFloat(c.SetFrequency),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/frequency"}: generichttp.GetFloat(func() (float64, error) {
			return c.CurrentStart(), nil
		}),
	}
	return HTTPSweep{RouteTable: rt}
}

// RT satisfies generichttp.HTTPer
func (h HTTPSweep) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Initialize resets the source and reloads the calibration
func Initialize(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Initialize(); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

type outputRequest struct {
	Hz float64 `json:"hz"`

	Dbm float64 `json:"dbm"`

	Calibrated bool `json:"calibrated"`
}

// Output parses {"hz": f, "dbm": p, "calibrated": bool} and programs the
// source.  dbm is ignored when calibrated is true.
func Output(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input outputRequest
		err := json.NewDecoder(r.Body).Decode(&input)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.SetOutput(input.Hz, input.Dbm, input.Calibrated); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
