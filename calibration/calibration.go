/*Package calibration holds frequency to power calibration curves for swept
sources and answers power-at-frequency queries by linear interpolation.

Tables are stored in MHz, the unit they are measured and written in.  Queries
are made in Hz.  The conversion factor is HzPerMHz.

A table is loaded from CSV text with one header row followed by rows of
frequency_MHz,power_dBm in ascending frequency:

	freq,pow
	100,-10
	200,-6
	300,-12
*/
package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// HzPerMHz converts table frequencies to query frequencies
const HzPerMHz = 1e6

// ErrOutOfRange is returned for a query outside of the span of the table
var ErrOutOfRange = errors.New("frequency outside of calibration table")

// LoadError is generated when a calibration table cannot be loaded
type LoadError struct {
	// Source names the resource that failed to load
	Source string

	// Line is the 1-based line of the CSV text at fault, or 0
	Line int

	Err error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("loading calibration %s: line %d: %v", e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("loading calibration %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Point is one row of a calibration table
type Point struct {
	// MHz is the frequency of the point, in MHz
	MHz float64

	// Dbm is the output power that produces the calibrated level at MHz
	Dbm float64
}

// Table is an immutable calibration curve, ascending in frequency
type Table struct {
	pts []Point
}

// New creates a table from points.  Points must be non-empty, finite and
// strictly ascending in frequency.
func New(pts []Point) (*Table, error) {
	if len(pts) == 0 {
		return nil, errors.New("calibration table has no points")
	}
	for i, p := range pts {
		if !finite(p.MHz) || !finite(p.Dbm) {
			return nil, fmt.Errorf("point %d (%g MHz, %g dBm) is not finite", i, p.MHz, p.Dbm)
		}
	}
	for i := 1; i < len(pts); i++ {
		if !(pts[i].MHz > pts[i-1].MHz) {
			return nil, fmt.Errorf("frequency %g MHz does not ascend from %g MHz", pts[i].MHz, pts[i-1].MHz)
		}
	}
	cpy := make([]Point, len(pts))
	copy(cpy, pts)
	return &Table{pts: cpy}, nil
}

// Load reads a table from CSV text.  name is used in error messages.
func Load(r io.Reader, name string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true
	var pts []Point
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &LoadError{Source: name, Err: err}
		}
		if line == 1 {
			continue // header
		}
		f, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, &LoadError{Source: name, Line: line, Err: err}
		}
		p, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, &LoadError{Source: name, Line: line, Err: err}
		}
		if !finite(f) || !finite(p) {
			return nil, &LoadError{Source: name, Line: line, Err: fmt.Errorf("%q,%q is not a finite point", record[0], record[1])}
		}
		pts = append(pts, Point{MHz: f, Dbm: p})
	}
	if line == 0 {
		return nil, &LoadError{Source: name, Err: errors.New("missing header")}
	}
	t, err := New(pts)
	if err != nil {
		return nil, &LoadError{Source: name, Err: err}
	}
	return t, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// LoadFile reads a table from a CSV file on disk
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()
	return Load(f, path)
}

// Points returns a copy of the points of the table
func (t *Table) Points() []Point {
	out := make([]Point, len(t.pts))
	copy(out, t.pts)
	return out
}

// Span returns the lowest and highest frequency of the table, in Hz
func (t *Table) Span() (lo, hi float64) {
	return t.pts[0].MHz * HzPerMHz, t.pts[len(t.pts)-1].MHz * HzPerMHz
}

// PowerAt returns the calibrated power for a frequency in Hz.  Exact matches
// return the power of their row; other frequencies interpolate linearly
// between the neighboring rows.
func (t *Table) PowerAt(hz float64) (float64, error) {
	q := hz / HzPerMHz
	for i, p := range t.pts {
		if p.MHz == q {
			return p.Dbm, nil
		}
		if p.MHz > q {
			if i == 0 {
				return 0, fmt.Errorf("%w: %g Hz is below %g MHz", ErrOutOfRange, hz, p.MHz)
			}
			prev := t.pts[i-1]
			return prev.Dbm + (p.Dbm-prev.Dbm)/(p.MHz-prev.MHz)*(q-prev.MHz), nil
		}
	}
	return 0, fmt.Errorf("%w: %g Hz is above %g MHz", ErrOutOfRange, hz, t.pts[len(t.pts)-1].MHz)
}
