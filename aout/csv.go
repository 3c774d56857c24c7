package aout

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV parses a timeframe from CSV text.  The header row names the
// channels, every following row is one sample of every named channel.  Every
// channel in chans must have a column; unknown columns are an error.  The
// result is keyed by board, with columns in the order of chans.
func ReadCSV(r io.Reader, chans []Channel) (map[int]Buffer, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: timeframe CSV is empty", ErrConfiguration)
	}
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(chans))
	for _, c := range chans {
		known[c.Name] = true
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if !known[name] {
			return nil, fmt.Errorf("%w: timeframe CSV column %q is not a configured channel", ErrConfiguration, name)
		}
		if _, dup := cols[name]; dup {
			return nil, fmt.Errorf("%w: timeframe CSV column %q appears twice", ErrConfiguration, name)
		}
		cols[name] = i
	}
	for _, c := range chans {
		if _, ok := cols[c.Name]; !ok {
			return nil, fmt.Errorf("%w: timeframe CSV has no column for channel %q", ErrConfiguration, c.Name)
		}
	}

	out := make(map[int]Buffer)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		values := make([]float64, len(record))
		for i, field := range record {
			values[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		rows := make(map[int][]float64)
		for _, c := range chans {
			rows[c.Board] = append(rows[c.Board], values[cols[c.Name]])
		}
		for b, row := range rows {
			out[b] = append(out[b], row)
		}
	}
	return out, nil
}
