// Package input reads and writes simulation inputs as CSV files.
//
// Expected format:
//
//	timestamp,demand_kw,solar_kw,wind_kw
//	2024-01-01T00:00:00Z,120,0,35.5
//
// The timestamp column is optional. Column order does not matter and unknown
// columns are ignored.
package input

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/microgrid/core/model"
)

const (
	ColumnTimestamp = "timestamp"
	ColumnDemand    = "demand_kw"
	sourceSuffix    = "_kw"
)

// ReadCSV parses inputs from r. sources selects the generation columns in
// order; when empty every "<name>_kw" column other than demand is used, in
// header order.
func ReadCSV(r io.Reader, sources []string) (model.Inputs, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return model.Inputs{}, fmt.Errorf("reading CSV header: empty file")
	}
	if err != nil {
		return model.Inputs{}, fmt.Errorf("reading CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	demandCol, ok := cols[ColumnDemand]
	if !ok {
		return model.Inputs{}, fmt.Errorf("missing column %q", ColumnDemand)
	}
	if len(sources) == 0 {
		sources = discoverSources(header)
	}
	srcCols := make([]int, len(sources))
	for k, name := range sources {
		idx, ok := cols[strings.ToLower(name)+sourceSuffix]
		if !ok {
			return model.Inputs{}, fmt.Errorf("missing column %q for source %s", name+sourceSuffix, name)
		}
		srcCols[k] = idx
	}
	tsCol, hasTS := cols[ColumnTimestamp]

	in := model.Inputs{Sources: make([]model.SourceSeries, len(sources))}
	for k, name := range sources {
		in.Sources[k].Name = name
	}

	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.Inputs{}, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}
		v, err := parseValue(record[demandCol], lineNum, ColumnDemand)
		if err != nil {
			return model.Inputs{}, err
		}
		in.Demand = append(in.Demand, v)
		for k, idx := range srcCols {
			v, err := parseValue(record[idx], lineNum, header[idx])
			if err != nil {
				return model.Inputs{}, err
			}
			in.Sources[k].Values = append(in.Sources[k].Values, v)
		}
		if hasTS {
			ts, err := time.Parse(time.RFC3339, strings.TrimSpace(record[tsCol]))
			if err != nil {
				return model.Inputs{}, fmt.Errorf("line %d: timestamp: %w", lineNum, err)
			}
			in.Timestamps = append(in.Timestamps, ts)
		}
	}
	return in, nil
}

func discoverSources(header []string) []string {
	var out []string
	for _, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == ColumnDemand {
			continue
		}
		if src, ok := strings.CutSuffix(name, sourceSuffix); ok && src != "" {
			out = append(out, src)
		}
	}
	return out
}

// parseValue accepts any float; range checks are left to model validation so
// that errors carry the step index.
func parseValue(s string, line int, col string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN(), fmt.Errorf("line %d: %s: %w", line, col, err)
	}
	return v, nil
}

// WriteCSV writes in using the format accepted by ReadCSV.
func WriteCSV(w io.Writer, in model.Inputs) error {
	if err := in.Validate(); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(in.Sources)+2)
	if in.Timestamps != nil {
		header = append(header, ColumnTimestamp)
	}
	header = append(header, ColumnDemand)
	for _, s := range in.Sources {
		header = append(header, s.Name+sourceSuffix)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := range in.Demand {
		row := make([]string, 0, len(header))
		if in.Timestamps != nil {
			row = append(row, in.Timestamps[i].Format(time.RFC3339))
		}
		row = append(row, strconv.FormatFloat(in.Demand[i], 'f', -1, 64))
		for _, s := range in.Sources {
			row = append(row, strconv.FormatFloat(s.Values[i], 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
