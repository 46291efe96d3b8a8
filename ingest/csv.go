package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

// columns maps normalized header names to field positions.
type columns map[string]int

// Manifest is a parsed CSV manifest: the detected imagery source and
// the tile job messages it describes.
type Manifest struct {
	Source   schema.ImagerySource
	Messages []*schema.TileJobMessage
}

// ParseManifest reads a CSV manifest and builds the tile job messages
// for a run.
//
// The imagery source is detected from the header: lat/lon columns mean
// Google, z/x/y columns mean Mapbox. A manifest without a recognizable
// header falls back to the hint and positional columns (z,x,y[,region]
// for Mapbox; lat,lon[,zoom] for Google), treating the first row as
// data. Rows whose fields are all empty are skipped.
func ParseManifest(r io.Reader, runID string, source schema.SourceRef, hint schema.ImagerySource) (*Manifest, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("manifest is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}

	cols, detected := detectColumns(header)
	manifest := &Manifest{Source: detected}

	if detected == "" {
		if hint == "" {
			return nil, fmt.Errorf("manifest header %v is not recognizable and no source hint was given", header)
		}
		manifest.Source = hint
		cols = positionalColumns(hint)
		// The first row was data, not a header
		if msg, rowErr := buildMessage(header, cols, manifest.Source, runID, source); rowErr != nil {
			return nil, fmt.Errorf("row 1: %w", rowErr)
		} else if msg != nil {
			manifest.Messages = append(manifest.Messages, msg)
		}
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest row %d: %w", row+1, err)
		}
		row++

		msg, rowErr := buildMessage(record, cols, manifest.Source, runID, source)
		if rowErr != nil {
			return nil, fmt.Errorf("row %d: %w", row, rowErr)
		}
		if msg != nil {
			manifest.Messages = append(manifest.Messages, msg)
		}
	}

	return manifest, nil
}

// detectColumns normalizes the header and detects the imagery source.
// Returns an empty source when the header has neither coordinate set.
func detectColumns(header []string) (columns, schema.ImagerySource) {
	cols := columns{}
	for i, name := range header {
		cols[normalizeHeader(name)] = i
	}

	_, hasLat := cols["lat"]
	_, hasLon := cols["lon"]
	if hasLat && hasLon {
		return cols, schema.SourceGoogle
	}

	_, hasZ := cols["z"]
	_, hasX := cols["x"]
	_, hasY := cols["y"]
	if hasZ && hasX && hasY {
		return cols, schema.SourceMapbox
	}

	return nil, ""
}

func positionalColumns(hint schema.ImagerySource) columns {
	if hint == schema.SourceMapbox {
		return columns{"z": 0, "x": 1, "y": 2, "region": 3}
	}
	return columns{"lat": 0, "lon": 1, "zoom": 2}
}

// normalizeHeader lowercases a header cell and strips a UTF-8 BOM,
// which spreadsheet exports commonly prepend to the first column.
func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\uFEFF")
	return strings.ToLower(strings.TrimSpace(name))
}

// buildMessage converts one CSV record into a validated message.
// Returns (nil, nil) for rows whose fields are all empty.
func buildMessage(record []string, cols columns, src schema.ImagerySource, runID string, source schema.SourceRef) (*schema.TileJobMessage, error) {
	if isEmptyRow(record) {
		return nil, nil
	}

	msg := &schema.TileJobMessage{
		RunID:         runID,
		ImagerySource: src,
		Source:        source,
	}

	if src == schema.SourceMapbox {
		z, err := intField(record, cols, "z")
		if err != nil {
			return nil, err
		}
		x, err := intField(record, cols, "x")
		if err != nil {
			return nil, err
		}
		y, err := intField(record, cols, "y")
		if err != nil {
			return nil, err
		}
		msg.Z, msg.X, msg.Y = z, x, y
		msg.Region = stringField(record, cols, "region")
	} else {
		lat, err := floatField(record, cols, "lat")
		if err != nil {
			return nil, err
		}
		lon, err := floatField(record, cols, "lon")
		if err != nil {
			return nil, err
		}
		msg.Lat, msg.Lon = lat, lon
		zoom, err := optionalIntField(record, cols, "zoom")
		if err != nil {
			return nil, err
		}
		msg.Zoom = zoom
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func isEmptyRow(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func fieldValue(record []string, cols columns, name string) (string, bool) {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return "", false
	}
	value := strings.TrimSpace(record[idx])
	return value, value != ""
}

func stringField(record []string, cols columns, name string) string {
	value, _ := fieldValue(record, cols, name)
	return value
}

func intField(record []string, cols columns, name string) (*int, error) {
	value, ok := fieldValue(record, cols, name)
	if !ok {
		return nil, fmt.Errorf("missing %s", name)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, value)
	}
	return &n, nil
}

func optionalIntField(record []string, cols columns, name string) (*int, error) {
	value, ok := fieldValue(record, cols, name)
	if !ok {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, value)
	}
	return &n, nil
}

func floatField(record []string, cols columns, name string) (*float64, error) {
	value, ok := fieldValue(record, cols, name)
	if !ok {
		return nil, fmt.Errorf("missing %s", name)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, value)
	}
	return &f, nil
}
