package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func mapboxMessage(z, x, y int) *TileJobMessage {
	return &TileJobMessage{
		RunID:         "run_abc123def456",
		ImagerySource: SourceMapbox,
		Z:             intPtr(z),
		X:             intPtr(x),
		Y:             intPtr(y),
	}
}

func googleMessage(lat, lon float64) *TileJobMessage {
	return &TileJobMessage{
		RunID:         "run_abc123def456",
		ImagerySource: SourceGoogle,
		Lat:           floatPtr(lat),
		Lon:           floatPtr(lon),
	}
}

func TestTileIDMapbox(t *testing.T) {
	msg := mapboxMessage(14, 4823, 6160)
	assert.Equal(t, "14/4823/6160", msg.TileID())
}

func TestTileIDGoogle(t *testing.T) {
	msg := googleMessage(31.5204, 74.3587)
	assert.Equal(t, "coord:31.520400,74.358700,18", msg.TileID())
}

func TestTileIDGoogleExplicitZoom(t *testing.T) {
	msg := googleMessage(31.5204, 74.3587)
	msg.Zoom = intPtr(16)
	assert.Equal(t, "coord:31.520400,74.358700,16", msg.TileID())
}

func TestTileIDGoogleNegativeCoords(t *testing.T) {
	msg := googleMessage(-33.8688, -70.6693)
	assert.Equal(t, "coord:-33.868800,-70.669300,18", msg.TileID())
}

func TestFormatCoordRounding(t *testing.T) {
	// Correctly-rounded decimal conversion: two values that agree to six
	// decimals converge on one identity.
	assert.Equal(t, FormatCoord(31.52040000001), FormatCoord(31.52040000002))
	assert.Equal(t, "31.520400", FormatCoord(31.5204))
	assert.Equal(t, "0.000000", FormatCoord(0))
}

func TestEffectiveZoomDefault(t *testing.T) {
	msg := googleMessage(1, 1)
	assert.Equal(t, DefaultGoogleZoom, msg.EffectiveZoom())

	msg.Zoom = intPtr(12)
	assert.Equal(t, 12, msg.EffectiveZoom())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TileJobMessage)
		message *TileJobMessage
		wantErr bool
	}{
		{name: "valid mapbox", message: mapboxMessage(14, 100, 200)},
		{name: "valid google", message: googleMessage(31.5, 74.3)},
		{
			name:    "missing run_id",
			message: mapboxMessage(14, 100, 200),
			mutate:  func(m *TileJobMessage) { m.RunID = "" },
			wantErr: true,
		},
		{
			name:    "mapbox missing y",
			message: mapboxMessage(14, 100, 200),
			mutate:  func(m *TileJobMessage) { m.Y = nil },
			wantErr: true,
		},
		{
			name:    "mapbox z out of range",
			message: mapboxMessage(23, 100, 200),
			wantErr: true,
		},
		{
			name:    "mapbox negative x",
			message: mapboxMessage(14, -1, 200),
			wantErr: true,
		},
		{
			name:    "google missing lon",
			message: googleMessage(31.5, 74.3),
			mutate:  func(m *TileJobMessage) { m.Lon = nil },
			wantErr: true,
		},
		{
			name:    "google lat out of range",
			message: googleMessage(91, 74.3),
			wantErr: true,
		},
		{
			name:    "google lon out of range",
			message: googleMessage(31.5, 181),
			wantErr: true,
		},
		{
			name:    "google zoom out of range",
			message: googleMessage(31.5, 74.3),
			mutate:  func(m *TileJobMessage) { m.Zoom = intPtr(25) },
			wantErr: true,
		},
		{
			name:    "unknown source",
			message: mapboxMessage(14, 100, 200),
			mutate:  func(m *TileJobMessage) { m.ImagerySource = "bing" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate != nil {
				tt.mutate(tt.message)
			}
			err := tt.message.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, core.ErrInvalidMessage)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseTileJobMessage(t *testing.T) {
	body := `{"run_id":"run_abc","imagery_source":"mapbox","z":14,"x":4823,"y":6160,"source":{"bucket":"b","key":"k"}}`
	msg, err := ParseTileJobMessage([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "run_abc", msg.RunID)
	assert.Equal(t, "14/4823/6160", msg.TileID())
	assert.Equal(t, "b", msg.Source.Bucket)
}

func TestParseTileJobMessagePoison(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"run_id":"run_abc","imagery_source":"mapbox"}`,
		`{"imagery_source":"google","lat":1,"lon":2}`,
	}
	for _, body := range cases {
		_, err := ParseTileJobMessage([]byte(body))
		require.Error(t, err, body)
		assert.ErrorIs(t, err, core.ErrInvalidMessage, body)
	}
}

func TestRunItemTerminal(t *testing.T) {
	tests := []struct {
		name string
		item RunItem
		want bool
	}{
		{"zero total not terminal", RunItem{TotalTiles: 0, CompletedTiles: 5}, false},
		{"in progress", RunItem{TotalTiles: 10, CompletedTiles: 5, FailedTiles: 1}, false},
		{"all completed", RunItem{TotalTiles: 10, CompletedTiles: 10}, true},
		{"mixed terminal", RunItem{TotalTiles: 10, CompletedTiles: 7, FailedTiles: 3}, true},
		{"counters past total", RunItem{TotalTiles: 10, CompletedTiles: 11}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Terminal())
		})
	}
}
