package storage

import (
	"fmt"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

// MapboxTileKey builds the deterministic object key for a Mapbox tile.
func MapboxTileKey(runID string, z, x, y int, ext string) string {
	return fmt.Sprintf("runs/%s/tiles/z=%d/x=%d/y=%d.%s", runID, z, x, y, ext)
}

// GoogleCoordKey builds the deterministic object key for a Google
// coordinate image. Latitude and longitude use the canonical six-decimal
// form so the key matches the tile identity.
func GoogleCoordKey(runID string, lat, lon float64, zoom int, ext string) string {
	return fmt.Sprintf("runs/%s/coords/lat=%s/lon=%s/z=%d.%s",
		runID, schema.FormatCoord(lat), schema.FormatCoord(lon), zoom, ext)
}

// KeyForMessage returns the object key and content type for a message's
// imagery. Two workers processing the same tile write the same key.
func KeyForMessage(m *schema.TileJobMessage) (key, contentType string) {
	if m.ImagerySource == schema.SourceMapbox {
		return MapboxTileKey(m.RunID, *m.Z, *m.X, *m.Y, "jpg"), "image/jpeg"
	}
	return GoogleCoordKey(m.RunID, *m.Lat, *m.Lon, m.EffectiveZoom(), "png"), "image/png"
}

// S3URL builds an HTTPS URL for an object.
func S3URL(bucket, key, region string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
