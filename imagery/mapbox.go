package imagery

import (
	"context"
	"fmt"
	"net/url"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

const mapboxTileURL = "https://api.mapbox.com/v4/mapbox.satellite/%d/%d/%d.jpg"

// mapboxSecretKey is the field in the pipeline secret holding the token.
const mapboxSecretKey = "MAPBOX_TOKEN"

func (f *Fetcher) fetchMapbox(ctx context.Context, m *schema.TileJobMessage, deadlineEpoch float64) ([]byte, error) {
	token, err := f.credential(ctx, mapboxSecretKey)
	if err != nil {
		return nil, err
	}

	z, x, y := *m.Z, *m.X, *m.Y
	centerLat, centerLon := TileCenterLatLon(z, x, y)

	f.logger.Info("Fetching Mapbox tile", map[string]interface{}{
		"operation":  "mapbox_fetch",
		"tile_id":    m.TileID(),
		"center_lat": centerLat,
		"center_lon": centerLon,
	})

	u := fmt.Sprintf(mapboxTileURL, z, x, y) + "?access_token=" + url.QueryEscape(token)
	return f.get(ctx, schema.SourceMapbox, u, deadlineEpoch)
}
