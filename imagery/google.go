package imagery

import (
	"context"
	"net/url"
	"strconv"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

const googleStaticMapURL = "https://maps.googleapis.com/maps/api/staticmap"

// googleSecretKey is the field in the pipeline secret holding the key.
const googleSecretKey = "GOOGLE_MAPS_API_KEY"

func (f *Fetcher) fetchGoogle(ctx context.Context, m *schema.TileJobMessage, deadlineEpoch float64) ([]byte, error) {
	key, err := f.credential(ctx, googleSecretKey)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Fetching Google static map", map[string]interface{}{
		"operation": "google_fetch",
		"tile_id":   m.TileID(),
	})

	params := url.Values{}
	params.Set("center", schema.FormatCoord(*m.Lat)+","+schema.FormatCoord(*m.Lon))
	params.Set("zoom", strconv.Itoa(m.EffectiveZoom()))
	params.Set("size", "640x640")
	params.Set("scale", "2")
	params.Set("maptype", "satellite")
	params.Set("key", key)

	return f.get(ctx, schema.SourceGoogle, googleStaticMapURL+"?"+params.Encode(), deadlineEpoch)
}
