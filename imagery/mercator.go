package imagery

import "math"

// TileBounds returns the WGS84 bounding box of a Web Mercator tile as
// (west, south, east, north).
func TileBounds(z, x, y int) (west, south, east, north float64) {
	n := math.Exp2(float64(z))
	west = float64(x)/n*360 - 180
	east = float64(x+1)/n*360 - 180
	north = tileLat(float64(y), n)
	south = tileLat(float64(y+1), n)
	return west, south, east, north
}

// TileCenterLatLon returns the center coordinate of a Web Mercator tile.
func TileCenterLatLon(z, x, y int) (lat, lon float64) {
	west, south, east, north := TileBounds(z, x, y)
	return (north + south) / 2, (west + east) / 2
}

func tileLat(y, n float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return rad * 180 / math.Pi
}
