package domain

// Immutable geographic coordinates (longitude, latitude).
type Coordinates struct {
	Lon float64
	Lat float64
}

// Return coordinates as [lon, lat] for external API compatibility.
func (c Coordinates) CoordsToList() []float64 { return []float64{c.Lon, c.Lat} }

// Reports whether both components are zero. A (0,0) pair is treated as
// "not geocoded yet" rather than a real position in the Gulf of Guinea.
func (c Coordinates) IsZero() bool { return c.Lon == 0 && c.Lat == 0 }
