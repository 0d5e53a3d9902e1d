package model

// Point is the canonical device-independent GPS sample produced by the wire
// parsers. Distance is filled in later by the race-task evaluator, never by a
// parser.
type Point struct {
	Imei      string  `json:"imei"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Alt       int     `json:"alt"`
	HSpeed    float64 `json:"h_speed"`
	VSpeed    float64 `json:"v_speed"`
	Timestamp int64   `json:"ts"`
	Distance  int32   `json:"distance"`
}
