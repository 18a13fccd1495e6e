package models

// Quote is a point-in-time snapshot used to validate and seed a newly watched symbol.
type Quote struct {
	Current       float64 `json:"c"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	Timestamp     int64   `json:"t"`
}

// Valid reports whether the provider knows the symbol.
// The provider answers unknown symbols with an all-zero quote.
func (q Quote) Valid() bool {
	return !(q.Current == 0 && q.Timestamp == 0)
}
