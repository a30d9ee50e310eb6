package moex

// MarketTicker is one TQBR row of the ISS marketdata table.
type MarketTicker struct {
	Ticker    string
	LastPrice float64
	ChangePct float64 // LASTTOPREVPRICE, percent against previous close
	VolToday  float64 // units
	ValToday  float64 // оборот в рублях за день
}
