// README: Per-class fare rates.
package pricing

type Rate struct {
	VehicleClass string
	BaseAmount   int64
	PerKmAmount  int64
	Currency     string
}
