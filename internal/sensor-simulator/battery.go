package sensor_simulator

import "strings"

// Thresholds are the supply voltages mapped to 0% and 100% battery.
type Thresholds struct {
	Min float32
	Max float32
}

// Presets per chip family: Max is the typical supply voltage.
var (
	ESP8266Thresholds = Thresholds{Min: 2.58, Max: 3.3}
	ESP32Thresholds   = Thresholds{Min: 2.3, Max: 3.3}
)

// ThresholdsFor resolves a chip family name; unknown names fall back to ESP8266.
func ThresholdsFor(chip string) Thresholds {
	switch strings.ToLower(strings.TrimSpace(chip)) {
	case "esp32":
		return ESP32Thresholds
	default:
		return ESP8266Thresholds
	}
}

// BatteryPercentage maps a supply voltage linearly onto 0..100, truncating.
func BatteryPercentage(vcc float32, th Thresholds) uint8 {
	switch {
	case vcc >= th.Max:
		return 100
	case vcc <= th.Min:
		return 0
	default:
		pct := 100 * (vcc - th.Min) / (th.Max - th.Min)
		return uint8(pct)
	}
}
