package sensor_simulator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

// ====== Ranges of the simulated readings ======
const (
	minTemperature = 0 // °C
	maxTemperature = 100
	minHumidity    = 0 // %
	maxHumidity    = 100
	minPressure    = 1000 // mbar
	maxPressure    = 1050
	minLuminosity  = 100 // lux
	maxLuminosity  = 9999
)

// SupplyReader reports the current supply voltage of the board.
type SupplyReader interface {
	Voltage() float32
}

// FixedSupply is a SupplyReader for boards without a supply ADC wired up.
type FixedSupply float32

func (f FixedSupply) Voltage() float32 { return float32(f) }

// DataGenerator produces one SensorSnapshot per call. Readings other than the battery
// are simulated; a board with real sensors swaps this type out behind the same Produce contract.
type DataGenerator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	supply     SupplyReader
	thresholds Thresholds
}

// NewDataGenerator builds a generator; seed 0 seeds from the clock.
func NewDataGenerator(supply SupplyReader, th Thresholds, seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if supply == nil {
		supply = FixedSupply(th.Max)
	}
	return &DataGenerator{
		rnd:        rand.New(rand.NewSource(seed)),
		supply:     supply,
		thresholds: th,
	}
}

// Produce samples the board once. It never blocks on I/O.
func (g *DataGenerator) Produce(board entities.BoardID) entities.SensorSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return entities.SensorSnapshot{
		BoardID:     board,
		Battery:     BatteryPercentage(g.supply.Voltage(), g.thresholds),
		Temperature: uint8(g.between(minTemperature, maxTemperature)),
		Humidity:    uint8(g.between(minHumidity, maxHumidity)),
		Pressure:    uint16(g.between(minPressure, maxPressure)),
		Luminosity:  uint16(g.between(minLuminosity, maxLuminosity)),
	}
}

// between returns a value in [lo, hi].
func (g *DataGenerator) between(lo, hi int) int {
	return lo + g.rnd.Intn(hi-lo+1)
}
