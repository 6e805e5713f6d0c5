// Command example prints the sun's current elevation and today's
// sunrise/sunset for a site; the planner's naive PV fallback zeroes
// slots whose elevation factor is 0.
package main

import (
	"fmt"
	"time"

	"github.com/cepro-home/energy-planner/sun"
)

func main() {
	lat, lon := 56.9496, 24.1052 // Riga

	now := time.Now()
	fmt.Printf("Elevation: %.2f deg (factor %.3f)\n",
		sun.ElevationDegrees(now, lat, lon),
		sun.ElevationFactor(now, lat, lon))

	sunrise, sunset := sun.SunriseSunset(now, lat, lon)
	fmt.Println("Sunrise:", sunrise)
	fmt.Println("Sunset:", sunset)
}
