package climate

// CelsiusToFahrenheit converts c and rounds to one decimal place.
func CelsiusToFahrenheit(c float64) float64 {
	return round(c*9/5+32, 1)
}

// FahrenheitToCelsius converts f without rounding.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// InchesToMM converts a precipitation depth.
func InchesToMM(in float64) float64 {
	return in * 25.4
}
