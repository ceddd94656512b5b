package standardize

import "github.com/shopspring/decimal"

// Canonical units: temperature in Celsius, pressure in millibars, wind
// speed in metres per second. Conversions are exact decimal arithmetic
// so round-trips stay within one unit of the target precision.

var (
	ratioFPerC  = decimal.New(9, 0).Div(decimal.New(5, 0))
	offsetF     = decimal.New(32, 0)
	mbPerInHg   = decimal.RequireFromString("33.8639")
	msPerMph    = decimal.RequireFromString("0.44704")
	msPerKmh    = decimal.New(1, 0).Div(decimal.RequireFromString("3.6"))
	knotsPerMs  = decimal.RequireFromString("1.943844")
)

func FahrenheitToCelsius(f decimal.Decimal) decimal.Decimal {
	return f.Sub(offsetF).Div(ratioFPerC)
}

func CelsiusToFahrenheit(c decimal.Decimal) decimal.Decimal {
	return c.Mul(ratioFPerC).Add(offsetF)
}

func InHgToMillibar(in decimal.Decimal) decimal.Decimal {
	return in.Mul(mbPerInHg)
}

func MillibarToInHg(mb decimal.Decimal) decimal.Decimal {
	return mb.Div(mbPerInHg)
}

func MphToMetersPerSecond(mph decimal.Decimal) decimal.Decimal {
	return mph.Mul(msPerMph)
}

func MetersPerSecondToMph(ms decimal.Decimal) decimal.Decimal {
	return ms.Div(msPerMph)
}

func KmhToMetersPerSecond(kmh decimal.Decimal) decimal.Decimal {
	return kmh.Mul(msPerKmh)
}

func MetersPerSecondToKmh(ms decimal.Decimal) decimal.Decimal {
	return ms.Div(msPerKmh)
}

func MetersPerSecondToKnots(ms decimal.Decimal) decimal.Decimal {
	return ms.Mul(knotsPerMs)
}
