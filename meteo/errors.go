package meteo

import "fmt"

// APIError is a non-200 response from the Locationforecast API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("met.no API error %d: %s", e.StatusCode, e.Message)
}
