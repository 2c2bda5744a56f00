// Package location resolves the site coordinates used for every request.
package location

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kelvins/geocoder"
)

// ErrNoAPIKey is returned when an address lookup is attempted without a key.
var ErrNoAPIKey = errors.New("geocoder api key is not configured")

// Site is a resolved location.
type Site struct {
	Latitude  float64
	Longitude float64
}

// Geocoder turns a city and country into coordinates.
type Geocoder interface {
	Lookup(city, country string) (Site, error)
}

// GoogleGeocoder resolves addresses through the Google geocoding API.
type GoogleGeocoder struct {
	apiKey string
}

// the geocoder package keeps its key in a package variable
var geocoderMu sync.Mutex

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey}
}

func (g *GoogleGeocoder) Lookup(city, country string) (Site, error) {
	if g.apiKey == "" {
		return Site{}, ErrNoAPIKey
	}

	geocoderMu.Lock()
	defer geocoderMu.Unlock()

	geocoder.ApiKey = g.apiKey
	loc, err := geocoder.Geocoding(geocoder.Address{
		City:    city,
		Country: country,
	})
	if err != nil {
		return Site{}, fmt.Errorf("geocode %s,%s: %w", city, country, err)
	}
	return Site{Latitude: loc.Latitude, Longitude: loc.Longitude}, nil
}

// Resolve returns the geocoded site when a city is given, else the fallback.
func Resolve(g Geocoder, city, country string, fallback Site) (Site, error) {
	city = strings.TrimSpace(city)
	if city == "" || g == nil {
		return fallback, nil
	}
	return g.Lookup(city, strings.TrimSpace(country))
}
