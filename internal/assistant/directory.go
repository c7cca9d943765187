package assistant

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Office describes the authority responsible for a postal code
type Office struct {
	OfficeName string     `yaml:"officeName" json:"officeName"`
	Contact    string     `yaml:"contact" json:"contact"`
	City       string     `yaml:"city" json:"city"`
	Location   [2]float64 `yaml:"location" json:"location"` // lat, lng
}

// Directory maps 6-digit postal codes to offices
type Directory struct {
	entries map[string]Office
}

var builtinOffices = map[string]Office{
	"400001": {OfficeName: "Mumbai GPO", Contact: "022-22621671", City: "Mumbai", Location: [2]float64{18.9398, 72.8355}},
	"110001": {OfficeName: "New Delhi GPO", Contact: "011-23364111", City: "Delhi", Location: [2]float64{28.6328, 77.2197}},
	"560001": {OfficeName: "Bangalore GPO", Contact: "080-22866677", City: "Bangalore", Location: [2]float64{12.9839, 77.5929}},
	"600001": {OfficeName: "Chennai GPO", Contact: "044-25216424", City: "Chennai", Location: [2]float64{13.0900, 80.2866}},
	"500001": {OfficeName: "Hyderabad GPO", Contact: "040-24755460", City: "Hyderabad", Location: [2]float64{17.3850, 78.4740}},
	"700001": {OfficeName: "Kolkata GPO", Contact: "033-22437331", City: "Kolkata", Location: [2]float64{22.5726, 88.3498}},
	"411001": {OfficeName: "Pune GPO", Contact: "020-26129090", City: "Pune", Location: [2]float64{18.5204, 73.8567}},
}

// DefaultDirectory returns the built-in directory covering the major metros
func DefaultDirectory() *Directory {
	entries := make(map[string]Office, len(builtinOffices))
	for k, v := range builtinOffices {
		entries[k] = v
	}
	return &Directory{entries: entries}
}

// LoadDirectory reads a YAML file of the form
//
//	"400001":
//	  officeName: Mumbai GPO
//	  contact: 022-22621671
//	  city: Mumbai
//	  location: [18.9398, 72.8355]
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pincode directory: %w", err)
	}

	var entries map[string]Office
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse pincode directory: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("pincode directory %s is empty", path)
	}
	return &Directory{entries: entries}, nil
}

// Lookup returns the office for a postal code
func (d *Directory) Lookup(pincode string) (Office, bool) {
	o, ok := d.entries[pincode]
	return o, ok
}

// Len returns the number of known codes
func (d *Directory) Len() int {
	return len(d.entries)
}
