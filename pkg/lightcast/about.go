package lightcast

import (
	"reflect"
	"strings"

	"github.com/Sternrassler/tap-lightcast/pkg/config"
)

// Name is the plugin name.
const Name = "tap-lightcast"

// Version of the tap.
const Version = "0.1.0"

// About describes the tap for --about.
type About struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Description  string    `json:"description"`
	Vendor       string    `json:"vendor"`
	Capabilities []string  `json:"capabilities"`
	Streams      []string  `json:"streams"`
	Settings     []Setting `json:"settings"`
}

// Setting is one config key.
type Setting struct {
	Name     string `json:"name"`
	Env      string `json:"env"`
	Required bool   `json:"required"`
}

// Describe returns the plugin description.
func Describe() About {
	about := About{
		Name:         Name,
		Version:      Version,
		Description:  "Singer tap extracting the Lightcast open skills taxonomy",
		Vendor:       "Lightcast",
		Capabilities: []string{"catalog", "discover", "state", "about"},
	}
	for _, s := range Streams(0) {
		about.Streams = append(about.Streams, s.Name)
	}

	t := reflect.TypeOf(config.Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		about.Settings = append(about.Settings, Setting{
			Name:     name,
			Env:      config.EnvPrefix + strings.ToUpper(name),
			Required: strings.Contains(f.Tag.Get("validate"), "required") && !hasDefault(name),
		})
	}
	return about
}

// hasDefault reports whether an absent key falls back to a default.
func hasDefault(name string) bool {
	switch name {
	case "auth_url", "api_url", "user_agent":
		return true
	}
	return false
}
