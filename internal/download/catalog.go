package download

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownPlugin is returned for plugin names missing from the catalog
var ErrUnknownPlugin = errors.New("unknown plugin")

// Catalog maps plugin names to download URLs
type Catalog struct {
	plugins map[string]string
}

// NewCatalog builds a catalog from a name to URL map. Names are case-insensitive.
func NewCatalog(plugins map[string]string) *Catalog {
	c := &Catalog{plugins: make(map[string]string, len(plugins))}
	for name, url := range plugins {
		c.plugins[strings.ToLower(strings.TrimSpace(name))] = url
	}
	return c
}

// Names returns the plugin names in sorted order
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the normalized name and URL of a plugin
func (c *Catalog) Lookup(name string) (string, string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	url, ok := c.plugins[key]
	if !ok {
		return "", "", fmt.Errorf("%w: %s (available: %s)", ErrUnknownPlugin, name, strings.Join(c.Names(), ", "))
	}
	return key, url, nil
}
