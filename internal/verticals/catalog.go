// ABOUTME: Embedded catalog of the business-domain verticals queries can be scoped to.
// ABOUTME: Parsed once from the bundled TOML file at first use.

package verticals

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

//go:embed verticals.toml
var catalogTOML []byte

// Vertical is one business-domain configuration context.
type Vertical struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

type catalogFile struct {
	Verticals []Vertical `toml:"vertical"`
}

var (
	loadOnce sync.Once
	loaded   []Vertical
	loadErr  error
)

// All returns the catalog in file order.
func All() ([]Vertical, error) {
	loadOnce.Do(func() {
		var file catalogFile
		if err := toml.Unmarshal(catalogTOML, &file); err != nil {
			loadErr = fmt.Errorf("parsing vertical catalog: %w", err)
			return
		}
		loaded = file.Verticals
	})
	return loaded, loadErr
}

// ByID looks a vertical up by its id. The second return is false for ids
// outside the catalog; callers treat that as advisory, not an error — the
// service accepts any vertical id it knows about.
func ByID(id string) (Vertical, bool) {
	all, err := All()
	if err != nil {
		return Vertical{}, false
	}
	for _, v := range all {
		if v.ID == id {
			return v, true
		}
	}
	return Vertical{}, false
}
