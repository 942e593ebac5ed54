package agent

import (
	"fmt"
	"log/slog"

	"github.com/SGIModel/MUSE-OS/internal/registry"
)

// Interaction mutates a set of agents between investment periods.
type Interaction func(agents []*Agent) error

var interactions = newInteractionRegistry()

func newInteractionRegistry() *registry.Registry[Interaction] {
	r := registry.New[Interaction]("interaction")
	r.Register(noInteraction, "none", "default")
	r.Register(newToRetro, "new_to_retro")
	return r
}

// RegisterInteraction adds an interaction under the given names.
func RegisterInteraction(fn Interaction, names ...string) {
	interactions.Register(fn, names...)
}

// InteractionNamed resolves an interaction; unknown names are configuration
// errors.
func InteractionNamed(name string) (Interaction, error) {
	return interactions.Lookup(name)
}

func noInteraction([]*Agent) error { return nil }

// newToRetro hands every new agent's assets to the retrofit agent with the
// same name and region. Retrofit agents then manage the installed base while
// new agents start each period empty.
func newToRetro(agents []*Agent) error {
	retro := make(map[[2]string]*Agent)
	for _, a := range agents {
		if a.Category == CategoryRetrofit {
			retro[[2]string{a.Name, a.Region}] = a
		}
	}
	for _, a := range agents {
		if a.Category == CategoryRetrofit || a.Assets.Empty() {
			continue
		}
		dst, ok := retro[[2]string{a.Name, a.Region}]
		if !ok {
			slog.Warn("new agent has no retrofit counterpart, keeping assets",
				"agent", a.Name, "region", a.Region)
			continue
		}
		if err := dst.Assets.Absorb(a.Assets); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
	}
	return nil
}
