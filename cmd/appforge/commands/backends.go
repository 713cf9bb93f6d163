package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/appforge/appforge/internal/stack"
)

// BackendsCmd implements the 'backends' command: introspection over the
// registered stacks without running anything.
type BackendsCmd struct {
	JSON bool `help:"Print backend descriptors as JSON"`
}

func (b *BackendsCmd) Run(_ *Global, _ *CLI) error {
	descriptors := stack.DefaultRegistry().Descriptors()
	if b.JSON {
		return json.NewEncoder(os.Stdout).Encode(descriptors)
	}
	for _, d := range descriptors {
		fmt.Printf("%s\t%s\n", d.ID, d.Description)
		fmt.Printf("  generators: %s\n", strings.Join(d.Generators, ", "))
		if len(d.Hooks) > 0 {
			fmt.Printf("  hooks: %s\n", strings.Join(d.Hooks, ", "))
		}
		if d.Deprecated != nil {
			fmt.Printf("  deprecated since %s, removal %s: %s\n",
				d.Deprecated.Since, d.Deprecated.Removal, d.Deprecated.MigrationHint)
		}
	}
	return nil
}
