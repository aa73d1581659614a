package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/collector/pkg/collection"
)

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <subcollection> <json|->",
		Short: "Create a record, or update one when the object carries an id",
		Example: `  collector save boardgames '{"title": "Azul", "year": 2017}'
  collector save boardgames '{"id": 3, "year": 2018}'`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readObject(cmd, args[1])
			if err != nil {
				return err
			}
			return a.withCollection(args[0], func(c *collection.Collection) error {
				rec, err := c.Save(data)
				if err != nil {
					return err
				}
				return a.writeJSON(cmd, rec)
			})
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var maps []string
	cmd := &cobra.Command{
		Use:   "add <subcollection> <json|->",
		Short: "Add foreign data, creating referenced records as needed",
		Long: `Add creates a record from data shaped by another source. --map renames
source keys to field ids; when any --map is given, unmapped keys are dropped.
Reference fields take the referenced field's value and reuse or create the
matching record.`,
		Example: `  collector add boardgames --map Name=title --map Designer=designer \
    '{"Name": "Azul", "Designer": "Michael Kiesling"}'`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := parseMapping(maps)
			if err != nil {
				return userError(err)
			}
			data, err := readObject(cmd, args[1])
			if err != nil {
				return err
			}
			return a.withManager(func(m *collection.Manager) error {
				rec, err := m.Add(args[0], data, mapping)
				if err != nil {
					return err
				}
				return a.writeJSON(cmd, rec)
			})
		},
	}
	cmd.Flags().StringArrayVar(&maps, "map", nil, "rename a source key (source=field)")
	return cmd
}

func parseMapping(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	mapping := make(map[string]string, len(pairs))
	for _, p := range pairs {
		from, to, ok := strings.Cut(p, "=")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid mapping %q (expected source=field)", p)
		}
		mapping[from] = to
	}
	return mapping, nil
}

func newCompleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "complete <subcollection> <id> <json|->",
		Short: "Fill the empty fields of a record",
		Args:  exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readObject(cmd, args[2])
			if err != nil {
				return err
			}
			return a.withManager(func(m *collection.Manager) error {
				rec, err := m.Complete(args[0], args[1], data, force)
				if err != nil {
					return err
				}
				return a.writeJSON(cmd, rec)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite non-empty fields")
	return cmd
}
