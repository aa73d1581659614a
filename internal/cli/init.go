package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/collector/pkg/collection"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// starterDescriptor is written by init --example.
type starterDescriptor struct {
	Name        string                   `yaml:"name"`
	Author      string                   `yaml:"author"`
	Description string                   `yaml:"description"`
	Persistence types.PersistenceConfig  `yaml:"persistence"`
	Schemas     map[string]starterSchema `yaml:"schemas"`
}

type starterSchema struct {
	Name   string                       `yaml:"name"`
	Order  []string                     `yaml:"order"`
	Fields map[string]types.FieldConfig `yaml:"fields"`
}

func newInitCmd(a *app) *cobra.Command {
	var (
		example string
		storage string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory",
		Long: "Create the configuration and data directories. With --example, write a\n" +
			"starter collection descriptor under collections/<name>.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := filepath.Join(a.dataDir, collection.CollectionsDir)
			if err := os.MkdirAll(root, 0o700); err != nil {
				return sysError(fmt.Errorf("create data directory: %w", err))
			}
			if example != "" {
				if err := writeStarter(filepath.Join(root, example), storage); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Collector initialized at %s\n", a.dataDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&example, "example", "", "write a starter collection with this folder name")
	cmd.Flags().StringVar(&storage, "storage", types.StoragePickle, "storage engine of the starter collection (pickle or sqlalchemy)")
	return cmd
}

// writeStarter writes a books collection descriptor into dir unless one
// exists already.
func writeStarter(dir, storage string) error {
	pc := types.PersistenceConfig{Storage: storage}
	if err := pc.Validate(); err != nil {
		return userError(err)
	}
	if _, ok := types.FindDescriptor(dir); ok {
		return nil
	}
	d := starterDescriptor{
		Name:        "Books",
		Author:      "collector",
		Description: "Books and their authors",
		Persistence: pc,
		Schemas: map[string]starterSchema{
			"books": {
				Name:  "Books",
				Order: []string{"title", "year", "cover", "authors"},
				Fields: map[string]types.FieldConfig{
					"title":   {Name: "Title"},
					"year":    {Name: "Year", Class: types.ClassInt},
					"cover":   {Name: "Cover", Class: types.ClassImage},
					"authors": {Name: "Authors", Class: types.ClassRef, Multiple: true, Params: map[string]any{"ref": "authors.name"}},
				},
			},
			"authors": {
				Name:   "Authors",
				Order:  []string{"name"},
				Fields: map[string]types.FieldConfig{"name": {Name: "Name"}},
			},
		},
	}
	data, err := yaml.Marshal(&d)
	if err != nil {
		return sysError(fmt.Errorf("marshal descriptor: %w", err))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return sysError(fmt.Errorf("create collection folder: %w", err))
	}
	if err := os.WriteFile(filepath.Join(dir, "collection.yaml"), data, 0o644); err != nil {
		return sysError(fmt.Errorf("write descriptor: %w", err))
	}
	return nil
}
