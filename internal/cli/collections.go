package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/collector/pkg/collection"
)

type fieldInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Multiple bool   `json:"multiple,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

type subcollectionInfo struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Default string      `json:"default"`
	Image   string      `json:"image,omitempty"`
	Fields  []fieldInfo `json:"fields"`
}

type collectionInfo struct {
	collection.Metadata
	Subcollections []subcollectionInfo `json:"subcollections"`
}

func newCollectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "Describe the discovered collection and its subcollections",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *collection.Manager) error {
				info := collectionInfo{Metadata: m.Metadata(), Subcollections: []subcollectionInfo{}}
				for _, c := range m.Collections() {
					info.Subcollections = append(info.Subcollections, describe(c))
				}
				return a.writeJSON(cmd, info)
			})
		},
	}
}

func describe(c *collection.Collection) subcollectionInfo {
	s := c.Schema()
	info := subcollectionInfo{ID: c.ID(), Name: c.Name(), Default: s.Default, Image: c.Image()}
	for _, id := range s.Order {
		f := s.Fields[id]
		fi := fieldInfo{ID: id, Name: f.Name(), Type: f.PrettyType(), Multiple: f.IsMultivalue()}
		if f.IsRef() {
			fi.Ref = f.RefCollection + "." + f.RefField
		}
		info.Fields = append(info.Fields, fi)
	}
	return info
}
