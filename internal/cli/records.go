package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/collector/pkg/collection"
	"github.com/mesh-intelligence/collector/pkg/types"
)

// writeRecords prints records, resolving references when refs is set.
func (a *app) writeRecords(cmd *cobra.Command, c *collection.Collection, recs []*types.Record, refs bool) error {
	out := make([]*types.Record, 0, len(recs))
	for _, rec := range recs {
		if refs {
			resolved, err := c.LoadReferences(rec)
			if err != nil {
				return err
			}
			rec = resolved
		}
		out = append(out, rec)
	}
	return a.writeJSON(cmd, out)
}

func newGetCmd(a *app) *cobra.Command {
	var refs bool
	cmd := &cobra.Command{
		Use:   "get <subcollection> <id>",
		Short: "Get a record by id",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCollection(args[0], func(c *collection.Collection) error {
				rec, err := c.Get(args[1])
				if err != nil {
					return err
				}
				if refs {
					if rec, err = c.LoadReferences(rec); err != nil {
						return err
					}
				}
				return a.writeJSON(cmd, rec)
			})
		},
	}
	cmd.Flags().BoolVar(&refs, "refs", false, "replace references by the referenced values")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var (
		start, limit int
		refs         bool
	)
	cmd := &cobra.Command{
		Use:   "list <subcollection>",
		Short: "List records in insertion order",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if start < 0 || limit < 0 {
				return userError(fmt.Errorf("--start and --limit must not be negative"))
			}
			return a.withCollection(args[0], func(c *collection.Collection) error {
				recs, err := c.GetAll(start, limit)
				if err != nil {
					return err
				}
				return a.writeRecords(cmd, c, recs, refs)
			})
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "position of the first record")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for all)")
	cmd.Flags().BoolVar(&refs, "refs", false, "replace references by the referenced values")
	return cmd
}

func newLastCmd(a *app) *cobra.Command {
	var (
		count int
		refs  bool
	)
	cmd := &cobra.Command{
		Use:   "last <subcollection>",
		Short: "List the most recently created records",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCollection(args[0], func(c *collection.Collection) error {
				recs, err := c.GetLast(count)
				if err != nil {
					return err
				}
				return a.writeRecords(cmd, c, recs, refs)
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", collection.DefaultLastCount, "number of records")
	cmd.Flags().BoolVar(&refs, "refs", false, "replace references by the referenced values")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var refs bool
	cmd := &cobra.Command{
		Use:   "search <subcollection> <term>",
		Short: "Search the default field of a subcollection",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCollection(args[0], func(c *collection.Collection) error {
				recs, err := c.Query(args[1])
				if err != nil {
					return err
				}
				return a.writeRecords(cmd, c, recs, refs)
			})
		},
	}
	cmd.Flags().BoolVar(&refs, "refs", false, "replace references by the referenced values")
	return cmd
}

func newFilterCmd(a *app) *cobra.Command {
	var (
		where string
		refs  bool
	)
	cmd := &cobra.Command{
		Use:   "filter <subcollection> [field=value | field~value]...",
		Short: "List records matching every condition",
		Long: `Filter returns the records matching all conditions.

field=value matches equal values (any element of a multivalue field);
field~value matches case-insensitive substrings. --where accepts the JSON
filter form, for example '[{"equals": ["year", 2017]}]'.`,
		Args: minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preds, err := parsePredicates(args[1:], where)
			if err != nil {
				return userError(err)
			}
			return a.withCollection(args[0], func(c *collection.Collection) error {
				recs, err := c.Filter(preds)
				if err != nil {
					return err
				}
				return a.writeRecords(cmd, c, recs, refs)
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "JSON filter expression")
	cmd.Flags().BoolVar(&refs, "refs", false, "replace references by the referenced values")
	return cmd
}

// parsePredicates reads field=value and field~value arguments followed by
// an optional JSON expression.
func parsePredicates(exprs []string, where string) ([]types.Predicate, error) {
	var preds []types.Predicate
	for _, e := range exprs {
		i := strings.IndexAny(e, "=~")
		if i <= 0 {
			return nil, fmt.Errorf("invalid condition %q (expected field=value or field~value)", e)
		}
		field, value := e[:i], e[i+1:]
		if e[i] == '~' {
			preds = append(preds, types.Like(field, value))
		} else {
			preds = append(preds, types.Equals(field, value))
		}
	}
	if where != "" {
		parsed, err := types.ParseFilterJSON([]byte(where))
		if err != nil {
			return nil, err
		}
		preds = append(preds, parsed...)
	}
	return preds, nil
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <subcollection> <id>",
		Short: "Delete a record",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCollection(args[0], func(c *collection.Collection) error {
				if err := c.Delete(args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", args[0], args[1])
				return nil
			})
		},
	}
}
