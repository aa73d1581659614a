package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// writeJSON prints v as JSON, indented when stdout is a terminal or --pretty
// is set.
func (a *app) writeJSON(cmd *cobra.Command, v any) error {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	if a.flags.pretty || isTerminal(out) {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return sysError(fmt.Errorf("encode output: %w", err))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// readObject decodes a JSON object from arg, or from stdin when arg is "-".
// Numbers keep their literal form so integers survive.
func readObject(cmd *cobra.Command, arg string) (map[string]any, error) {
	var data []byte
	if arg == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, sysError(fmt.Errorf("read stdin: %w", err))
		}
		data = b
	} else {
		data = []byte(arg)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, userError(fmt.Errorf("invalid JSON object: %w", err))
	}
	if obj == nil {
		return nil, userError(fmt.Errorf("invalid JSON object: null"))
	}
	return obj, nil
}
