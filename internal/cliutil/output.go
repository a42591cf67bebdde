package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// HandleOutput writes data to the command's output, rendered with the
// --template flag when set, otherwise encoded per the --format flag.
func HandleOutput(cmd *cobra.Command, data any) error {
	templateFlag, _ := cmd.Flags().GetString("template")
	formatFlag, _ := cmd.Flags().GetString("format")

	if templateFlag != "" {
		return executeTemplate(cmd.OutOrStdout(), templateFlag, data)
	}

	output, err := encode(formatFlag, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}

func executeTemplate(w io.Writer, text string, data any) error {
	tmpl, err := template.New("output").Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func encode(format string, data any) ([]byte, error) {
	switch format {
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		return out, nil
	case "", "json":
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
