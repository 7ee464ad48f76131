package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/rebroadcastr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing rebroadcastr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

You can redirect this output to a file to create a configuration template:

  rebroadcastr config dump > config.yaml

Environment variables use the REBROADCASTR_ prefix and underscores for nesting.
Example: prebuffer.window -> REBROADCASTR_PREBUFFER_WINDOW`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

var (
	durationType = reflect.TypeFor[time.Duration]()
	byteSizeType = reflect.TypeFor[config.ByteSize]()
)

// toMap converts a struct to a map keyed by mapstructure tags, formatting
// durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	typ := val.Type()

	for i := range val.NumField() {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch {
		case field.Type() == durationType, field.Type() == byteSizeType:
			result[key] = fmt.Sprint(field.Interface())
		case field.Kind() == reflect.Struct:
			result[key] = toMap(field.Interface())
		case field.Kind() == reflect.Slice && field.Len() == 0:
			result[key] = []any{}
		default:
			result[key] = field.Interface()
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# rebroadcastr Configuration File")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# All values shown below are defaults.")
	fmt.Fprintln(out, "# Duration format: 500ms, 10s, 5m, 1h")
	fmt.Fprintln(out, "# Size format: 64MiB, 100MB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Cameras are configured as a list, for example:")
	fmt.Fprintln(out, "#   cameras:")
	fmt.Fprintln(out, "#     - id: front-door")
	fmt.Fprintln(out, "#       type: protect")
	fmt.Fprintln(out, "#       host: 192.168.1.1")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(yamlData))

	return nil
}
