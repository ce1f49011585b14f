package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/smazurov/relaycast/internal/logging"
)

// EnvPrefix is prepended to every env tag read by LoadConfig.
const EnvPrefix = "RELAYCAST_"

var durationType = reflect.TypeOf(time.Duration(0))

// option is one exported field of an options struct with its sources.
type option struct {
	value    reflect.Value
	flag     string
	tomlPath string
	envKey   string
}

func optionsOf(opts any) []option {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	out := make([]option, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		out = append(out, option{
			value:    v.Field(i),
			flag:     flagName(sf.Name),
			tomlPath: sf.Tag.Get("toml"),
			envKey:   sf.Tag.Get("env"),
		})
	}
	return out
}

// LoadConfig fills opts from the TOML file named by its Config field, then
// from RELAYCAST_-prefixed environment variables. A field whose flag was
// set on cmd keeps the command-line value. A missing file is not an error.
func LoadConfig(opts any, cmd *cobra.Command) error {
	fields := optionsOf(opts)
	if cmd != nil {
		flags := cmd.Flags()
		kept := fields[:0]
		for _, f := range fields {
			if fl := flags.Lookup(f.flag); fl == nil || !fl.Changed {
				kept = append(kept, f)
			}
		}
		fields = kept
	}

	doc, err := readTOML(configPath(opts))
	if err != nil {
		return err
	}
	for _, f := range fields {
		if raw := lookup(doc, f.tomlPath); raw != nil {
			assign(f.value, raw)
		}
	}

	applyEnv(fields, EnvPrefix)
	return nil
}

// LoadEnv fills opts from environment variables named prefix + the field's
// env tag. Empty variables are ignored.
func LoadEnv(opts any, prefix string) {
	applyEnv(optionsOf(opts), prefix)
}

func applyEnv(fields []option, prefix string) {
	for _, f := range fields {
		if f.envKey == "" {
			continue
		}
		if s := os.Getenv(prefix + f.envKey); s != "" {
			assignString(f.value, s)
		}
	}
}

func configPath(opts any) string {
	field := reflect.ValueOf(opts).Elem().FieldByName("Config")
	if !field.IsValid() || field.Kind() != reflect.String {
		return ""
	}
	return field.String()
}

// readTOML decodes path into a generic document. An unreadable or missing
// file yields a nil document.
func readTOML(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	return doc, nil
}

// flagName converts a field name to its kebab-case flag,
// "LoggingLevel" -> "logging-level".
func flagName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookup walks a dotted path ("worker.max_retries") through doc.
func lookup(doc map[string]any, path string) any {
	if path == "" {
		return nil
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return doc[head]
	}
	child, ok := doc[head].(map[string]any)
	if !ok {
		return nil
	}
	return lookup(child, rest)
}

// assign stores a decoded TOML value. Strings go through assignString so
// durations and numbers may be quoted. Mismatched types are ignored.
func assign(v reflect.Value, raw any) {
	if !v.CanSet() {
		return
	}
	if s, ok := raw.(string); ok {
		assignString(v, s)
		return
	}

	switch n := raw.(type) {
	case bool:
		if v.Kind() == reflect.Bool {
			v.SetBool(n)
		}
	case int64:
		switch {
		case v.Type() == durationType:
			// Bare numbers are ambiguous for durations.
		case v.Kind() == reflect.Int:
			v.SetInt(n)
		case v.Kind() == reflect.Float64:
			v.SetFloat(float64(n))
		}
	case float64:
		if v.Kind() == reflect.Float64 {
			v.SetFloat(n)
		}
	case []any:
		if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.String {
			return
		}
		items := make([]string, 0, len(n))
		for _, item := range n {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
		v.Set(reflect.ValueOf(items))
	}
}

// assignString parses s into v by v's type. Unparsable input leaves v alone.
// Slices take comma-separated values.
func assignString(v reflect.Value, s string) {
	if !v.CanSet() {
		return
	}
	if v.Type() == durationType {
		if d, err := time.ParseDuration(s); err == nil {
			v.SetInt(int64(d))
		}
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		if b, err := strconv.ParseBool(s); err == nil {
			v.SetBool(b)
		}
	case reflect.Int:
		if i, err := strconv.Atoi(s); err == nil {
			v.SetInt(int64(i))
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			v.SetFloat(f)
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		v.Set(reflect.ValueOf(parts))
	}
}

var errNoLogging = errors.New("no [logging] table")

// LoadLoggingConfig reads the [logging] table of a TOML file. level and
// format are global; every other key is a per-module level. Defaults are
// returned when the file or table is missing or invalid.
func LoadLoggingConfig(path string) logging.Config {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	table, err := loggingTable(path)
	if err != nil {
		return cfg
	}
	for key, raw := range table {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}
	return cfg
}

func loggingTable(path string) (map[string]any, error) {
	doc, err := readTOML(path)
	if err != nil {
		return nil, err
	}
	table, ok := lookup(doc, "logging").(map[string]any)
	if !ok {
		return nil, errNoLogging
	}
	return table, nil
}
