package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

var schemaCache struct {
	once sync.Once
	data []byte
	err  error
}

// JSONSchema returns the JSON Schema of the configuration file, keyed by
// the YAML field names. Durations are documented as strings such as "5s".
func JSONSchema() ([]byte, error) {
	schemaCache.once.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:              "yaml",
			AllowAdditionalProperties: false,
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				if t == reflect.TypeOf(time.Duration(0)) {
					return &jsonschema.Schema{Type: "string", Pattern: `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`}
				}
				return nil
			},
		}
		s := r.Reflect(&Config{})
		s.Title = "franz configuration"
		schemaCache.data, schemaCache.err = json.MarshalIndent(s, "", "  ")
	})
	return schemaCache.data, schemaCache.err
}
