// Command generate-schema writes the JSON schema of the vfsctl config file.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/spf13/pflag"
)

const schemaID = "https://github.com/marmos91/dittovfs/config.schema.json"

// buildSchema reflects config.Config using the YAML key names, which are the
// ones users write.
func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = schemaID
	schema.Title = "DittoVFS Configuration"
	schema.Description = "Configuration schema for the DittoVFS cache and vfsctl"
	return schema
}

func main() {
	output := pflag.StringP("output", "o", "config.schema.json", "Output file (- for stdout)")
	pflag.Parse()

	schemaJSON, err := json.MarshalIndent(buildSchema(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	if *output == "-" {
		fmt.Println(string(schemaJSON))
		return
	}
	if err := os.WriteFile(*output, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("JSON schema written to %s\n", *output)
}
