package main

import (
	"flag"
	"log"

	"github.com/danmuck/dbgwire/internal/config"
)

func main() {
	format := flag.String("format", "toml", "config format: toml|yaml")
	output := flag.String("output", "dbgwire.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file instead")
	input := flag.String("input", "", "config path for validation (defaults to -output)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = *output
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (mode=%s)", cfg.Name, path, cfg.Mode)
		return
	}

	if err := config.WriteTemplate(*output, *format, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *format, *output)
}
