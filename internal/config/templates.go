package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config in the given format.
func Template(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		return tomlTemplate, nil
	case "yaml", "yml":
		return yamlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config format: %s", format)
	}
}

func WriteTemplate(path, format string, overwrite bool) error {
	template, err := Template(format)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tomlTemplate = `name = "dbgwire"
mode = "attach"
target = "127.0.0.1:5005"

[transport]
connect_timeout = "5s"
handshake_timeout = "5s"
max_connect_attempts = 3

[events]
high_water = 10000
low_water = 100

[mirrors]
dispose_threshold = 50

[admin]
enabled = true
addr = "127.0.0.1:9400"
cors_origins = ["http://localhost:3000"]
`

const yamlTemplate = `name: dbgwire
mode: ssh
target: 127.0.0.1:5005
transport:
  connect_timeout: 5s
  handshake_timeout: 5s
ssh:
  host: bastion.internal
  user: debug
  key_path: ~/.ssh/id_ed25519
  known_hosts_path: ~/.ssh/known_hosts
events:
  high_water: 10000
  low_water: 100
admin:
  enabled: false
`
