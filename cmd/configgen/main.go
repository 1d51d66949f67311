package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/afit-csce689/dronerepl/internal/config"
	"github.com/afit-csce689/dronerepl/internal/cryptobox"
)

const templateBody = `node_id = "%s"
bind_addr = "%s"
key_path = "%s"
time_mult = 1.0
verbosity = 1
control_addr = "%s"
cors_origins = ["http://localhost:3000"]

# [[peers]]
# id = "2"
# addr = "127.0.0.1:9002"
`

func main() {
	nodeID := flag.String("node-id", "1", "node id to embed in the generated template")
	bindAddr := flag.String("bind-addr", ":9999", "replication bind address")
	controlAddr := flag.String("control-addr", ":9980", "control surface bind address")
	output := flag.String("output", "node.toml", "output path for the config template")
	keyOutput := flag.String("key-output", "node.key", "output path for the generated shared key")
	validate := flag.String("validate", "", "path to an existing config file to validate instead of generating")
	force := flag.Bool("force", false, "overwrite existing files")
	flag.Parse()

	if *validate != "" {
		cfg, err := config.LoadNodeConfig(*validate)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := config.LoadKey(cfg.KeyPath); err != nil {
			log.Fatal(err)
		}
		log.Printf("validated config at %s (node_id=%s, %d peers)", *validate, cfg.NodeID, len(cfg.Peers))
		return
	}

	if !*force {
		if _, err := os.Stat(*output); err == nil {
			log.Fatalf("%s already exists; pass -force to overwrite", *output)
		}
		if _, err := os.Stat(*keyOutput); err == nil {
			log.Fatalf("%s already exists; pass -force to overwrite", *keyOutput)
		}
	}

	key := make([]byte, cryptobox.KeySize)
	if _, err := rand.Read(key); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*keyOutput, key, 0o600); err != nil {
		log.Fatal(err)
	}

	body := fmt.Sprintf(templateBody, *nodeID, *bindAddr, *keyOutput, *controlAddr)
	if err := os.WriteFile(*output, []byte(body), 0o644); err != nil {
		log.Fatal(err)
	}

	log.Printf("wrote config template to %s and shared key to %s", *output, *keyOutput)
}
