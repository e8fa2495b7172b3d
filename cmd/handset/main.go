// handset bridges a telephone handset's hook switch to the Google Assistant.
//
// Lifting the handset starts a voice conversation through the handset's
// microphone and speaker; hanging up ends it.
//
// Usage:
//
//	handset run                       # Watch the hook switch and converse
//	handset run --pin GPIO24 -v       # Use another pin, debug logging
//	handset device show               # Show the registered device
//	handset device register           # Register a new device id
//	handset config set language_code de-DE
//
// Configuration, credentials and the device identity are stored in
// ~/.handset/
package main

import (
	"os"

	"github.com/haivivi/handset/cmd/handset/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
