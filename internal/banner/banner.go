// Package banner prints the startup banner.
package banner

import (
	"fmt"
	"io"
)

// Version is the capsule release reported at startup.
const Version = "0.4.0"

// Print writes the banner with the version and the default store to w.
func Print(w io.Writer, store string) {
	banner := `
   ______                      __
  / ____/___ _____  _______  __/ /__
 / /   / __ '/ __ \/ ___/ / / / / _ \
/ /___/ /_/ / /_/ (__  ) /_/ / /  __/
\____/\__,_/ .___/____/\__,_/_/\___/
          /_/  v%s - list-backed channels
`
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintf(w, "store: %s\n", store)
	fmt.Fprintln(w, "------------------------------------------------")
}
