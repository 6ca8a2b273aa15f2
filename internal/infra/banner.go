package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner with backend-specific warnings.
func PrintBanner(w io.Writer, cfg *Config) {
	backend := strings.ToUpper(cfg.Store.Backend)

	color := ColorGreen
	desc := "DURABLE STORE"
	switch cfg.Store.Backend {
	case BackendMemory:
		color = ColorYellow
		desc = "IN-PROCESS (NOT DURABLE)"
	case BackendRedis:
		color = ColorCyan
		desc = "SHARED REDIS"
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#               📦 Inventory Reservation Engine           #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)
	fmt.Fprintf(w, "%s#   STORE:   %-44s #%s\n", color, backend, ColorReset)
	fmt.Fprintf(w, "%s#   TYPE:    %-44s #%s\n", color, desc, ColorReset)
	fmt.Fprintf(w, "%s#   TTL:     %-44s #%s\n", color, cfg.ReservationTTL().String(), ColorReset)
	fmt.Fprintf(w, "%s#   VERSION: %-44s #%s\n", color, cfg.App.Version, ColorReset)
	fmt.Fprintf(w, "%s#                                                         #%s\n", color, ColorReset)

	if cfg.Store.Backend == BackendMemory {
		fmt.Fprintf(w, "%s#   ⚠️  STOCK AND HOLDS ARE LOST ON EXIT                   #%s\n", ColorRed, ColorReset)
		fmt.Fprintf(w, "%s#   DO NOT RUN MORE THAN ONE REPLICA                      #%s\n", ColorRed, ColorReset)
	}

	fmt.Fprintf(w, "%s###########################################################%s\n", color, ColorReset)
	fmt.Fprintln(w)
}
