package api

import (
	"net/http"

	"github.com/nerrad567/avrlink/internal/avr"
)

// maxZones is the zone count used when resolving a manufacturer's table.
const maxZones = 3

// handleListCommands returns the command table.
//
// Query parameters:
//   - manufacturer: "denon" or "marantz"; when set, only commands that brand
//     accepts are returned
//   - mode: connection mode the table is resolved for (default hybrid);
//     "http" drops the stream-only toggles
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	m := avr.Manufacturer(r.URL.Query().Get("manufacturer"))
	mode := avr.ConnectionMode(r.URL.Query().Get("mode"))

	var commands []avr.CommandSpec
	if m == "" && mode == "" {
		commands = avr.Catalog()
	} else {
		if m == "" {
			m = avr.Denon
		}
		if mode == "" {
			mode = avr.ModeHybrid
		}
		if !m.Valid() {
			writeBadRequest(w, "manufacturer must be denon or marantz")
			return
		}
		if !mode.Valid() {
			writeBadRequest(w, "mode must be http, telnet or hybrid")
			return
		}
		table := avr.NewTable(avr.DeviceIdentity{Manufacturer: m, Zones: maxZones, SupportsSoundMode: true}, mode)
		commands = table.Commands()
	}

	writeJSON(w, http.StatusOK, map[string]any{"commands": commands, "count": len(commands)})
}
