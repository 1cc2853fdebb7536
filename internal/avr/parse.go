package avr

import (
	"slices"
	"strconv"
	"strings"
)

// UpdateKind identifies the state field an Update writes.
type UpdateKind int

// Update kinds.
const (
	UpdatePower UpdateKind = iota + 1
	UpdateVolume
	UpdateMaxVolume
	UpdateMute
	UpdateInput
	UpdateSoundMode
	UpdateTitle
	UpdateArtist
	UpdateAlbum
	UpdateImageURL
	UpdateZonePower
	UpdateZoneVolume
	UpdateZoneMute
	UpdateZoneInput
	UpdateEcoMode
	UpdateDimmer
	UpdateSleep
	UpdateMultEQ
)

// Update is one field write decoded from a protocol line or a poll.
type Update struct {
	Kind   UpdateKind
	Zone   int
	Power  Power
	Number float64
	Flag   bool
	Text   string
}

// ParseEvent decodes one protocol line into state updates. Lines that carry
// no tracked state return nil.
func ParseEvent(line string) []Update {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(line, "PW"):
		return parsePower(line[2:], PowerStandby)
	case strings.HasPrefix(line, "ZM"):
		return parsePower(line[2:], PowerOff)
	case strings.HasPrefix(line, "MVMAX"):
		v, ok := parseVolume(strings.TrimSpace(line[5:]))
		if !ok {
			return nil
		}
		return []Update{{Kind: UpdateMaxVolume, Number: v}}
	case strings.HasPrefix(line, "MV"):
		v, ok := parseVolume(line[2:])
		if !ok {
			return nil
		}
		return []Update{{Kind: UpdateVolume, Number: v}}
	case line == "MUON" || line == "MUOFF":
		return []Update{{Kind: UpdateMute, Flag: line == "MUON"}}
	case strings.HasPrefix(line, "SI"):
		return textUpdate(UpdateInput, line[2:])
	case strings.HasPrefix(line, "MS"):
		return textUpdate(UpdateSoundMode, line[2:])
	case strings.HasPrefix(line, "Z2"):
		return parseZone(2, line[2:])
	case strings.HasPrefix(line, "Z3"):
		return parseZone(3, line[2:])
	case strings.HasPrefix(line, "SLP"):
		return parseSleep(line[3:])
	case strings.HasPrefix(line, "ECO"):
		return textUpdate(UpdateEcoMode, strings.ToLower(line[3:]))
	case strings.HasPrefix(line, "DIM "):
		return parseDimmer(line[4:])
	case strings.HasPrefix(line, "PSMULTEQ:"):
		return textUpdate(UpdateMultEQ, line[len("PSMULTEQ:"):])
	case strings.HasPrefix(line, "NSE"):
		return parseNowPlaying(line[3:])
	}
	return nil
}

func parsePower(v string, offState Power) []Update {
	switch v {
	case "ON":
		return []Update{{Kind: UpdatePower, Power: PowerOn}}
	case "STANDBY":
		return []Update{{Kind: UpdatePower, Power: PowerStandby}}
	case "OFF":
		return []Update{{Kind: UpdatePower, Power: offState}}
	}
	return nil
}

func textUpdate(kind UpdateKind, v string) []Update {
	v = strings.TrimSpace(v)
	if v == "" || v == "?" {
		return nil
	}
	return []Update{{Kind: kind, Text: v}}
}

func parseZone(zone int, v string) []Update {
	switch v {
	case "ON":
		return []Update{{Kind: UpdateZonePower, Zone: zone, Power: PowerOn}}
	case "OFF":
		return []Update{{Kind: UpdateZonePower, Zone: zone, Power: PowerOff}}
	case "MUON", "MUOFF":
		return []Update{{Kind: UpdateZoneMute, Zone: zone, Flag: v == "MUON"}}
	}
	if vol, ok := parseVolume(v); ok {
		return []Update{{Kind: UpdateZoneVolume, Zone: zone, Number: vol}}
	}
	if slices.Contains(sources, v) {
		return []Update{{Kind: UpdateZoneInput, Zone: zone, Text: v}}
	}
	return nil
}

func parseSleep(v string) []Update {
	if v == "OFF" {
		return []Update{{Kind: UpdateSleep, Number: 0}}
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil
	}
	return []Update{{Kind: UpdateSleep, Number: float64(n)}}
}

var dimmerNames = map[string]string{
	"BRI": "bright",
	"DIM": "dim",
	"DAR": "dark",
	"OFF": "off",
}

func parseDimmer(v string) []Update {
	name, ok := dimmerNames[strings.TrimSpace(v)]
	if !ok {
		return nil
	}
	return []Update{{Kind: UpdateDimmer, Text: name}}
}

// parseNowPlaying handles NSE lines. Line 1 is the title, 2 the artist and
// 4 the album. Receivers prefix some lines with cursor control bytes.
func parseNowPlaying(v string) []Update {
	if v == "" {
		return nil
	}
	var kind UpdateKind
	switch v[0] {
	case '1':
		kind = UpdateTitle
	case '2':
		kind = UpdateArtist
	case '4':
		kind = UpdateAlbum
	default:
		return nil
	}
	text := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, v[1:])
	return []Update{{Kind: kind, Text: strings.TrimSpace(text)}}
}
