package avr

import "fmt"

// Input sources accepted by SI, Z2 and Z3.
var sources = []string{
	"PHONO", "CD", "TUNER", "DVD", "BD", "TV", "SAT/CBL", "MPLAY", "GAME",
	"GAME2", "HDRADIO", "NET", "PANDORA", "SIRIUSXM", "SPOTIFY", "LASTFM",
	"FLICKR", "IRADIO", "SERVER", "FAVORITES", "AUX1", "AUX2", "AUX3", "AUX4",
	"AUX5", "AUX6", "AUX7", "BT", "USB/IPOD", "USB", "IPD", "IRP", "FVP", "8K",
}

// Surround modes accepted by MS.
var soundModes = []string{
	"MOVIE", "MUSIC", "GAME", "DIRECT", "PURE DIRECT", "STEREO", "AUTO",
	"DOLBY DIGITAL", "DTS SURROUND", "AURO3D", "AURO2DSURR", "MCH STEREO",
	"WIDE SCREEN", "SUPER STADIUM", "ROCK ARENA", "JAZZ CLUB", "CLASSIC CONCERT",
	"MONO MOVIE", "MATRIX", "VIDEO GAME", "VIRTUAL", "NEURAL:X", "ALL ZONE STEREO",
}

var (
	volumeRule = NumberRule{Min: 0, Max: AbsoluteMaxVolume, Step: VolumeResolution, Format: FormatVolume}
	zoneVolume = NumberRule{Min: 0, Max: AbsoluteMaxVolume, Step: 1, Format: FormatTwoDigit}
	sleepRule  = NumberRule{Min: 1, Max: 120, Step: 1, Format: FormatThreeDigit}
)

func cmd(category, id, raw string) CommandSpec {
	return CommandSpec{ID: id, Raw: raw, Category: category, MaxRepeat: DefaultMaxRepeat}
}

func mediaCommands() []CommandSpec {
	m := CategoryMedia
	specs := []CommandSpec{
		cmd(m, "turn_on", "ZMON"),
		cmd(m, "turn_off", "ZMOFF"),
		cmd(m, "power_on", "PWON"),
		cmd(m, "power_standby", "PWSTANDBY"),
		cmd(m, "volume_up", "MVUP"),
		cmd(m, "volume_down", "MVDOWN"),
		cmd(m, "mute", "MUON"),
		cmd(m, "unmute", "MUOFF"),
		cmd(m, "play_pause", "NS94"),
		cmd(m, "next", "NS9D"),
		cmd(m, "previous", "NS9E"),
		cmd(m, "cursor_up", "MNCUP"),
		cmd(m, "cursor_down", "MNCDN"),
		cmd(m, "cursor_left", "MNCLT"),
		cmd(m, "cursor_right", "MNCRT"),
		cmd(m, "cursor_enter", "MNENT"),
		cmd(m, "back", "MNRTN"),
		cmd(m, "menu", "MNMEN ON"),
		cmd(m, "menu_off", "MNMEN OFF"),
		cmd(m, "context_menu", "MNOPT"),
		cmd(m, "info", "MNINF"),
		cmd(m, "sleep_off", "SLPOFF"),
		{ID: "volume", Raw: "MV", Category: m, Kind: ParamNumber, Number: volumeRule},
		{ID: "select_source", Raw: "SI", Category: m, Kind: ParamChoice, Choices: sources},
		{ID: "select_sound_mode", Raw: "MS", Category: m, Kind: ParamChoice, Choices: soundModes, RequiresSoundMode: true},
		{ID: "sleep", Raw: "SLP", Category: m, Kind: ParamNumber, Number: sleepRule},
	}
	return specs
}

func zoneCommands() []CommandSpec {
	var specs []CommandSpec
	for zone := 2; zone <= 3; zone++ {
		p := fmt.Sprintf("Z%d", zone)
		id := fmt.Sprintf("zone%d_", zone)
		zs := []CommandSpec{
			cmd(CategoryZone, id+"on", p+"ON"),
			cmd(CategoryZone, id+"off", p+"OFF"),
			cmd(CategoryZone, id+"volume_up", p+"UP"),
			cmd(CategoryZone, id+"volume_down", p+"DOWN"),
			cmd(CategoryZone, id+"mute", p+"MUON"),
			cmd(CategoryZone, id+"unmute", p+"MUOFF"),
			{ID: id + "volume", Raw: p, Category: CategoryZone, Kind: ParamNumber, Number: zoneVolume},
			{ID: id + "select_source", Raw: p, Category: CategoryZone, Kind: ParamChoice, Choices: sources},
		}
		for i := range zs {
			zs[i].Zone = zone
		}
		specs = append(specs, zs...)
	}
	return specs
}

// StatusQueries are sent after every stream connect to prime the state.
var StatusQueries = []string{
	"query_power", "query_main_zone", "query_volume", "query_mute",
	"query_input", "query_sound_mode", "query_zone2", "query_zone3",
	"query_sleep", "query_eco", "query_dimmer", "query_media",
}

func queryCommands() []CommandSpec {
	q := func(id, raw, reply string, zone int) CommandSpec {
		return CommandSpec{ID: id, Raw: raw, Category: CategoryQuery, Reply: reply, Zone: zone}
	}
	soundMode := q("query_sound_mode", "MS?", "MS", 0)
	soundMode.RequiresSoundMode = true
	return []CommandSpec{
		q("query_power", "PW?", "PW", 0),
		q("query_main_zone", "ZM?", "ZM", 0),
		q("query_volume", "MV?", "MV", 0),
		q("query_mute", "MU?", "MU", 0),
		q("query_input", "SI?", "SI", 0),
		soundMode,
		q("query_zone2", "Z2?", "Z2", 2),
		q("query_zone3", "Z3?", "Z3", 3),
		q("query_sleep", "SLP?", "SLP", 0),
		q("query_eco", "ECO?", "ECO", 0),
		q("query_dimmer", "DIM ?", "DIM", 0),
		q("query_media", "NSE", "NSE", 0),
	}
}

// channelCodes maps channel-level command prefixes to CV channel codes.
var channelCodes = []struct{ id, code string }{
	{"FRONT_LEFT", "FL"}, {"FRONT_RIGHT", "FR"}, {"CENTER", "C"},
	{"SUB1", "SW"}, {"SUB2", "SW2"}, {"SUB3", "SW3"}, {"SUB4", "SW4"},
	{"SURROUND_LEFT", "SL"}, {"SURROUND_RIGHT", "SR"},
	{"SURROUND_BACK_LEFT", "SBL"}, {"SURROUND_BACK_RIGHT", "SBR"},
	{"FRONT_HEIGHT_LEFT", "FHL"}, {"FRONT_HEIGHT_RIGHT", "FHR"},
	{"FRONT_WIDE_LEFT", "FWL"}, {"FRONT_WIDE_RIGHT", "FWR"},
	{"TOP_FRONT_LEFT", "TFL"}, {"TOP_FRONT_RIGHT", "TFR"},
	{"TOP_MIDDLE_LEFT", "TML"}, {"TOP_MIDDLE_RIGHT", "TMR"},
	{"TOP_REAR_LEFT", "TRL"}, {"TOP_REAR_RIGHT", "TRR"},
	{"REAR_HEIGHT_LEFT", "RHL"}, {"REAR_HEIGHT_RIGHT", "RHR"},
	{"FRONT_DOLBY_LEFT", "FDL"}, {"FRONT_DOLBY_RIGHT", "FDR"},
	{"SURROUND_DOLBY_LEFT", "SDL"}, {"SURROUND_DOLBY_RIGHT", "SDR"},
	{"BACK_DOLBY_LEFT", "BDL"}, {"BACK_DOLBY_RIGHT", "BDR"},
	{"SURROUND_HEIGHT_LEFT", "SHL"}, {"SURROUND_HEIGHT_RIGHT", "SHR"},
	{"TOP_SURROUND", "TS"}, {"CENTER_HEIGHT", "CH"},
}

var imaxHPF = []int{40, 60, 80, 90, 100, 110, 120, 150, 180, 200, 250}

var imaxLPF = []int{80, 90, 100, 110, 120, 150, 180, 200, 250}

func simpleCommands() []CommandSpec {
	c := func(id, raw string) CommandSpec { return cmd(CategoryCore, id, raw) }
	s := func(id, raw string) CommandSpec {
		spec := cmd(CategorySoundMode, id, raw)
		spec.RequiresSoundMode = true
		return spec
	}
	a := func(id, raw string) CommandSpec { return cmd(CategoryAudyssey, id, raw) }
	d := func(id, raw string) CommandSpec { return cmd(CategoryDirac, id, raw) }
	v := func(id, raw string) CommandSpec { return cmd(CategoryLevels, id, raw) }

	status := c("STATUS", "RCSHP0230030")
	status.Manufacturers = []Manufacturer{Denon}

	specs := []CommandSpec{
		c("OUTPUT_1", "VSMONI1"),
		c("OUTPUT_2", "VSMONI2"),
		c("OUTPUT_AUTO", "VSMONIAUTO"),
		c("DIMMER_TOGGLE", "DIM SEL"),
		c("DIMMER_BRIGHT", "DIM BRI"),
		c("DIMMER_DIM", "DIM DIM"),
		c("DIMMER_DARK", "DIM DAR"),
		c("DIMMER_OFF", "DIM OFF"),
		c("TRIGGER1_ON", "TR1 ON"),
		c("TRIGGER1_OFF", "TR1 OFF"),
		c("TRIGGER2_ON", "TR2 ON"),
		c("TRIGGER2_OFF", "TR2 OFF"),
		c("TRIGGER3_ON", "TR3 ON"),
		c("TRIGGER3_OFF", "TR3 OFF"),
		c("DELAY_UP", "PSDELAY UP"),
		c("DELAY_DOWN", "PSDELAY DOWN"),
		c("DELAY_TIME_UP", "PSDEL UP"),
		c("DELAY_TIME_DOWN", "PSDEL DOWN"),
		c("ECO_ON", "ECOON"),
		c("ECO_AUTO", "ECOAUTO"),
		c("ECO_OFF", "ECOOFF"),
		c("INFO_MENU", "MNINF"),
		c("OPTIONS_MENU", "MNOPT"),
		c("CHANNEL_LEVEL_ADJUST_MENU", "MNCHL"),
		c("AUTO_STANDBY_OFF", "STBYOFF"),
		c("AUTO_STANDBY_15MIN", "STBY15M"),
		c("AUTO_STANDBY_30MIN", "STBY30M"),
		c("AUTO_STANDBY_60MIN", "STBY60M"),
		c("HDMI_AUDIO_DECODE_AMP", "VSAUDIO AMP"),
		c("HDMI_AUDIO_DECODE_TV", "VSAUDIO TV"),
		c("VIDEO_PROCESSING_MODE_AUTO", "VSVPMAUTO"),
		c("VIDEO_PROCESSING_MODE_GAME", "VSVPMGAME"),
		c("VIDEO_PROCESSING_MODE_MOVIE", "VSVPMMOVI"),
		c("VIDEO_PROCESSING_MODE_BYPASS", "VSVPMBYP"),
		c("NETWORK_RESTART", "NSRBT"),
		c("SPEAKER_PRESET_1", "SPPR 1"),
		c("SPEAKER_PRESET_2", "SPPR 2"),
		c("BT_TRANSMITTER_ON", "BTTX ON"),
		c("BT_TRANSMITTER_OFF", "BTTX OFF"),
		c("BT_OUTPUT_MODE_BT_SPEAKER", "BTTX SP"),
		c("BT_OUTPUT_MODE_BT_ONLY", "BTTX BT"),
		c("AUDIO_RESTORER_OFF", "PSRSTR OFF"),
		c("AUDIO_RESTORER_LOW", "PSRSTR LOW"),
		c("AUDIO_RESTORER_MEDIUM", "PSRSTR MED"),
		c("AUDIO_RESTORER_HIGH", "PSRSTR HI"),
		c("REMOTE_CONTROL_LOCK_ON", "SYREMOTE LOCK ON"),
		c("REMOTE_CONTROL_LOCK_OFF", "SYREMOTE LOCK OFF"),
		c("PANEL_LOCK_PANEL", "SYPANEL LOCK ON"),
		c("PANEL_LOCK_PANEL_VOLUME", "SYPANEL+V LOCK ON"),
		c("PANEL_LOCK_OFF", "SYPANEL LOCK OFF"),
		c("GRAPHIC_EQ_ON", "PSGEQ ON"),
		c("GRAPHIC_EQ_OFF", "PSGEQ OFF"),
		c("HEADPHONE_EQ_ON", "PSHEQ ON"),
		c("HEADPHONE_EQ_OFF", "PSHEQ OFF"),
		status,

		s("SURROUND_MODE_AUTO", "MSAUTO"),
		s("SURROUND_MODE_DIRECT", "MSDIRECT"),
		s("SURROUND_MODE_PURE_DIRECT", "MSPURE DIRECT"),
		s("SURROUND_MODE_DOLBY_DIGITAL", "MSDOLBY DIGITAL"),
		s("SURROUND_MODE_DTS_SURROUND", "MSDTS SURROUND"),
		s("SURROUND_MODE_AURO3D", "MSAURO3D"),
		s("SURROUND_MODE_AURO2DSURR", "MSAURO2DSURR"),
		s("SURROUND_MODE_MCH_STEREO", "MSMCH STEREO"),
		s("SOUND_MODE_NEURAL_X_ON", "PSNEURAL ON"),
		s("SOUND_MODE_NEURAL_X_OFF", "PSNEURAL OFF"),
		s("SOUND_MODE_IMAX_AUTO", "PSIMAX AUTO"),
		s("SOUND_MODE_IMAX_OFF", "PSIMAX OFF"),
		s("IMAX_AUDIO_SETTINGS_AUTO", "PSIMAXAUD AUTO"),
		s("IMAX_AUDIO_SETTINGS_MANUAL", "PSIMAXAUD MANUAL"),
		s("IMAX_SUBWOOFER_ON", "PSIMAXSWM ON"),
		s("IMAX_SUBWOOFER_OFF", "PSIMAXSWM OFF"),
		s("IMAX_SUBWOOFER_OUTPUT_LFE_MAIN", "PSIMAXSWO L+M"),
		s("IMAX_SUBWOOFER_OUTPUT_LFE", "PSIMAXSWO LFE"),
		s("CINEMA_EQ_ON", "PSCINEMA EQ.ON"),
		s("CINEMA_EQ_OFF", "PSCINEMA EQ.OFF"),
		s("CENTER_SPREAD_ON", "PSCES ON"),
		s("CENTER_SPREAD_OFF", "PSCES OFF"),
		s("LOUDNESS_MANAGEMENT_ON", "PSLOM ON"),
		s("LOUDNESS_MANAGEMENT_OFF", "PSLOM OFF"),
		s("DIALOG_ENHANCER_OFF", "PSDEH OFF"),
		s("DIALOG_ENHANCER_LOW", "PSDEH LOW"),
		s("DIALOG_ENHANCER_MEDIUM", "PSDEH MED"),
		s("DIALOG_ENHANCER_HIGH", "PSDEH HIGH"),
		s("AUROMATIC_3D_PRESET_SMALL", "PSAUROPR SMA"),
		s("AUROMATIC_3D_PRESET_MEDIUM", "PSAUROPR MED"),
		s("AUROMATIC_3D_PRESET_LARGE", "PSAUROPR LAR"),
		s("AUROMATIC_3D_PRESET_SPEECH", "PSAUROPR SPE"),
		s("AUROMATIC_3D_PRESET_MOVIE", "PSAUROPR MOV"),
		s("AUROMATIC_3D_STRENGTH_UP", "PSAUROST UP"),
		s("AUROMATIC_3D_STRENGTH_DOWN", "PSAUROST DOWN"),
		s("AURO_3D_MODE_DIRECT", "PSAUROMODE DRCT"),
		s("AURO_3D_MODE_CHANNEL_EXPANSION", "PSAUROMODE EXP"),
		s("DIALOG_CONTROL_UP", "PSDIC UP"),
		s("DIALOG_CONTROL_DOWN", "PSDIC DOWN"),
		s("SPEAKER_VIRTUALIZER_ON", "PSSPV ON"),
		s("SPEAKER_VIRTUALIZER_OFF", "PSSPV OFF"),
		s("DRC_AUTO", "PSDRC AUTO"),
		s("DRC_LOW", "PSDRC LOW"),
		s("DRC_MID", "PSDRC MID"),
		s("DRC_HI", "PSDRC HI"),
		s("DRC_OFF", "PSDRC OFF"),

		a("MULTIEQ_REFERENCE", "PSMULTEQ:AUDYSSEY"),
		a("MULTIEQ_BYPASS_LR", "PSMULTEQ:BYP.LR"),
		a("MULTIEQ_FLAT", "PSMULTEQ:FLAT"),
		a("MULTIEQ_OFF", "PSMULTEQ:OFF"),
		a("DYNAMIC_EQ_ON", "PSDYNEQ ON"),
		a("DYNAMIC_EQ_OFF", "PSDYNEQ OFF"),
		a("AUDYSSEY_LFC", "PSLFC ON"),
		a("AUDYSSEY_LFC_OFF", "PSLFC OFF"),
		a("DYNAMIC_VOLUME_OFF", "PSDYNVOL OFF"),
		a("DYNAMIC_VOLUME_LIGHT", "PSDYNVOL LIT"),
		a("DYNAMIC_VOLUME_MEDIUM", "PSDYNVOL MED"),
		a("DYNAMIC_VOLUME_HEAVY", "PSDYNVOL HEV"),
		a("CONTAINMENT_AMOUNT_UP", "PSCNTAMT UP"),
		a("CONTAINMENT_AMOUNT_DOWN", "PSCNTAMT DOWN"),

		d("DIRAC_LIVE_FILTER_SLOT1", "PSDIRAC 1"),
		d("DIRAC_LIVE_FILTER_SLOT2", "PSDIRAC 2"),
		d("DIRAC_LIVE_FILTER_SLOT3", "PSDIRAC 3"),
		d("DIRAC_LIVE_FILTER_OFF", "PSDIRAC OFF"),

		v("CHANNEL_VOLUMES_RESET", "CVZRL"),
		v("SUBWOOFER_ON", "PSSWR ON"),
		v("SUBWOOFER_OFF", "PSSWR OFF"),
		v("LFE_UP", "PSLFE UP"),
		v("LFE_DOWN", "PSLFE DOWN"),
		v("BASS_SYNC_UP", "PSBSC UP"),
		v("BASS_SYNC_DOWN", "PSBSC DOWN"),
	}

	for _, hz := range imaxHPF {
		specs = append(specs, s(fmt.Sprintf("IMAX_HPF_%dHZ", hz), fmt.Sprintf("PSIMAXHPF %03d", hz)))
	}
	for _, hz := range imaxLPF {
		specs = append(specs, s(fmt.Sprintf("IMAX_LPF_%dHZ", hz), fmt.Sprintf("PSIMAXLPF %03d", hz)))
	}
	for _, ch := range channelCodes {
		specs = append(specs,
			v(ch.id+"_UP", "CV"+ch.code+" UP"),
			v(ch.id+"_DOWN", "CV"+ch.code+" DOWN"),
		)
	}
	for n := 1; n <= 4; n++ {
		suffix := ""
		if n > 1 {
			suffix = fmt.Sprint(n)
		}
		specs = append(specs,
			v(fmt.Sprintf("SUBWOOFER%d_LEVEL_UP", n), "PSSWL"+suffix+" UP"),
			v(fmt.Sprintf("SUBWOOFER%d_LEVEL_DOWN", n), "PSSWL"+suffix+" DOWN"),
		)
	}
	return specs
}
