package protocol

import "sort"

// LatestBuild is the newest client build the server speaks natively.
const LatestBuild = 20160403

// LatestProtocolVersion is the wire protocol number reported to up-to-date
// clients after login.
const LatestProtocolVersion = 19

// Registry maps client builds to fully materialized codecs. Each registered
// build inherits the complete table of the nearest newer registered build and
// overrides only the packets whose layout changed; the flattening happens
// here, once, so Resolve never walks an inheritance chain.
type Registry struct {
	builds []int // ascending
	codecs map[int]*Codec
}

// NewRegistry builds the full build graph. The chain is registered newest to
// oldest, so every derive step copies an already-complete table.
func NewRegistry() *Registry {
	reg := &Registry{codecs: make(map[int]*Codec)}

	latest := &Codec{
		Build:           LatestBuild,
		ProtocolVersion: LatestProtocolVersion,
		Framing:         ModernFraming,
		decoders:        baseDecoders(),
		encoders:        baseEncoders(),
	}
	reg.add(latest)

	// b20150915: score frames predate ScoreV2.
	reg.derive(20150915, 19, func(c *Codec) {
		c.encoders[ServerMatchScoreUpdate] = encodeScoreFrame(false)
		c.encoders[ServerSpectateFrames] = encodeReplayBundle(false)
		c.decoders[ClientMatchScoreUpdate] = decodeScoreFrame(false)
		c.decoders[ClientSpectateFrames] = decodeReplayBundle(false)
	})

	// b20140612: no DM-block handling yet.
	reg.derive(20140612, 18, func(c *Codec) {
		delete(c.encoders, ServerUserDMBlocked)
		delete(c.encoders, ServerTargetIsSilenced)
		delete(c.decoders, ClientToggleBlockDMs)
	})

	// b20130815: restriction/switch-server notices did not exist.
	reg.derive(20130815, 18, func(c *Codec) {
		delete(c.encoders, ServerAccountRestricted)
		delete(c.encoders, ServerSwitchServer)
	})

	// b20130606: last build before forced version updates.
	reg.derive(20130606, 17, func(c *Codec) {
		delete(c.encoders, ServerVersionUpdateForced)
	})

	// b20130118: first build with the match random seed; everything older
	// drops the trailing field.
	reg.derive(20130118, 16, nil)

	noSeed := matchLayout{wideMods: true, freemod: true, seed: false}
	reg.derive(20121223, 15, func(c *Codec) {
		overrideMatchLayout(c, noSeed)
	})

	// b20121008: mods still fit in 16 bits; payload compression era.
	narrowMods := matchLayout{wideMods: false, freemod: true, seed: false}
	reg.derive(20121008, 12, func(c *Codec) {
		overrideMatchLayout(c, narrowMods)
		c.decoders[ClientChangeAction] = decodeStatus(false, true)
		c.Framing = LegacyFraming
	})

	// b20120812: freemod did not exist; slot mods never hit the wire.
	preFreemod := matchLayout{wideMods: false, freemod: false, seed: false}
	reg.derive(20120812, 11, func(c *Codec) {
		overrideMatchLayout(c, preFreemod)
		delete(c.decoders, ClientMatchChangeMods)
	})

	// b20120704: status carried no beatmap id.
	reg.derive(20120704, 10, func(c *Codec) {
		c.decoders[ClientChangeAction] = decodeStatus(false, false)
		c.encoders[ServerUserStats] = encodeUserStatsNoPerformance
	})

	// b1700: presence split from stats did not exist yet; the stats packet
	// is all the client gets.
	reg.derive(1700, 7, func(c *Codec) {
		delete(c.encoders, ServerUserPresence)
		delete(c.encoders, ServerUserPresenceSingle)
		delete(c.encoders, ServerUserPresenceBundle)
	})

	reg.derive(1152, 6, func(c *Codec) {
		delete(c.encoders, ServerMatchInvite)
		delete(c.decoders, ClientMatchInvite)
	})

	reg.derive(675, 5, func(c *Codec) {
		delete(c.encoders, ServerMainMenuIcon)
	})

	// b504: private messages carried no sender id.
	reg.derive(504, 4, func(c *Codec) {
		c.decoders[ClientSendPublicMessage] = decodeMessage(false)
		c.decoders[ClientSendPrivateMessage] = decodeMessage(false)
	})

	// b323 and older: flagless always-gzipped framing, bare-uleb strings.
	reg.derive(323, 3, func(c *Codec) {
		c.Framing = AncientFraming
		c.RawStrings = true
	})

	sort.Ints(reg.builds)
	return reg
}

// overrideMatchLayout swaps every match-snapshot encoder/decoder for the
// given layout in one go.
func overrideMatchLayout(c *Codec, layout matchLayout) {
	for _, id := range []PacketID{ServerUpdateMatch, ServerNewMatch, ServerMatchJoinSuccess, ServerMatchStart} {
		if _, ok := c.encoders[id]; ok {
			c.encoders[id] = encodeMatch(id, layout)
		}
	}
	for _, id := range []PacketID{ClientCreateMatch, ClientMatchChangeSettings, ClientMatchChangePassword} {
		if _, ok := c.decoders[id]; ok {
			c.decoders[id] = decodeMatch(layout)
		}
	}
}

func (reg *Registry) add(c *Codec) {
	reg.codecs[c.Build] = c
	reg.builds = append(reg.builds, c.Build)
}

// derive registers a build by copying the nearest newer registered build's
// codec and applying the overrides. Registration runs newest-first, so the
// nearest newer build is always complete.
func (reg *Registry) derive(build, protocolVersion int, override func(*Codec)) {
	parent := reg.nearestNewer(build)
	c := parent.clone()
	c.Build = build
	c.ProtocolVersion = protocolVersion
	if override != nil {
		override(c)
	}
	reg.add(c)
}

func (reg *Registry) nearestNewer(build int) *Codec {
	best := 0
	for _, b := range reg.builds {
		if b > build && (best == 0 || b < best) {
			best = b
		}
	}
	return reg.codecs[best]
}

// Builds returns the registered builds in ascending order.
func (reg *Registry) Builds() []int {
	out := make([]int, len(reg.builds))
	copy(out, reg.builds)
	return out
}

// Resolve picks the codec for a connecting build: the exact build if
// registered, otherwise the newest registered build strictly older than the
// requested one, otherwise the oldest registered build. Pure and
// deterministic.
func (reg *Registry) Resolve(build int) *Codec {
	if c, ok := reg.codecs[build]; ok {
		return c
	}
	// builds is sorted ascending; find the last entry below the request.
	idx := sort.SearchInts(reg.builds, build)
	if idx == 0 {
		return reg.codecs[reg.builds[0]]
	}
	return reg.codecs[reg.builds[idx-1]]
}
