package protocol

import (
	"errors"
	"strconv"
	"strings"
)

// UnknownHashMD5 is md5("unknown"), the placeholder the legacy client wrote
// for hardware-hash fields before it tracked them. Later fields default to it
// when absent so hardware-match heuristics keep working on old builds.
const UnknownHashMD5 = "ad921d60486366258809553a3db49a4a"

var (
	ErrBadVersionToken = errors.New("invalid client version token")
	ErrBadLoginBody    = errors.New("invalid login body")
)

// ClientVersion is the parsed form of a build token like "b20130606.1" or
// "b20121003dev".
type ClientVersion struct {
	Build    int    // date portion, e.g. 20130606
	Name     string // optional letter suffix directly after the date
	Revision int    // optional ".N" sub-release, 0 when absent
	Stream   string // dev, tourney, test, or stable
}

// IsTourney reports whether the client is a tournament-stream build, which is
// exempt from the single-connection-per-account rule.
func (v ClientVersion) IsTourney() bool { return v.Stream == "tourney" }

// ParseClientVersion parses a build token:
//
//	b<date up to 8 digits>[<name>][.<revision>][<stream>]
//
// where stream is one of dev, tourney, test; anything else is stable.
func ParseClientVersion(token string) (ClientVersion, error) {
	v := ClientVersion{Stream: "stable"}
	if len(token) < 2 || token[0] != 'b' {
		return v, ErrBadVersionToken
	}
	rest := token[1:]

	i := 0
	for i < len(rest) && i < 8 && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return v, ErrBadVersionToken
	}
	build, err := strconv.Atoi(rest[:i])
	if err != nil {
		return v, ErrBadVersionToken
	}
	v.Build = build
	rest = rest[i:]

	for _, stream := range []string{"dev", "tourney", "test"} {
		if strings.HasSuffix(rest, stream) {
			v.Stream = stream
			rest = rest[:len(rest)-len(stream)]
			break
		}
	}

	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		revision, err := strconv.Atoi(rest[dot+1:])
		if err != nil {
			return v, ErrBadVersionToken
		}
		v.Revision = revision
		rest = rest[:dot]
	}

	v.Name = rest
	return v, nil
}

// HardwareID is the composite hardware-hash string, colon-delimited on the
// wire. Absent fields default to UnknownHashMD5.
type HardwareID struct {
	ExeMD5       string
	AdapterList  string
	AdaptersMD5  string
	UninstallMD5 string
	DiskMD5      string
}

func defaultHardwareID() HardwareID {
	return HardwareID{
		ExeMD5:       UnknownHashMD5,
		AdapterList:  "",
		AdaptersMD5:  UnknownHashMD5,
		UninstallMD5: UnknownHashMD5,
		DiskMD5:      UnknownHashMD5,
	}
}

func parseHardwareID(s string) HardwareID {
	hw := defaultHardwareID()
	parts := strings.Split(s, ":")
	if len(parts) > 0 && parts[0] != "" {
		hw.ExeMD5 = parts[0]
	}
	if len(parts) > 1 {
		hw.AdapterList = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		hw.AdaptersMD5 = parts[2]
	}
	if len(parts) > 3 && parts[3] != "" {
		hw.UninstallMD5 = parts[3]
	}
	if len(parts) > 4 && parts[4] != "" {
		hw.DiskMD5 = parts[4]
	}
	return hw
}

// ClientInfo is the pipe-delimited third line of the login handshake. Every
// field after the version token was added at some point in client history, so
// all trailing fields are optional.
type ClientInfo struct {
	Version          ClientVersion
	UTCOffset        int
	DisplayCity      bool
	Hardware         HardwareID
	BlockNonFriendDM bool
	ProtocolOverride int // 0 when absent
}

// ParseClientInfo parses the client-info string:
//
//	<version>|<utc-offset>|<display-city>|<hardware>|<friend-dm>|<protocol>
func ParseClientInfo(line string) (ClientInfo, error) {
	info := ClientInfo{Hardware: defaultHardwareID()}
	parts := strings.Split(strings.TrimSpace(line), "|")

	version, err := ParseClientVersion(parts[0])
	if err != nil {
		return info, err
	}
	info.Version = version

	if len(parts) > 1 {
		offset, err := strconv.Atoi(parts[1])
		if err != nil {
			return info, ErrBadLoginBody
		}
		info.UTCOffset = offset
	}
	if len(parts) > 2 {
		info.DisplayCity = parts[2] == "1"
	}
	if len(parts) > 3 && parts[3] != "" {
		info.Hardware = parseHardwareID(parts[3])
	}
	if len(parts) > 4 {
		info.BlockNonFriendDM = parts[4] == "1"
	}
	if len(parts) > 5 && parts[5] != "" {
		override, err := strconv.Atoi(parts[5])
		if err != nil {
			return info, ErrBadLoginBody
		}
		info.ProtocolOverride = override
	}
	return info, nil
}

// LoginRequest is the parsed three-line login handshake body.
type LoginRequest struct {
	Username    string
	PasswordMD5 string
	Info        ClientInfo
}

// ParseLoginBody parses the newline-delimited handshake: username,
// password-hash, client-info string.
func ParseLoginBody(body []byte) (LoginRequest, error) {
	var req LoginRequest
	lines := strings.SplitN(strings.TrimRight(string(body), "\r\n"), "\n", 3)
	if len(lines) < 3 {
		return req, ErrBadLoginBody
	}
	req.Username = strings.TrimRight(lines[0], "\r")
	req.PasswordMD5 = strings.TrimRight(lines[1], "\r")
	info, err := ParseClientInfo(lines[2])
	if err != nil {
		return req, err
	}
	req.Info = info
	return req, nil
}
