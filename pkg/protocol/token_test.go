package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientVersion(t *testing.T) {
	tests := []struct {
		token   string
		want    ClientVersion
		wantErr bool
	}{
		{token: "b20160403", want: ClientVersion{Build: 20160403, Stream: "stable"}},
		{token: "b20130606.1", want: ClientVersion{Build: 20130606, Revision: 1, Stream: "stable"}},
		{token: "b20121003dev", want: ClientVersion{Build: 20121003, Stream: "dev"}},
		{token: "b20160403.5tourney", want: ClientVersion{Build: 20160403, Revision: 5, Stream: "tourney"}},
		{token: "b323test", want: ClientVersion{Build: 323, Stream: "test"}},
		{token: "b20120704a", want: ClientVersion{Build: 20120704, Name: "a", Stream: "stable"}},
		{token: "", wantErr: true},
		{token: "20160403", wantErr: true},
		{token: "b", wantErr: true},
		{token: "bx", wantErr: true},
		{token: "b2016.abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseClientVersion(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadVersionToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTourney(t *testing.T) {
	v, err := ParseClientVersion("b20160403tourney")
	require.NoError(t, err)
	assert.True(t, v.IsTourney())

	v, err = ParseClientVersion("b20160403")
	require.NoError(t, err)
	assert.False(t, v.IsTourney())
}

func TestParseClientInfo(t *testing.T) {
	info, err := ParseClientInfo("b20160403|-5|1|aa:bb:cc:dd:ee|1|19")
	require.NoError(t, err)
	assert.Equal(t, 20160403, info.Version.Build)
	assert.Equal(t, -5, info.UTCOffset)
	assert.True(t, info.DisplayCity)
	assert.Equal(t, "aa", info.Hardware.ExeMD5)
	assert.Equal(t, "bb", info.Hardware.AdapterList)
	assert.Equal(t, "ee", info.Hardware.DiskMD5)
	assert.True(t, info.BlockNonFriendDM)
	assert.Equal(t, 19, info.ProtocolOverride)
}

func TestParseClientInfoMinimal(t *testing.T) {
	// Very old clients send only the version token; every trailing field is
	// optional.
	info, err := ParseClientInfo("b323")
	require.NoError(t, err)
	assert.Equal(t, 323, info.Version.Build)
	assert.Equal(t, 0, info.UTCOffset)
	assert.False(t, info.DisplayCity)
	assert.Equal(t, UnknownHashMD5, info.Hardware.ExeMD5)
	assert.Equal(t, UnknownHashMD5, info.Hardware.DiskMD5)
}

func TestParseClientInfoPartialHardware(t *testing.T) {
	// Absent hash components fall back to the md5("unknown") placeholder.
	info, err := ParseClientInfo("b20130606|0|0|realexe::|0")
	require.NoError(t, err)
	assert.Equal(t, "realexe", info.Hardware.ExeMD5)
	assert.Equal(t, UnknownHashMD5, info.Hardware.AdaptersMD5)
	assert.Equal(t, UnknownHashMD5, info.Hardware.UninstallMD5)
}

func TestParseClientInfoBadOffset(t *testing.T) {
	_, err := ParseClientInfo("b20160403|east")
	assert.ErrorIs(t, err, ErrBadLoginBody)
}

func TestParseLoginBody(t *testing.T) {
	body := []byte("alice\n0123456789abcdef0123456789abcdef\nb20160403|2|0||0|\n")
	req, err := ParseLoginBody(body)
	require.NoError(t, err)
	assert.Equal(t, "alice", req.Username)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", req.PasswordMD5)
	assert.Equal(t, 20160403, req.Info.Version.Build)
	assert.Equal(t, 2, req.Info.UTCOffset)
}

func TestParseLoginBodyCRLF(t *testing.T) {
	body := []byte("bob\r\nhash\r\nb20130606|0|0||0\r\n")
	req, err := ParseLoginBody(body)
	require.NoError(t, err)
	assert.Equal(t, "bob", req.Username)
	assert.Equal(t, "hash", req.PasswordMD5)
	assert.Equal(t, 20130606, req.Info.Version.Build)
}

func TestParseLoginBodyTooShort(t *testing.T) {
	_, err := ParseLoginBody([]byte("alice\nhash\n"))
	assert.ErrorIs(t, err, ErrBadLoginBody)
}
