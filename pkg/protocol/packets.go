package protocol

// PacketID identifies one packet type. Client→server and server→client
// packets share a single numbering; the values are wire values and must not
// be renumbered.
type PacketID uint16

// Client → server.
const (
	ClientChangeAction        PacketID = 0
	ClientSendPublicMessage   PacketID = 1
	ClientLogout              PacketID = 2
	ClientRequestStatusUpdate PacketID = 3
	ClientPing                PacketID = 4
	ClientStartSpectating     PacketID = 16
	ClientStopSpectating      PacketID = 17
	ClientSpectateFrames      PacketID = 18
	ClientErrorReport         PacketID = 20
	ClientCantSpectate        PacketID = 21
	ClientSendPrivateMessage  PacketID = 25
	ClientPartLobby           PacketID = 29
	ClientJoinLobby           PacketID = 30
	ClientCreateMatch         PacketID = 31
	ClientJoinMatch           PacketID = 32
	ClientPartMatch           PacketID = 33
	ClientMatchChangeSlot     PacketID = 38
	ClientMatchReady          PacketID = 39
	ClientMatchLock           PacketID = 40
	ClientMatchChangeSettings PacketID = 41
	ClientMatchStart          PacketID = 44
	ClientMatchScoreUpdate    PacketID = 47
	ClientMatchComplete       PacketID = 49
	ClientMatchChangeMods     PacketID = 51
	ClientMatchLoadComplete   PacketID = 52
	ClientMatchNoBeatmap      PacketID = 54
	ClientMatchNotReady       PacketID = 55
	ClientMatchFailed         PacketID = 56
	ClientMatchHasBeatmap     PacketID = 59
	ClientMatchSkipRequest    PacketID = 60
	ClientChannelJoin         PacketID = 63
	ClientBeatmapInfoRequest  PacketID = 68
	ClientMatchTransferHost   PacketID = 70
	ClientFriendAdd           PacketID = 73
	ClientFriendRemove        PacketID = 74
	ClientMatchChangeTeam     PacketID = 77
	ClientChannelPart         PacketID = 78
	ClientReceiveUpdates      PacketID = 79
	ClientSetAwayMessage      PacketID = 82
	ClientUserStatsRequest    PacketID = 85
	ClientMatchInvite         PacketID = 87
	ClientMatchChangePassword PacketID = 90
	ClientUserPresenceRequest PacketID = 97
	ClientPresenceRequestAll  PacketID = 98
	ClientToggleBlockDMs      PacketID = 99
)

// Server → client.
const (
	ServerLoginReply             PacketID = 5
	ServerSendMessage            PacketID = 7
	ServerPong                   PacketID = 8
	ServerUserStats              PacketID = 11
	ServerUserQuit               PacketID = 12
	ServerSpectatorJoined        PacketID = 13
	ServerSpectatorLeft          PacketID = 14
	ServerSpectateFrames         PacketID = 15
	ServerVersionUpdate          PacketID = 19
	ServerSpectatorCantSpectate  PacketID = 22
	ServerGetAttention           PacketID = 23
	ServerNotification           PacketID = 24
	ServerUpdateMatch            PacketID = 26
	ServerNewMatch               PacketID = 27
	ServerDisposeMatch           PacketID = 28
	ServerMatchJoinSuccess       PacketID = 36
	ServerMatchJoinFail          PacketID = 37
	ServerFellowSpectatorJoined  PacketID = 42
	ServerFellowSpectatorLeft    PacketID = 43
	ServerMatchStart             PacketID = 46
	ServerMatchScoreUpdate       PacketID = 48
	ServerMatchTransferHost      PacketID = 50
	ServerMatchAllPlayersLoaded  PacketID = 53
	ServerMatchPlayerFailed      PacketID = 57
	ServerMatchComplete          PacketID = 58
	ServerMatchSkip              PacketID = 61
	ServerChannelJoinSuccess     PacketID = 64
	ServerChannelInfo            PacketID = 65
	ServerChannelKick            PacketID = 66
	ServerChannelAutoJoin        PacketID = 67
	ServerBeatmapInfoReply       PacketID = 69
	ServerPrivileges             PacketID = 71
	ServerFriendsList            PacketID = 72
	ServerProtocolVersion        PacketID = 75
	ServerMainMenuIcon           PacketID = 76
	ServerMatchPlayerSkipped     PacketID = 81
	ServerUserPresence           PacketID = 83
	ServerRestart                PacketID = 86
	ServerMatchInvite            PacketID = 88
	ServerChannelInfoEnd         PacketID = 89
	ServerMatchChangePassword    PacketID = 91
	ServerSilenceEnd             PacketID = 92
	ServerUserSilenced           PacketID = 94
	ServerUserPresenceSingle     PacketID = 95
	ServerUserPresenceBundle     PacketID = 96
	ServerUserDMBlocked          PacketID = 100
	ServerTargetIsSilenced       PacketID = 101
	ServerVersionUpdateForced    PacketID = 102
	ServerSwitchServer           PacketID = 103
	ServerAccountRestricted      PacketID = 104
)

var packetNames = map[PacketID]string{
	ClientChangeAction:        "CHANGE_ACTION",
	ClientSendPublicMessage:   "SEND_PUBLIC_MESSAGE",
	ClientLogout:              "LOGOUT",
	ClientRequestStatusUpdate: "REQUEST_STATUS_UPDATE",
	ClientPing:                "PING",
	ClientStartSpectating:     "START_SPECTATING",
	ClientStopSpectating:      "STOP_SPECTATING",
	ClientSpectateFrames:      "SPECTATE_FRAMES",
	ClientErrorReport:         "ERROR_REPORT",
	ClientCantSpectate:        "CANT_SPECTATE",
	ClientSendPrivateMessage:  "SEND_PRIVATE_MESSAGE",
	ClientPartLobby:           "PART_LOBBY",
	ClientJoinLobby:           "JOIN_LOBBY",
	ClientCreateMatch:         "CREATE_MATCH",
	ClientJoinMatch:           "JOIN_MATCH",
	ClientPartMatch:           "PART_MATCH",
	ClientMatchChangeSlot:     "MATCH_CHANGE_SLOT",
	ClientMatchReady:          "MATCH_READY",
	ClientMatchLock:           "MATCH_LOCK",
	ClientMatchChangeSettings: "MATCH_CHANGE_SETTINGS",
	ClientMatchStart:          "MATCH_START",
	ClientMatchScoreUpdate:    "MATCH_SCORE_UPDATE",
	ClientMatchComplete:       "MATCH_COMPLETE",
	ClientMatchChangeMods:     "MATCH_CHANGE_MODS",
	ClientMatchLoadComplete:   "MATCH_LOAD_COMPLETE",
	ClientMatchNoBeatmap:      "MATCH_NO_BEATMAP",
	ClientMatchNotReady:       "MATCH_NOT_READY",
	ClientMatchFailed:         "MATCH_FAILED",
	ClientMatchHasBeatmap:     "MATCH_HAS_BEATMAP",
	ClientMatchSkipRequest:    "MATCH_SKIP_REQUEST",
	ClientChannelJoin:         "CHANNEL_JOIN",
	ClientBeatmapInfoRequest:  "BEATMAP_INFO_REQUEST",
	ClientMatchTransferHost:   "MATCH_TRANSFER_HOST",
	ClientFriendAdd:           "FRIEND_ADD",
	ClientFriendRemove:        "FRIEND_REMOVE",
	ClientMatchChangeTeam:     "MATCH_CHANGE_TEAM",
	ClientChannelPart:         "CHANNEL_PART",
	ClientReceiveUpdates:      "RECEIVE_UPDATES",
	ClientSetAwayMessage:      "SET_AWAY_MESSAGE",
	ClientUserStatsRequest:    "USER_STATS_REQUEST",
	ClientMatchInvite:         "MATCH_INVITE",
	ClientMatchChangePassword: "MATCH_CHANGE_PASSWORD",
	ClientUserPresenceRequest: "USER_PRESENCE_REQUEST",
	ClientPresenceRequestAll:  "USER_PRESENCE_REQUEST_ALL",
	ClientToggleBlockDMs:      "TOGGLE_BLOCK_NON_FRIEND_DM",

	ServerLoginReply:            "LOGIN_REPLY",
	ServerSendMessage:           "SEND_MESSAGE",
	ServerPong:                  "PONG",
	ServerUserStats:             "USER_STATS",
	ServerUserQuit:              "USER_QUIT",
	ServerSpectatorJoined:       "SPECTATOR_JOINED",
	ServerSpectatorLeft:         "SPECTATOR_LEFT",
	ServerSpectateFrames:        "SPECTATE_FRAMES",
	ServerVersionUpdate:         "VERSION_UPDATE",
	ServerSpectatorCantSpectate: "SPECTATOR_CANT_SPECTATE",
	ServerGetAttention:          "GET_ATTENTION",
	ServerNotification:          "NOTIFICATION",
	ServerUpdateMatch:           "UPDATE_MATCH",
	ServerNewMatch:              "NEW_MATCH",
	ServerDisposeMatch:          "DISPOSE_MATCH",
	ServerMatchJoinSuccess:      "MATCH_JOIN_SUCCESS",
	ServerMatchJoinFail:         "MATCH_JOIN_FAIL",
	ServerFellowSpectatorJoined: "FELLOW_SPECTATOR_JOINED",
	ServerFellowSpectatorLeft:   "FELLOW_SPECTATOR_LEFT",
	ServerMatchStart:            "MATCH_START",
	ServerMatchScoreUpdate:      "MATCH_SCORE_UPDATE",
	ServerMatchTransferHost:     "MATCH_TRANSFER_HOST",
	ServerMatchAllPlayersLoaded: "MATCH_ALL_PLAYERS_LOADED",
	ServerMatchPlayerFailed:     "MATCH_PLAYER_FAILED",
	ServerMatchComplete:         "MATCH_COMPLETE",
	ServerMatchSkip:             "MATCH_SKIP",
	ServerChannelJoinSuccess:    "CHANNEL_JOIN_SUCCESS",
	ServerChannelInfo:           "CHANNEL_INFO",
	ServerChannelKick:           "CHANNEL_KICK",
	ServerChannelAutoJoin:       "CHANNEL_AUTO_JOIN",
	ServerBeatmapInfoReply:      "BEATMAP_INFO_REPLY",
	ServerPrivileges:            "PRIVILEGES",
	ServerFriendsList:           "FRIENDS_LIST",
	ServerProtocolVersion:       "PROTOCOL_VERSION",
	ServerMainMenuIcon:          "MAIN_MENU_ICON",
	ServerMatchPlayerSkipped:    "MATCH_PLAYER_SKIPPED",
	ServerUserPresence:          "USER_PRESENCE",
	ServerRestart:               "RESTART",
	ServerMatchInvite:           "MATCH_INVITE",
	ServerChannelInfoEnd:        "CHANNEL_INFO_END",
	ServerMatchChangePassword:   "MATCH_CHANGE_PASSWORD",
	ServerSilenceEnd:            "SILENCE_END",
	ServerUserSilenced:          "USER_SILENCED",
	ServerUserPresenceSingle:    "USER_PRESENCE_SINGLE",
	ServerUserPresenceBundle:    "USER_PRESENCE_BUNDLE",
	ServerUserDMBlocked:         "USER_DM_BLOCKED",
	ServerTargetIsSilenced:      "TARGET_IS_SILENCED",
	ServerVersionUpdateForced:   "VERSION_UPDATE_FORCED",
	ServerSwitchServer:          "SWITCH_SERVER",
	ServerAccountRestricted:     "ACCOUNT_RESTRICTED",
}

// String returns the packet's protocol name, or a numeric fallback.
func (id PacketID) String() string {
	if name, ok := packetNames[id]; ok {
		return name
	}
	return "UNKNOWN_" + uitoa(uint(id))
}

func uitoa(v uint) string {
	if v == 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}
