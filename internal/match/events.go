package match

import "pong-server/internal/physics"

// Outbound event names.
const (
	EventFound                   = "found"
	EventInvited                 = "invited"
	EventInviteDeclined          = "inviteDeclined"
	EventInviteCancelled         = "inviteCancelled"
	EventLaunch                  = "launch"
	EventStartGame               = "startGame"
	EventSetPlayerPos            = "setPlayerPos"
	EventPaddlePosition          = "paddlePosition"
	EventBallPosition            = "ballPosition"
	EventBallServerPosition      = "ballServerPosition"
	EventUpdateScore             = "updateScore"
	EventDisconnectInGame        = "disconnectInGame"
	EventDisconnectInMatchmaking = "disconnectInMatchmaking"
	EventDisconnectedElsewhere   = "disconnectedElsewhere"
)

// Roles carried by found and launch.
const (
	RolePlayer1  = "player1"
	RolePlayer2  = "player2"
	RoleSpectate = "spectate"
)

func playerRole(seat int) string {
	if seat == 0 {
		return RolePlayer1
	}
	return RolePlayer2
}

type FoundPayload struct {
	SessionID    SessionID `json:"sessionId"`
	Role         string    `json:"role"`
	OpponentID   int64     `json:"opponentId"`
	OpponentName string    `json:"opponentName"`
	Map          int       `json:"map"`
	Difficulty   int       `json:"difficulty"`
}

type InvitedPayload struct {
	FromID     int64  `json:"fromId"`
	FromName   string `json:"fromName"`
	Map        int    `json:"map"`
	Difficulty int    `json:"difficulty"`
}

// InviteClosedPayload names who declined or cancelled.
type InviteClosedPayload struct {
	By int64 `json:"by"`
}

type LaunchPayload struct {
	Role       string `json:"role"`
	Map        int    `json:"map"`
	Difficulty int    `json:"difficulty"`
}

// PaddlePayload tells spectators which side moved. Side is 1 or 2.
type PaddlePayload struct {
	Side     int     `json:"side"`
	Position float64 `json:"position"`
}

type BallPayload struct {
	Position  physics.Vec2 `json:"position"`
	Direction physics.Vec2 `json:"direction"`
}

type ScorePayload struct {
	Score1 int `json:"score1"`
	Score2 int `json:"score2"`
}
