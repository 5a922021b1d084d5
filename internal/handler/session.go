package handler

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ugaemi/patrol-server/internal/ws"
)

const helloTimeout = 10 * time.Second

type helloRequest struct {
	PlayerID uint64 `json:"player_id"`
	Codec    string `json:"codec,omitempty"`
}

type welcomeResponse struct {
	ClientID   string `json:"client_id"`
	PlayerID   uint64 `json:"player_id"`
	AreaID     uint64 `json:"area_id"`
	Codec      string `json:"codec"`
	ServerTime int64  `json:"server_time"`
}

// HandleHello binds the client to the player it speaks for and selects the
// frame codec of subsequent messages.
func (r *Router) HandleHello(client *ws.Client, msg ws.Message) {
	if client.Bound {
		client.SendMessage(ws.NewErrorMessage("already greeted"))
		return
	}

	var req helloRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		client.SendMessage(ws.NewErrorMessage("invalid hello data"))
		return
	}
	if req.PlayerID == 0 {
		client.SendMessage(ws.NewErrorMessage("player_id is required"))
		return
	}

	if !r.hub.Bind(client, req.PlayerID) {
		slog.Debug("hello from closed client", "client", client.ID)
		return
	}
	client.SetCodec(ws.ParseCodec(req.Codec))

	resp, _ := ws.NewMessage(ws.TypeWelcome, welcomeResponse{
		ClientID:   client.ID,
		PlayerID:   req.PlayerID,
		AreaID:     r.areaID,
		Codec:      client.Codec().String(),
		ServerTime: time.Now().UnixMilli(),
	})
	client.SendMessage(resp)

	slog.Info("client bound", "client", client.ID, "player", req.PlayerID, "codec", client.Codec())
}

// HandlePose records where the client's player is, for radius filtering.
func (r *Router) HandlePose(client *ws.Client, msg ws.Message) {
	var pose ws.ObserverPose
	if err := json.Unmarshal(msg.Data, &pose); err != nil {
		client.SendMessage(ws.NewErrorMessage("invalid pose data"))
		return
	}
	client.SetPose(pose)
}

// StartHelloTimeout closes the connection if the client doesn't say hello in time.
func (r *Router) StartHelloTimeout(client *ws.Client) {
	time.AfterFunc(helloTimeout, func() {
		if !r.hub.IsBound(client) {
			slog.Info("hello timeout, closing connection", "client", client.ID)
			client.Conn.Close()
		}
	})
}
