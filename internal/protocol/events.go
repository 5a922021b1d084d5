package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Location is a point in an area's frame. AreaID 0 means world space.
type Location struct {
	AreaID   uint64     `json:"area_id"`
	Position mgl64.Vec3 `json:"position"`
}

// PoseUpdate is broadcast every tick for each character.
type PoseUpdate struct {
	EntityID uint64     `json:"entity_id"`
	AreaID   uint64     `json:"area_id"`
	Position mgl64.Vec3 `json:"position"`
	Rotation [4]float64 `json:"rotation"`
	Velocity mgl64.Vec3 `json:"velocity"`
	Time     int64      `json:"time"`
}

// ShotEffect is a broadcast-only weapon visual.
type ShotEffect struct {
	ID           uint64     `json:"id"`
	OriginAreaID uint64     `json:"origin_area_id"`
	TargetAreaID uint64     `json:"target_area_id"`
	WeaponType   string     `json:"weapon_type"`
	AmmoType     string     `json:"ammo_type"`
	OriginLocal  mgl64.Vec3 `json:"origin_local"`
	OriginWorld  mgl64.Vec3 `json:"origin_world"`
	ImpactLocal  mgl64.Vec3 `json:"impact_local"`
	ImpactWorld  mgl64.Vec3 `json:"impact_world"`
}

// ChatMessage is a chat-style notification.
type ChatMessage struct {
	From    uint64 `json:"from"`
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// ChannelHelp is the chat channel used for character notifications.
const ChannelHelp = "help"

// InjectScript asks a client to run a scripted behavior.
type InjectScript struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// EventInjectJS is the HUD event name clients execute scripts for.
const EventInjectJS = "modinjectjs"

// ModName is the name clients address actions to.
const ModName = "Patrol"

// CheckScript installs window.check on the target's client. The function
// raycasts from the player's eye toward the avatar and reports whether the
// avatar itself was hit.
var CheckScript = `window.check = function(aid, token) {
  var ai = JSON.parse(CPPMod.avatarInfo(aid));
  var pi = JSON.parse(CPPMod.playerInfo());
  var s = [pi.worldTransform[9], pi.worldTransform[10], pi.worldTransform[11] + 1.0];
  var d = [ai.worldPosition[0], ai.worldPosition[1], ai.worldPosition[2] + 1.0];
  var r = [d[0]-s[0], d[1]-s[1], d[2]-s[2]];
  var len = Math.sqrt(r[0]*r[0] + r[1]*r[1] + r[2]*r[2]);
  var start = [s[0]+r[0]*0.5/len, s[1]+r[1]*0.5/len, s[2]+r[2]*0.5/len];
  var end = [d[0]+r[0]/len, d[1]+r[1]/len, d[2]+r[2]/len];
  var ray = JSON.parse(CPPMod.anyRay(start, end, 255));
  CPPMod.sendModAction("` + ModName + `", 3, [0, 0, aid], JSON.stringify({token: token, visible: ray.playerId == aid}));
};`

// CheckCall is the script that triggers one visibility sample.
func CheckCall(subjectID uint64, token string) string {
	return fmt.Sprintf("window.check(%d, %q);", subjectID, token)
}

// ShotRaycastScript asks a client to raycast and report it as a shot.
var ShotRaycastScript = `CPPMod.sendModAction("` + ModName + `", 1001, [], CPPMod.raycast());`
