package bluez

import "strings"

// Class of Device values (major and minor bits, service bits masked off).
const (
	classMask            = 0x1ffc
	classWearableHeadset = 0x0404
	classHandsFree       = 0x0408
	classHeadphones      = 0x0418
	classCarAudio        = 0x0420
	classUncategorized   = 0x1f00
)

// Profile UUIDs that carry an SCO voice link.
var voiceProfiles = []string{
	"0000111e-0000-1000-8000-00805f9b34fb", // Handsfree
	"0000111f-0000-1000-8000-00805f9b34fb", // Handsfree Audio Gateway
	"00001108-0000-1000-8000-00805f9b34fb", // Headset
	"00001112-0000-1000-8000-00805f9b34fb", // Headset Audio Gateway
}

func isVoiceProfile(uuid string) bool {
	uuid = strings.ToLower(uuid)
	for _, p := range voiceProfiles {
		if uuid == p {
			return true
		}
	}
	return false
}

// isHeadsetClass matches the device classes that can route call audio.
func isHeadsetClass(class uint32) bool {
	switch class & classMask {
	case classWearableHeadset, classHandsFree, classHeadphones, classCarAudio, classUncategorized:
		return true
	}
	return false
}

// isHeadset decides whether a device should feed the state machine. LE
// devices report no class, so a voice profile UUID is enough.
func isHeadset(class uint32, hasClass bool, uuids []string) bool {
	if hasClass && isHeadsetClass(class) {
		return true
	}
	for _, u := range uuids {
		if isVoiceProfile(u) {
			return true
		}
	}
	return false
}
