package utils

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// HWID identifies this machine to the server without exposing the raw machine id.
var HWID = deviceID()

func deviceID() string {
	id, err := machineid.ProtectedID("static-file-host")
	if err != nil || id == "" {
		return uuid.NewString()
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}
