package server

import (
	"errors"
	"math/rand/v2"
	"strings"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// maxCodeAttempts bounds the collision retry loop; with 36^6 codes it is only
	// reached when the live set is absurdly large.
	maxCodeAttempts = 1000
)

var ErrRoomCodesExhausted = errors.New("could not allocate a unique room code")

// GenerateRoomCode draws random codes until one is not taken.
func GenerateRoomCode(taken func(code string) bool) (string, error) {
	for range maxCodeAttempts {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
		}
		roomCode := string(code)

		if !taken(roomCode) {
			return roomCode, nil
		}
	}
	return "", ErrRoomCodesExhausted
}

func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return errors.New("Room code must be exactly 6 characters")
	}

	code = strings.ToUpper(code)
	for _, ch := range code {
		if !strings.ContainsRune(roomCodeAlphabet, ch) {
			return errors.New("Room code must contain only letters A-Z and digits 0-9")
		}
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
