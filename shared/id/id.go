// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

// MeetingLength keeps meeting IDs short enough to embed in container names
// and session keys (meet-<id>).
const MeetingLength = 8

const (
	PrefixSession = "sess"
	PrefixRun     = "run"
	PrefixDevice  = "dev"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewSession() string { return New(PrefixSession) }
func NewRun() string     { return New(PrefixRun) }
func NewDevice() string  { return New(PrefixDevice) }

// NewMeeting returns a short bare identifier with no prefix; the orchestrator
// derives both the container name and the meet-<id> session key from it.
func NewMeeting() string {
	id, err := nanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", MeetingLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return id
}
