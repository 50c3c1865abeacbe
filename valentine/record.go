/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package valentine holds the lifecycle of a shared valentine card: the record
// itself, who may see and answer it, and how updates reach every open viewer.
//
// A record moves through three states and never goes back:
//
//	sent -> opened -> complete
//
// The sender is fixed at creation. The first visitor who is not the sender
// claims the receiver seat; everyone else is a stranger.
package valentine

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength = 30
	MaxNoteLength = 100
)

type Status string

const (
	StatusSent     Status = "sent"
	StatusOpened   Status = "opened"
	StatusComplete Status = "complete"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusOpened:
		return 2
	case StatusComplete:
		return 3
	default:
		return 0
	}
}

func (s Status) Valid() bool {
	return s.rank() > 0
}

// Before reports whether s comes strictly earlier in the lifecycle than other.
func (s Status) Before(other Status) bool {
	return s.rank() < other.rank()
}

type Choice string

const (
	Yes Choice = "YES"
	No  Choice = "NO"
)

func ParseChoice(s string) (Choice, error) {
	switch Choice(strings.ToUpper(strings.TrimSpace(s))) {
	case Yes:
		return Yes, nil
	case No:
		return No, nil
	}
	return "", &ValidationError{Field: "choice", Reason: fmt.Sprintf("must be %q or %q", Yes, No)}
}

// Character selects the pixel pairing drawn on the card.
type Character string

const (
	Otter   Character = "otter"
	Penguin Character = "penguin"
	Lobster Character = "lobster"
	Alpaca  Character = "alpaca"
	Dino    Character = "dino"
	Panda   Character = "panda"
)

var characters = []Character{Otter, Penguin, Lobster, Alpaca, Dino, Panda}

func Characters() []Character {
	out := make([]Character, len(characters))
	copy(out, characters)
	return out
}

// ParseCharacter accepts the singular name or the plural pairing name
// ("otters"), in any case.
func ParseCharacter(s string) (Character, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range characters {
		if name == string(c) || name == string(c)+"s" {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "character_type", Reason: "unknown character"}
}

// Record is the single persisted valentine. Nil pointers are unset columns.
type Record struct {
	ID                string     `json:"id"`
	SenderName        string     `json:"sender_name"`
	ReceiverName      string     `json:"receiver_name"`
	SenderVisitorID   string     `json:"sender_visitor_id"`
	ReceiverVisitorID *string    `json:"receiver_visitor_id"`
	CharacterType     Character  `json:"character_type"`
	LoveNote          *string    `json:"love_note"`
	SenderChoice      Choice     `json:"sender_choice"`
	ReceiverChoice    *Choice    `json:"receiver_choice"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	OpenedAt          *time.Time `json:"opened_at"`
	CompletedAt       *time.Time `json:"completed_at"`
}

// Clone returns a deep copy, so snapshots handed to subscribers never share
// memory with the store.
func (r Record) Clone() Record {
	out := r
	out.ReceiverVisitorID = clonePtr(r.ReceiverVisitorID)
	out.LoveNote = clonePtr(r.LoveNote)
	out.ReceiverChoice = clonePtr(r.ReceiverChoice)
	out.OpenedAt = clonePtr(r.OpenedAt)
	out.CompletedAt = clonePtr(r.CompletedAt)
	return out
}

func (r Record) Claimed() bool {
	return r.ReceiverVisitorID != nil
}

func (r Record) Decided() bool {
	return r.ReceiverChoice != nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Draft is what a sender submits to create a card.
type Draft struct {
	SenderName   string
	ReceiverName string
	Character    string
	LoveNote     string
}

// Record validates the draft and builds a fresh record in the sent state.
func (d Draft) Record(id, senderVisitorID string, createdAt time.Time) (Record, error) {
	sender, err := checkText("sender_name", d.SenderName, MaxNameLength, true)
	if err != nil {
		return Record{}, err
	}
	receiver, err := checkText("receiver_name", d.ReceiverName, MaxNameLength, true)
	if err != nil {
		return Record{}, err
	}
	character, err := ParseCharacter(d.Character)
	if err != nil {
		return Record{}, err
	}
	note, err := checkText("love_note", d.LoveNote, MaxNoteLength, false)
	if err != nil {
		return Record{}, err
	}
	if senderVisitorID == "" {
		return Record{}, &ValidationError{Field: "sender_visitor_id", Reason: "required"}
	}

	rec := Record{
		ID:              id,
		SenderName:      sender,
		ReceiverName:    receiver,
		SenderVisitorID: senderVisitorID,
		CharacterType:   character,
		SenderChoice:    Yes,
		Status:          StatusSent,
		CreatedAt:       createdAt,
	}
	if note != "" {
		rec.LoveNote = &note
	}
	return rec, nil
}

func checkText(field, value string, limit int, required bool) (string, error) {
	value = strings.TrimSpace(value)
	if required && value == "" {
		return "", &ValidationError{Field: field, Reason: "required"}
	}
	if n := utf8.RuneCountInString(value); n > limit {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("at most %d characters (got %d)", limit, n)}
	}
	return value, nil
}
