/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
	RoleStranger Role = "stranger"

	// RoleUnclaimed is never shown to a viewer. It marks a visitor who would
	// become the receiver by claiming the record.
	RoleUnclaimed Role = "unclaimed"
)

// ResolveRole is the read side of role resolution and has no side effects.
func ResolveRole(rec Record, visitorID string) Role {
	switch {
	case visitorID != "" && rec.SenderVisitorID == visitorID:
		return RoleSender
	case rec.ReceiverVisitorID == nil:
		return RoleUnclaimed
	case *rec.ReceiverVisitorID == visitorID:
		return RoleReceiver
	default:
		return RoleStranger
	}
}

// ClaimOutcome decides a claim against the current row once a conditional
// "claim if still unclaimed" write did not apply. held is true when
// visitorID already owns the receiver seat.
func ClaimOutcome(rec Record, visitorID string) (held bool, err error) {
	switch ResolveRole(rec, visitorID) {
	case RoleReceiver:
		return true, nil
	case RoleSender:
		return false, ErrNotReceiver
	case RoleUnclaimed:
		return false, nil
	default:
		return false, ErrClaimConflict
	}
}

// ChoiceOutcome decides an answer against the current row once a
// conditional "answer if still undecided" write did not apply. same is true
// when the stored answer already equals choice.
func ChoiceOutcome(rec Record, visitorID string, choice Choice) (same bool, err error) {
	switch ResolveRole(rec, visitorID) {
	case RoleSender, RoleStranger:
		return false, ErrNotReceiver
	}

	if rec.ReceiverChoice == nil {
		return false, nil
	}
	if *rec.ReceiverChoice == choice {
		return true, nil
	}
	return false, ErrAlreadyDecided
}
