package order

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal offer status transition")

type transition struct {
	from Status
	to   Status
}

// 合法的状态转换；CANCELLED、TAKEN 与 EXPIRED 为终态。
var legalTransitions = map[transition]bool{
	{StatusOpen, StatusCancelled}: true,
	{StatusOpen, StatusTaken}:     true,
	{StatusOpen, StatusExpired}:   true,
}

// ValidateTransition 验证状态转换是否合法，相同状态视为幂等。
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !legalTransitions[transition{from, to}] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsFinal reports whether no further transition is possible from s.
func IsFinal(s Status) bool {
	for t := range legalTransitions {
		if t.from == s {
			return false
		}
	}
	return true
}
