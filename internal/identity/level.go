package identity

import (
	"errors"
	"fmt"

	"github.com/dshills/lumen/internal/fault"
)

// Level bounds.
const (
	MinLevel = 0
	MaxLevel = 8

	// PrivilegedThreshold is the lowest executor-level identity.
	PrivilegedThreshold = 2
)

// Named levels.
const (
	LevelAnonymous = 0
	LevelGame      = 1
	LevelExecutor  = 2
	LevelPlugin    = 3
	LevelCommand   = 4
	LevelService   = 5
	LevelSystem    = 6
	LevelElevated  = 7
	LevelRoot      = 8
)

// ErrOutOfRange is returned when a level is outside [MinLevel, MaxLevel].
// It is classified as fault.KindInvalidArgument.
var ErrOutOfRange = errors.New("identity out of range")

// LevelInfo describes a capability level.
type LevelInfo struct {
	// Level is the numeric identity.
	Level int

	// Name is a short identifier.
	Name string

	// Description explains what contexts at this level may do.
	Description string
}

var levelRegistry = [MaxLevel + 1]LevelInfo{
	{LevelAnonymous, "anonymous", "No privileges"},
	{LevelGame, "game", "Ordinary host scripts"},
	{LevelExecutor, "executor", "Executor scripts; may hook and introspect"},
	{LevelPlugin, "plugin", "Trusted plugin code"},
	{LevelCommand, "command", "Command bar"},
	{LevelService, "service", "Host services"},
	{LevelSystem, "system", "Host internals"},
	{LevelElevated, "elevated", "Elevated host internals"},
	{LevelRoot, "root", "Unrestricted"},
}

// ValidLevel returns true if level is in range.
func ValidLevel(level int) bool {
	return level >= MinLevel && level <= MaxLevel
}

// CheckLevel returns an InvalidArgument error if level is out of range.
func CheckLevel(op string, level int) error {
	if !ValidLevel(level) {
		return &fault.Error{
			Kind:    fault.KindInvalidArgument,
			Op:      op,
			Message: fmt.Sprintf("identity must be between %d and %d, got %d", MinLevel, MaxLevel, level),
			Err:     ErrOutOfRange,
		}
	}
	return nil
}

// Info returns metadata for a level.
func Info(level int) (LevelInfo, bool) {
	if !ValidLevel(level) {
		return LevelInfo{}, false
	}
	return levelRegistry[level], true
}

// Name returns the short name of a level.
func Name(level int) string {
	if info, ok := Info(level); ok {
		return info.Name
	}
	return fmt.Sprintf("level(%d)", level)
}
