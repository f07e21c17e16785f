// Package codec turns log commands into self-delimiting frames and back.
package codec

import "fmt"

// Kind identifies the variant of a Command. The set of kinds is closed.
type Kind byte

const (
	// KindSet associates a value with a key.
	KindSet Kind = 1
	// KindRemove is a tombstone masking earlier Sets of a key.
	KindRemove Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindRemove:
		return "REMOVE"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// Command is a single immutable entry in the log.
// Value is only meaningful for KindSet.
type Command struct {
	Kind  Kind
	Key   string
	Value string
}

// Set builds a Set command.
func Set(key, value string) Command {
	return Command{Kind: KindSet, Key: key, Value: value}
}

// Remove builds a Remove command.
func Remove(key string) Command {
	return Command{Kind: KindRemove, Key: key}
}

func (c Command) String() string {
	switch c.Kind {
	case KindSet:
		return fmt.Sprintf("SET %q=%q", c.Key, c.Value)
	case KindRemove:
		return fmt.Sprintf("REMOVE %q", c.Key)
	default:
		return fmt.Sprintf("%s %q", c.Kind, c.Key)
	}
}
