package pipeline

import (
	"fmt"
	"strings"

	apperrors "github.com/kbukum/stagekit/errors"
)

// PolicyKind selects how a stage schedules its transformations.
type PolicyKind int

const (
	// KindSerial runs one transformation at a time.
	KindSerial PolicyKind = iota
	// KindOrdered runs up to n transformations and emits in admission order.
	KindOrdered
	// KindUnordered runs up to n transformations and emits as each completes.
	KindUnordered
)

func (k PolicyKind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindOrdered:
		return "ordered"
	case KindUnordered:
		return "unordered"
	default:
		return "unknown"
	}
}

// Policy is a stage's concurrency policy. The zero value is Serial.
type Policy struct {
	kind PolicyKind
	n    int
}

// Serial processes items strictly one after another.
func Serial() Policy {
	return Policy{kind: KindSerial, n: 1}
}

// Ordered allows up to n transformations in flight and emits results in the
// order items were admitted. A slow early item holds back later results that
// have already finished; the stage admits a new item only once the earliest
// one has been emitted.
func Ordered(n int) Policy {
	return Policy{kind: KindOrdered, n: n}
}

// Unordered allows up to n transformations in flight and emits each result
// as soon as it is ready. Unordered(1) preserves input order.
func Unordered(n int) Policy {
	return Policy{kind: KindUnordered, n: n}
}

// ParsePolicy builds a policy from its configuration name.
func ParsePolicy(name string, n int) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "serial":
		return Serial(), nil
	case "ordered":
		return Ordered(n), nil
	case "unordered":
		return Unordered(n), nil
	default:
		return Policy{}, apperrors.InvalidConfig("policy", fmt.Sprintf("unknown policy %q", name))
	}
}

// Kind returns the scheduling kind.
func (p Policy) Kind() PolicyKind { return p.kind }

// Concurrency returns the in-flight bound n.
func (p Policy) Concurrency() int {
	if p.kind == KindSerial {
		return 1
	}
	return p.n
}

func (p Policy) String() string {
	if p.kind == KindSerial {
		return "serial"
	}
	return fmt.Sprintf("%s(%d)", p.kind, p.n)
}

func (p Policy) validate() error {
	if p.kind != KindSerial && p.n < 1 {
		return apperrors.InvalidConfig("concurrency", fmt.Sprintf("%s needs concurrency >= 1, got %d", p.kind, p.n))
	}
	return nil
}
