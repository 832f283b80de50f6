package criteria

import "strings"

// Root identifies which part of the state a key path addresses.
type Root int

const (
	RootOther Root = iota
	RootCodePoint
	RootInteractions
	RootRandom
	RootDevice
	RootPerson
	RootApplication
	RootTimeAtInstall
	RootIsUpdate
	RootCurrentTime
)

var rootNames = map[string]Root{
	"code_point":      RootCodePoint,
	"interactions":    RootInteractions,
	"random":          RootRandom,
	"device":          RootDevice,
	"person":          RootPerson,
	"application":     RootApplication,
	"time_at_install": RootTimeAtInstall,
	"is_update":       RootIsUpdate,
	"current_time":    RootCurrentTime,
}

// Segment names with special meaning during traversal.
const (
	segInvokes          = "invokes"
	segLastInvokedAt    = "last_invoked_at"
	segLastSubmissionAt = "last_submission_at"
	segAnswers          = "answers"
	segCurrentAnswer    = "current_answer"
	segPercent          = "percent"
	segValue            = "value"
	segID               = "id"
)

// Path is a parsed key path such as "interactions/abc/invokes/total".
// Segments include the root segment.
type Path struct {
	Root     Root
	Segments []string
}

// ParsePath splits raw on "/" and trims every segment.
func ParsePath(raw string) Path {
	segments := strings.Split(raw, "/")
	for i := range segments {
		segments[i] = strings.TrimSpace(segments[i])
	}
	return Path{
		Root:     rootNames[segments[0]],
		Segments: segments,
	}
}

// String re-joins the trimmed segments.
func (p Path) String() string {
	return strings.Join(p.Segments, "/")
}

// endsWith reports whether the last segments of p equal tail.
func (p Path) endsWith(tail ...string) bool {
	if len(p.Segments) < len(tail) {
		return false
	}
	offset := len(p.Segments) - len(tail)
	for i, s := range tail {
		if p.Segments[offset+i] != s {
			return false
		}
	}
	return true
}

// isAnswerValues matches ".../answers/value" and ".../current_answer/value".
func (p Path) isAnswerValues() bool {
	return p.endsWith(segAnswers, segValue) || p.endsWith(segCurrentAnswer, segValue)
}

// isAnswerIDs matches ".../answers/id" and ".../current_answer/id".
func (p Path) isAnswerIDs() bool {
	return p.endsWith(segAnswers, segID) || p.endsWith(segCurrentAnswer, segID)
}
