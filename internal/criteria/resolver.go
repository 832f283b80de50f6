package criteria

import (
	"encoding/json"
	"time"

	"github.com/rafaeljc/engage/internal/state"
)

// resolve returns the value addressed by path, or the default for that path
// when any segment is missing. It never fails.
func (e *Evaluator) resolve(path Path, ctx *Context) any {
	if ctx.Override != nil {
		if root, ok := ctx.Override[path.Segments[0]]; ok {
			return e.traverse(path, root, 1, ctx)
		}
	}

	switch path.Root {
	case RootCodePoint:
		return e.resolveRecord(path, ctx.State.CodePoints, ctx)
	case RootInteractions:
		return e.resolveRecord(path, ctx.State.InteractionCounts, ctx)
	case RootRandom:
		// Buckets are created on first lookup, so the cache and the default agree.
		return e.defaultValue(path, ctx)
	case RootDevice:
		return e.traverse(path, ctx.State.Device, 1, ctx)
	case RootPerson:
		return e.traverse(path, ctx.State.Person, 1, ctx)
	case RootApplication:
		return e.traverse(path, ctx.Application, 1, ctx)
	case RootTimeAtInstall:
		return e.traverse(path, ctx.TimeAtInstall, 1, ctx)
	case RootIsUpdate:
		return e.traverse(path, ctx.IsUpdate, 1, ctx)
	default:
		return e.defaultValue(path, ctx)
	}
}

// traverse descends a loosely typed bag one segment at a time, starting at
// segment index from.
func (e *Evaluator) traverse(path Path, node any, from int, ctx *Context) any {
	for _, seg := range path.Segments[from:] {
		m, ok := node.(map[string]any)
		if !ok {
			return e.defaultValue(path, ctx)
		}
		if node, ok = m[seg]; !ok {
			return e.defaultValue(path, ctx)
		}
	}
	if node == nil {
		return e.defaultValue(path, ctx)
	}
	return normalize(node)
}

// resolveRecord resolves code_point/<label>/... and interactions/<id>/...
// Timestamps and answer histories end traversal: whatever follows them in the
// path is interpreted by the conditional test, not by the resolver.
func (e *Evaluator) resolveRecord(path Path, records state.Records, ctx *Context) any {
	seg := path.Segments
	if len(seg) < 3 {
		return e.defaultValue(path, ctx)
	}
	rec, ok := records[seg[1]]
	if !ok || rec == nil {
		return e.defaultValue(path, ctx)
	}

	switch seg[2] {
	case segLastInvokedAt:
		return timeValue(rec.LastInvokedAt)
	case segLastSubmissionAt:
		return timeValue(rec.LastSubmissionAt)
	case segAnswers:
		return answersValue(rec.Answers)
	case segCurrentAnswer:
		return answersValue(rec.CurrentAnswer)
	case segInvokes:
		if len(seg) != 4 {
			return e.defaultValue(path, ctx)
		}
		switch seg[3] {
		case "total":
			return float64(rec.Invokes.Total)
		case "version":
			return float64(rec.Invokes.Version)
		case "build":
			return float64(rec.Invokes.Build)
		}
	}
	return e.defaultValue(path, ctx)
}

// KeylessBucket is the random map key holding the latest bare random/percent
// draw. It is overwritten on every draw and never read back.
const KeylessBucket = ""

func (e *Evaluator) bucket(name string, ctx *Context) float64 {
	if v, ok := ctx.State.Random[name]; ok {
		return v
	}
	return e.storeDraw(name, ctx)
}

func (e *Evaluator) storeDraw(name string, ctx *Context) float64 {
	v := e.drawBucket()
	if ctx.State.Random == nil {
		ctx.State.Random = map[string]float64{}
	}
	ctx.State.Random[name] = v
	return v
}

// defaultValue is what a path resolves to when the data is absent.
// Defaults are permissive: counters are zero, is_update is false, and anything
// unknown is nil, which only $exists:false can match.
func (e *Evaluator) defaultValue(path Path, ctx *Context) any {
	seg := path.Segments
	switch path.Root {
	case RootRandom:
		// random/percent has no name: it is drawn afresh every time and only
		// the latest draw is kept.
		if len(seg) == 2 && seg[1] == segPercent {
			return e.storeDraw(KeylessBucket, ctx)
		}
		if len(seg) == 2 || (len(seg) == 3 && seg[2] == segPercent) {
			return e.bucket(seg[1], ctx)
		}
	case RootCodePoint, RootInteractions:
		if len(seg) == 4 && seg[2] == segInvokes {
			return float64(0)
		}
	case RootCurrentTime:
		if len(seg) == 1 {
			return e.now()
		}
	case RootIsUpdate:
		if len(seg) == 2 && (seg[1] == "version" || seg[1] == "build") {
			return false
		}
	}
	return nil
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func answersValue(answers []state.AnswerEntry) any {
	if answers == nil {
		return nil
	}
	return answers
}

// normalize converts bag values into the types the comparator understands:
// float64 for every number, time.Time for datetime tags, Version for version tags.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case map[string]any:
		switch t[tagKey] {
		case tagDateTime:
			if sec, ok := toFloat(t["sec"]); ok {
				return epochToTime(sec)
			}
		case tagVersion:
			if s, ok := t["version"].(string); ok {
				return Version(s)
			}
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = normalize(el)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = el
		}
		return out
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	f, ok := normalize(v).(float64)
	return f, ok
}
