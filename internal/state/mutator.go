package state

// Mutator applies engagement side effects to invocation records.
//
// Counting and timestamping are separate steps on purpose: the orchestrator
// counts an event before its criteria run and stamps it afterwards, so criteria
// that reference the event's own last_invoked_at observe the previous firing.
type Mutator struct {
	now Clock
}

// NewMutator creates a Mutator. A nil clock defaults to SystemClock.
func NewMutator(clock Clock) Mutator {
	if clock == nil {
		clock = SystemClock
	}
	return Mutator{now: clock}
}

// Count increments the three invoke counters of key, creating a zeroed record
// on first use. last_invoked_at is left untouched.
func (m Mutator) Count(records Records, key string) *Record {
	rec := m.record(records, key)
	rec.Invokes.Total++
	rec.Invokes.Version++
	rec.Invokes.Build++
	return rec
}

// Stamp sets last_invoked_at of key to now, creating the record if needed.
func (m Mutator) Stamp(records Records, key string) *Record {
	rec := m.record(records, key)
	now := m.now()
	rec.LastInvokedAt = &now
	return rec
}

// Bump counts and stamps key in one step.
func (m Mutator) Bump(records Records, key string) *Record {
	m.Count(records, key)
	return m.Stamp(records, key)
}

// AugmentSurveySubmission records a survey submission. The survey gets a new
// last_submission_at; every answered question is bumped, its answers appended
// to the persistent history and current_answer replaced by this submission.
func (m Mutator) AugmentSurveySubmission(records Records, surveyID string, answers map[string][]AnswerEntry) {
	survey := m.record(records, surveyID)
	now := m.now()
	survey.LastSubmissionAt = &now

	for questionID, entries := range answers {
		question := m.Bump(records, questionID)
		question.Answers = append(question.Answers, cloneAnswers(entries)...)
		question.CurrentAnswer = cloneAnswers(entries)
		if question.CurrentAnswer == nil {
			question.CurrentAnswer = []AnswerEntry{}
		}
	}
}

// AugmentNoteAction records a note button press. The history grows on every
// press; nothing trims it.
func (m Mutator) AugmentNoteAction(records Records, noteID string, action *NoteAction) {
	note := m.record(records, noteID)
	now := m.now()
	note.LastSubmissionAt = &now

	if action == nil || action.ID == "" {
		return
	}
	label := ""
	if action.Label != nil {
		label = *action.Label
	}
	note.Answers = append(note.Answers, NewAnswer(action.ID, label))
}

func (m Mutator) record(records Records, key string) *Record {
	rec, ok := records[key]
	if !ok || rec == nil {
		rec = &Record{}
		records[key] = rec
	}
	return rec
}
