package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&UserAuthentication{},
		&Book{},
		&Category{},
		&Problem{},
		&Submission{},
		&SubmissionStep{},
		&Concept{},
		&ConceptImage{},
		&ConceptQuiz{},
		&ConceptQuizBlank{},
		&ConceptQuizSubmission{},
		&NoteFolder{},
		&UserProblem{},
		&NoteContent{},
		&UserCategoryProgress{},
		&UserReport{},
		&UserScoreStat{},
		&UploadRecord{},
	}
}
