package validator

// SessionStartRequest starts an adaptive session for the authenticated
// student.
type SessionStartRequest struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Period    string `json:"period" validate:"required,assessment_period"`
	Year      int    `json:"year" validate:"required,school_year"`
}

// SubmitAnswerRequest answers the currently pending question.
type SubmitAnswerRequest struct {
	QuestionID     uint `json:"question_id" validate:"required"`
	SelectedOption int  `json:"selected_option" validate:"gte=0"`
}

// QuestionCreateRequest adds a question to the bank.
type QuestionCreateRequest struct {
	SubjectID      string   `json:"subject_id" validate:"required"`
	Text           string   `json:"text" validate:"required,min=1,max=2000"`
	Options        []string `json:"options" validate:"required,min=2,max=8"`
	CorrectOption  int      `json:"correct_option" validate:"gte=0"`
	Difficulty     int      `json:"difficulty" validate:"required,difficulty_band"`
	CompetencyTags []string `json:"competency_tags" validate:"omitempty,max=10,dive,max=100"`
}

// QuestionUpdateRequest edits a question not yet used by any active
// session. Nil fields are left unchanged.
type QuestionUpdateRequest struct {
	Text           *string  `json:"text" validate:"omitempty,min=1,max=2000"`
	Options        []string `json:"options" validate:"omitempty,min=2,max=8"`
	CorrectOption  *int     `json:"correct_option" validate:"omitempty,gte=0"`
	Difficulty     *int     `json:"difficulty" validate:"omitempty,difficulty_band"`
	CompetencyTags []string `json:"competency_tags" validate:"omitempty,max=10,dive,max=100"`
}

// ConfigUpsertRequest sets engine parameters for a subject and grade.
type ConfigUpsertRequest struct {
	SubjectID            string  `json:"subject_id" validate:"required"`
	GradeLevel           int     `json:"grade_level" validate:"gte=0,lte=12"`
	MaxQuestions         int     `json:"max_questions" validate:"required,gte=5,lte=100"`
	DifficultyMin        int     `json:"difficulty_min" validate:"required,difficulty_band"`
	DifficultyMax        int     `json:"difficulty_max" validate:"required,difficulty_band"`
	ConvergenceThreshold float64 `json:"convergence_threshold" validate:"gt=0,lt=1"`
	ConvergenceWindow    int     `json:"convergence_window" validate:"gte=2,lte=10"`
}
