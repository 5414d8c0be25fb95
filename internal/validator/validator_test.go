package validator

import (
	"testing"
)

func TestValidator_SessionStart(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		req     SessionStartRequest
		wantErr bool
	}{
		{name: "valid fall", req: SessionStartRequest{SubjectID: "math", Period: "fall", Year: 2026}},
		{name: "valid winter", req: SessionStartRequest{SubjectID: "reading", Period: "winter", Year: 2025}},
		{name: "missing subject", req: SessionStartRequest{Period: "fall", Year: 2026}, wantErr: true},
		{name: "summer is not a window", req: SessionStartRequest{SubjectID: "math", Period: "summer", Year: 2026}, wantErr: true},
		{name: "year out of bounds", req: SessionStartRequest{SubjectID: "math", Period: "fall", Year: 1999}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateSessionStart(&tt.req)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("errors = %v, wantErr = %v", errs, tt.wantErr)
			}
		})
	}
}

func TestValidator_SubmitAnswer(t *testing.T) {
	v := New()

	if errs := v.ValidateSubmitAnswer(&SubmitAnswerRequest{QuestionID: 1, SelectedOption: 0}); len(errs) > 0 {
		t.Errorf("valid request rejected: %v", errs)
	}
	if errs := v.ValidateSubmitAnswer(&SubmitAnswerRequest{QuestionID: 1, SelectedOption: -1}); len(errs) == 0 {
		t.Error("negative option accepted")
	}
	if errs := v.ValidateSubmitAnswer(&SubmitAnswerRequest{SelectedOption: 0}); len(errs) == 0 {
		t.Error("missing question id accepted")
	}
}

func TestValidator_QuestionCreate(t *testing.T) {
	v := New()

	valid := func() *QuestionCreateRequest {
		return &QuestionCreateRequest{
			SubjectID:     "math",
			Text:          "What is 2 + 2?",
			Options:       []string{"3", "4"},
			CorrectOption: 1,
			Difficulty:    5,
		}
	}

	if errs := v.ValidateQuestionCreate(valid()); len(errs) > 0 {
		t.Fatalf("valid request rejected: %v", errs)
	}

	tests := []struct {
		name   string
		mutate func(*QuestionCreateRequest)
		field  string
	}{
		{name: "correct option past the options", mutate: func(r *QuestionCreateRequest) { r.CorrectOption = 2 }, field: "correct_option"},
		{name: "blank option text", mutate: func(r *QuestionCreateRequest) { r.Options = []string{"3", "  "} }, field: "options[1]"},
		{name: "difficulty off the band", mutate: func(r *QuestionCreateRequest) { r.Difficulty = 0 }, field: "difficulty"},
		{name: "blank competency tag", mutate: func(r *QuestionCreateRequest) { r.CompetencyTags = []string{""} }, field: "competency_tags[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			errs := v.ValidateQuestionCreate(req)
			if len(errs) == 0 {
				t.Fatal("expected validation error")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %v, want one on field %q", errs, tt.field)
			}
		})
	}
}

func TestValidator_ConfigUpsert(t *testing.T) {
	v := New()

	valid := ConfigUpsertRequest{
		SubjectID:            "math",
		GradeLevel:           5,
		MaxQuestions:         20,
		DifficultyMin:        1,
		DifficultyMax:        10,
		ConvergenceThreshold: 0.05,
		ConvergenceWindow:    4,
	}
	if errs := v.Validate(&valid); len(errs) > 0 {
		t.Fatalf("valid request rejected: %v", errs)
	}

	tooFew := valid
	tooFew.MaxQuestions = 2
	if errs := v.Validate(&tooFew); len(errs) == 0 {
		t.Error("max_questions below floor accepted")
	}

	badWindow := valid
	badWindow.ConvergenceWindow = 1
	if errs := v.Validate(&badWindow); len(errs) == 0 {
		t.Error("convergence window of 1 accepted")
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "subject_id", Message: "is required"},
		{Field: "year", Message: "must be a valid school year"},
	}
	want := "subject_id: is required; year: must be a valid school year"
	if got := errs.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty errors should render empty")
	}
}
