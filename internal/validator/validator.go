package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	messages := make([]string, len(ve))
	for i, err := range ve {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return strings.Join(messages, "; ")
}

// Validator wraps struct validation plus the engine's business rules.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	validate := validator.New()

	v := &Validator{validate: validate}
	v.registerRules()

	return v
}

// Validate runs struct tag validation on any request struct.
func (v *Validator) Validate(s interface{}) ValidationErrors {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return ValidationErrors{{Field: "request", Message: err.Error(), Rule: "struct"}}
	}

	var out ValidationErrors
	for _, fe := range fieldErrors {
		out = append(out, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: v.messageFor(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

// ValidateQuestionCreate runs tag validation plus the cross-field rules
// tags can't express: the correct option must index into the options.
func (v *Validator) ValidateQuestionCreate(req *QuestionCreateRequest) ValidationErrors {
	errors := v.Validate(req)

	if req.CorrectOption < 0 || req.CorrectOption >= len(req.Options) {
		errors = append(errors, ValidationError{
			Field:   "correct_option",
			Message: fmt.Sprintf("must index one of the %d options", len(req.Options)),
			Value:   req.CorrectOption,
			Rule:    "option_index",
		})
	}

	for i, opt := range req.Options {
		if strings.TrimSpace(opt) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("options[%d]", i),
				Message: "option cannot be empty",
				Value:   opt,
				Rule:    "option_text",
			})
		}
	}

	for i, tag := range req.CompetencyTags {
		if strings.TrimSpace(tag) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("competency_tags[%d]", i),
				Message: "tag cannot be empty",
				Value:   tag,
				Rule:    "tag_text",
			})
		}
	}

	return errors
}

// ValidateSessionStart checks the start request.
func (v *Validator) ValidateSessionStart(req *SessionStartRequest) ValidationErrors {
	return v.Validate(req)
}

// ValidateSubmitAnswer checks the answer request.
func (v *Validator) ValidateSubmitAnswer(req *SubmitAnswerRequest) ValidationErrors {
	return v.Validate(req)
}

func (v *Validator) registerRules() {
	// Question difficulty on the engine's integer scale
	v.validate.RegisterValidation("difficulty_band", func(fl validator.FieldLevel) bool {
		d := fl.Field().Int()
		return d >= 1 && d <= 10
	})

	// Assessment period within the school year
	v.validate.RegisterValidation("assessment_period", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "fall", "winter", "spring":
			return true
		}
		return false
	})

	// School year sanity bounds
	v.validate.RegisterValidation("school_year", func(fl validator.FieldLevel) bool {
		y := fl.Field().Int()
		return y >= 2000 && y <= 2100
	})
}

func (v *Validator) messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s items or characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s items or characters", fe.Param())
	case "difficulty_band":
		return "must be between 1 and 10"
	case "assessment_period":
		return "must be one of fall, winter, spring"
	case "school_year":
		return "must be a valid school year"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
