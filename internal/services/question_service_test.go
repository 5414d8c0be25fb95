package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
	"github.com/edmetrics/assessment-engine/internal/validator"
)

func newQuestionFixture(t *testing.T) (*mockRepository, QuestionService) {
	t.Helper()
	repo := newMockRepository()
	return repo, NewQuestionService(repo, nil, testLogger(), validator.New())
}

func createRequest() *CreateQuestionRequest {
	return &CreateQuestionRequest{
		SubjectID:      "math",
		Text:           "What is 2 + 2?",
		Options:        []string{"3", "4", "5", "6"},
		CorrectOption:  1,
		Difficulty:     3,
		CompetencyTags: []string{"arithmetic", "number-sense"},
	}
}

func TestQuestionService_Create(t *testing.T) {
	_, svc := newQuestionFixture(t)

	resp, err := svc.Create(context.Background(), createRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if resp.ID == 0 || resp.Version != 1 {
		t.Errorf("created question id=%d version=%d, want nonzero id and version 1", resp.ID, resp.Version)
	}
	if !resp.CanEdit || !resp.CanDelete {
		t.Error("creator should be able to edit and delete")
	}

	obs := &models.Observation{CompetencyTags: resp.CompetencyTags}
	tags := obs.TagList()
	if len(tags) != 2 || tags[0] != "arithmetic" || tags[1] != "number-sense" {
		t.Errorf("stored tags = %v, want [arithmetic number-sense]", tags)
	}
}

func TestQuestionService_Create_Invalid(t *testing.T) {
	_, svc := newQuestionFixture(t)

	tests := []struct {
		name   string
		mutate func(*CreateQuestionRequest)
	}{
		{name: "missing text", mutate: func(r *CreateQuestionRequest) { r.Text = "" }},
		{name: "single option", mutate: func(r *CreateQuestionRequest) { r.Options = []string{"only"} }},
		{name: "difficulty out of band", mutate: func(r *CreateQuestionRequest) { r.Difficulty = 99 }},
		{name: "correct option out of range", mutate: func(r *CreateQuestionRequest) { r.CorrectOption = 4 }},
		{name: "blank tag", mutate: func(r *CreateQuestionRequest) { r.CompetencyTags = []string{"arithmetic", " "} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest()
			tt.mutate(req)
			if _, err := svc.Create(context.Background(), req, "teacher-1"); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestQuestionService_GetByID(t *testing.T) {
	_, svc := newQuestionFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := svc.GetByID(ctx, created.ID, "teacher-2")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if resp.CanEdit || resp.CanDelete {
		t.Error("non-creator should not see the question as editable")
	}

	if _, err := svc.GetByID(ctx, 9999, "teacher-1"); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("GetByID unknown = %v, want ErrQuestionNotFound", err)
	}
}

func TestQuestionService_Update(t *testing.T) {
	repo, svc := newQuestionFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	text := "What is 3 + 3?"
	updated, err := svc.Update(ctx, created.ID, &UpdateQuestionRequest{Text: &text}, "teacher-1")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Text != text {
		t.Errorf("text = %q, want %q", updated.Text, text)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2 after edit", updated.Version)
	}

	t.Run("non-creator rejected", func(t *testing.T) {
		_, err := svc.Update(ctx, created.ID, &UpdateQuestionRequest{Text: &text}, "teacher-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("update by non-creator = %v, want PermissionError", err)
		}
	})

	t.Run("correct option must index the new options", func(t *testing.T) {
		bad := 5
		_, err := svc.Update(ctx, created.ID, &UpdateQuestionRequest{CorrectOption: &bad}, "teacher-1")
		if !errors.Is(err, ErrInvalidAnswerIndex) {
			t.Errorf("update with bad index = %v, want ErrInvalidAnswerIndex", err)
		}
	})

	t.Run("rejected while an active session uses it", func(t *testing.T) {
		if err := repo.Session().Create(ctx, nil, &models.AssessmentSession{
			StudentID:         "student-1",
			SubjectID:         "math",
			Status:            models.SessionActive,
			PendingQuestionID: &created.ID,
			Version:           1,
			StartedAt:         time.Now(),
			LastActivityAt:    time.Now(),
		}); err != nil {
			t.Fatalf("seed session: %v", err)
		}
		if _, err := svc.Update(ctx, created.ID, &UpdateQuestionRequest{Text: &text}, "teacher-1"); !errors.Is(err, ErrQuestionInUse) {
			t.Errorf("update of in-use question = %v, want ErrQuestionInUse", err)
		}
		if err := svc.Delete(ctx, created.ID, "teacher-1"); !errors.Is(err, ErrQuestionInUse) {
			t.Errorf("delete of in-use question = %v, want ErrQuestionInUse", err)
		}
	})
}

func TestQuestionService_Delete(t *testing.T) {
	_, svc := newQuestionFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest(), "teacher-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var permErr *PermissionError
	if err := svc.Delete(ctx, created.ID, "teacher-2"); !errors.As(err, &permErr) {
		t.Errorf("delete by non-creator = %v, want PermissionError", err)
	}

	if err := svc.Delete(ctx, created.ID, "teacher-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.GetByID(ctx, created.ID, "teacher-1"); !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("GetByID after delete = %v, want ErrQuestionNotFound", err)
	}
}

func TestQuestionService_List(t *testing.T) {
	_, svc := newQuestionFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := createRequest()
		if i == 2 {
			req.SubjectID = "reading"
		}
		creator := "teacher-1"
		if i == 1 {
			creator = "teacher-2"
		}
		if _, err := svc.Create(ctx, req, creator); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	subject := "math"
	resp, err := svc.List(ctx, repositories.QuestionFilters{SubjectID: &subject}, "teacher-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Total != 2 || len(resp.Questions) != 2 {
		t.Fatalf("list = %d rows total %d, want 2 and 2", len(resp.Questions), resp.Total)
	}
	if !resp.Questions[0].CanEdit || resp.Questions[1].CanEdit {
		t.Error("edit flags should follow ownership")
	}
}
