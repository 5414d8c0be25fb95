package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/edmetrics/assessment-engine/internal/models"
	"github.com/edmetrics/assessment-engine/internal/repositories"
)

// mockRepository is an in-memory Repository for service tests. Reads
// return copies so a service mutating a loaded row cannot bypass the
// version-checked update path.
type mockRepository struct {
	mu   sync.Mutex
	txMu sync.Mutex

	questions    map[uint]*models.Question
	sessions     map[uint]*models.AssessmentSession
	observations []*models.Observation
	assessments  map[uint]*models.Assessment
	competencies map[string]*models.CompetencyScore
	configs      map[string]*models.AssessmentConfig
	users        map[string]*models.User

	nextQuestionID    uint
	nextSessionID     uint
	nextObservationID uint
	nextAssessmentID  uint
	nextCompetencyID  uint
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		questions:    make(map[uint]*models.Question),
		sessions:     make(map[uint]*models.AssessmentSession),
		assessments:  make(map[uint]*models.Assessment),
		competencies: make(map[string]*models.CompetencyScore),
		configs:      make(map[string]*models.AssessmentConfig),
		users:        make(map[string]*models.User),
	}
}

func (m *mockRepository) Question() repositories.QuestionRepository   { return &mockQuestionRepo{m} }
func (m *mockRepository) Session() repositories.SessionRepository     { return &mockSessionRepo{m} }
func (m *mockRepository) Observation() repositories.ObservationRepository {
	return &mockObservationRepo{m}
}
func (m *mockRepository) Assessment() repositories.AssessmentRepository { return &mockAssessmentRepo{m} }
func (m *mockRepository) CompetencyScore() repositories.CompetencyScoreRepository {
	return &mockCompetencyRepo{m}
}
func (m *mockRepository) AssessmentConfig() repositories.AssessmentConfigRepository {
	return &mockConfigRepo{m}
}
func (m *mockRepository) User() repositories.UserRepository { return &mockUserRepo{m} }

// WithTransaction serializes transactions and restores the pre-fn
// state on error, matching the rollback the real store performs.
func (m *mockRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type mockSnapshot struct {
	questions    map[uint]*models.Question
	sessions     map[uint]*models.AssessmentSession
	observations []*models.Observation
	assessments  map[uint]*models.Assessment
	competencies map[string]*models.CompetencyScore
	configs      map[string]*models.AssessmentConfig

	nextQuestionID    uint
	nextSessionID     uint
	nextObservationID uint
	nextAssessmentID  uint
	nextCompetencyID  uint
}

func (m *mockRepository) snapshot() mockSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := mockSnapshot{
		questions:         make(map[uint]*models.Question, len(m.questions)),
		sessions:          make(map[uint]*models.AssessmentSession, len(m.sessions)),
		observations:      make([]*models.Observation, 0, len(m.observations)),
		assessments:       make(map[uint]*models.Assessment, len(m.assessments)),
		competencies:      make(map[string]*models.CompetencyScore, len(m.competencies)),
		configs:           make(map[string]*models.AssessmentConfig, len(m.configs)),
		nextQuestionID:    m.nextQuestionID,
		nextSessionID:     m.nextSessionID,
		nextObservationID: m.nextObservationID,
		nextAssessmentID:  m.nextAssessmentID,
		nextCompetencyID:  m.nextCompetencyID,
	}
	for id, q := range m.questions {
		c := *q
		snap.questions[id] = &c
	}
	for id, s := range m.sessions {
		c := *s
		snap.sessions[id] = &c
	}
	for _, obs := range m.observations {
		c := *obs
		snap.observations = append(snap.observations, &c)
	}
	for id, a := range m.assessments {
		c := *a
		snap.assessments[id] = &c
	}
	for key, s := range m.competencies {
		c := *s
		snap.competencies[key] = &c
	}
	for key, cfg := range m.configs {
		c := *cfg
		snap.configs[key] = &c
	}
	return snap
}

func (m *mockRepository) restore(snap mockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions = snap.questions
	m.sessions = snap.sessions
	m.observations = snap.observations
	m.assessments = snap.assessments
	m.competencies = snap.competencies
	m.configs = snap.configs
	m.nextQuestionID = snap.nextQuestionID
	m.nextSessionID = snap.nextSessionID
	m.nextObservationID = snap.nextObservationID
	m.nextAssessmentID = snap.nextAssessmentID
	m.nextCompetencyID = snap.nextCompetencyID
}

func (m *mockRepository) Ping(ctx context.Context) error { return nil }
func (m *mockRepository) Close() error                   { return nil }

func competencyKey(studentID, subjectID, competency string) string {
	return studentID + "|" + subjectID + "|" + competency
}

func configKey(subjectID string, gradeLevel int) string {
	return fmt.Sprintf("%s|%d", subjectID, gradeLevel)
}

// ===== QUESTIONS =====

type mockQuestionRepo struct{ m *mockRepository }

func (r *mockQuestionRepo) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextQuestionID++
	question.ID = r.m.nextQuestionID
	c := *question
	r.m.questions[question.ID] = &c
	return nil
}

func (r *mockQuestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	q, ok := r.m.questions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *q
	return &c, nil
}

func (r *mockQuestionRepo) Update(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.questions[question.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	c := *question
	r.m.questions[question.ID] = &c
	return nil
}

func (r *mockQuestionRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.questions, id)
	return nil
}

func (r *mockQuestionRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.QuestionFilters) ([]*models.Question, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Question
	for _, q := range r.m.questions {
		if filters.SubjectID != nil && q.SubjectID != *filters.SubjectID {
			continue
		}
		if filters.Difficulty != nil && q.Difficulty != *filters.Difficulty {
			continue
		}
		if filters.CreatedBy != nil && q.CreatedBy != *filters.CreatedBy {
			continue
		}
		c := *q
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockQuestionRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Question
	for _, id := range ids {
		if q, ok := r.m.questions[id]; ok {
			c := *q
			out = append(out, &c)
		}
	}
	return out, nil
}

// Select mirrors the production ordering: closest difficulty within the
// tolerance band, ties broken toward the least recently used question.
func (r *mockQuestionRepo) Select(ctx context.Context, tx *gorm.DB, sel repositories.QuestionSelection) (*models.Question, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	excluded := make(map[uint]bool, len(sel.ExcludeIDs))
	for _, id := range sel.ExcludeIDs {
		excluded[id] = true
	}

	var candidates []*models.Question
	for _, q := range r.m.questions {
		if q.SubjectID != sel.SubjectID || excluded[q.ID] {
			continue
		}
		dist := q.Difficulty - sel.TargetDifficulty
		if dist < 0 {
			dist = -dist
		}
		if dist > sel.Tolerance {
			continue
		}
		candidates = append(candidates, q)
	}
	if len(candidates) == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := candidates[i].Difficulty - sel.TargetDifficulty
		if di < 0 {
			di = -di
		}
		dj := candidates[j].Difficulty - sel.TargetDifficulty
		if dj < 0 {
			dj = -dj
		}
		if di != dj {
			return di < dj
		}
		ti, tj := time.Time{}, time.Time{}
		if candidates[i].LastUsedAt != nil {
			ti = *candidates[i].LastUsedAt
		}
		if candidates[j].LastUsedAt != nil {
			tj = *candidates[j].LastUsedAt
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return candidates[i].ID < candidates[j].ID
	})

	c := *candidates[0]
	return &c, nil
}

func (r *mockQuestionRepo) MarkUsed(ctx context.Context, tx *gorm.DB, id uint, usedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	q, ok := r.m.questions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t := usedAt
	q.LastUsedAt = &t
	return nil
}

func (r *mockQuestionRepo) IsReferencedByActiveSession(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.sessions {
		if s.Status != models.SessionActive {
			continue
		}
		if s.PendingQuestionID != nil && *s.PendingQuestionID == id {
			return true, nil
		}
		for _, obs := range r.m.observations {
			if obs.SessionID == s.ID && obs.QuestionID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

// ===== SESSIONS =====

type mockSessionRepo struct{ m *mockRepository }

func (r *mockSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *models.AssessmentSession) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextSessionID++
	session.ID = r.m.nextSessionID
	c := *session
	r.m.sessions[session.ID] = &c
	return nil
}

func (r *mockSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *s
	return &c, nil
}

func (r *mockSessionRepo) GetByIDWithObservations(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *s
	for _, obs := range r.m.observations {
		if obs.SessionID == id {
			c.Observations = append(c.Observations, *obs)
		}
	}
	sort.Slice(c.Observations, func(i, j int) bool {
		return c.Observations[i].SequenceIndex < c.Observations[j].SequenceIndex
	})
	return &c, nil
}

func (r *mockSessionRepo) GetActive(ctx context.Context, tx *gorm.DB, studentID, subjectID string) (*models.AssessmentSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.sessions {
		if s.StudentID == studentID && s.SubjectID == subjectID && s.Status == models.SessionActive {
			c := *s
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockSessionRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.SessionFilters) ([]*models.AssessmentSession, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.AssessmentSession
	for _, s := range r.m.sessions {
		if filters.Status != nil && s.Status != *filters.Status {
			continue
		}
		if filters.StudentID != nil && s.StudentID != *filters.StudentID {
			continue
		}
		if filters.SubjectID != nil && s.SubjectID != *filters.SubjectID {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (r *mockSessionRepo) UpdateVersioned(ctx context.Context, tx *gorm.DB, session *models.AssessmentSession, expectedVersion int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.sessions[session.ID]
	if !ok || stored.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	c := *session
	r.m.sessions[session.ID] = &c
	return nil
}

func (r *mockSessionRepo) GetIdle(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*models.AssessmentSession, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.AssessmentSession
	for _, s := range r.m.sessions {
		if s.Status == models.SessionActive && s.LastActivityAt.Before(cutoff) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ===== OBSERVATIONS =====

type mockObservationRepo struct{ m *mockRepository }

func (r *mockObservationRepo) Create(ctx context.Context, tx *gorm.DB, obs *models.Observation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextObservationID++
	obs.ID = r.m.nextObservationID
	c := *obs
	r.m.observations = append(r.m.observations, &c)
	return nil
}

func (r *mockObservationRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) ([]*models.Observation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Observation
	for _, obs := range r.m.observations {
		if obs.SessionID == sessionID {
			c := *obs
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

// ===== ASSESSMENTS =====

type mockAssessmentRepo struct{ m *mockRepository }

func (r *mockAssessmentRepo) Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextAssessmentID++
	assessment.ID = r.m.nextAssessmentID
	c := *assessment
	r.m.assessments[assessment.ID] = &c
	return nil
}

func (r *mockAssessmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.assessments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *a
	return &c, nil
}

func (r *mockAssessmentRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uint) (*models.Assessment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.assessments {
		if a.SessionID == sessionID {
			c := *a
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockAssessmentRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AssessmentFilters) ([]*models.Assessment, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Assessment
	for _, a := range r.m.assessments {
		if filters.StudentID != nil && a.StudentID != *filters.StudentID {
			continue
		}
		if filters.SubjectID != nil && a.SubjectID != *filters.SubjectID {
			continue
		}
		if filters.Period != nil && a.Period != *filters.Period {
			continue
		}
		if filters.Year != nil && a.Year != *filters.Year {
			continue
		}
		if filters.SchoolID != nil && a.SchoolID != *filters.SchoolID {
			continue
		}
		if filters.Grade != nil && a.GradeLevel != *filters.Grade {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			out = nil
		} else {
			out = out[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

func (r *mockAssessmentRepo) GetLatestCompleted(ctx context.Context, tx *gorm.DB, studentID, subjectID string) (*models.Assessment, error) {
	all, err := r.GetByStudentSubject(ctx, tx, studentID, subjectID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return all[len(all)-1], nil
}

func (r *mockAssessmentRepo) GetByStudentSubject(ctx context.Context, tx *gorm.DB, studentID, subjectID string) ([]*models.Assessment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Assessment
	for _, a := range r.m.assessments {
		if a.StudentID == studentID && a.SubjectID == subjectID {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return models.PeriodOrder(out[i].Period) < models.PeriodOrder(out[j].Period)
	})
	return out, nil
}

// ===== COMPETENCY SCORES =====

type mockCompetencyRepo struct{ m *mockRepository }

func (r *mockCompetencyRepo) Get(ctx context.Context, tx *gorm.DB, studentID, subjectID, competency string) (*models.CompetencyScore, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.competencies[competencyKey(studentID, subjectID, competency)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *s
	return &c, nil
}

func (r *mockCompetencyRepo) Upsert(ctx context.Context, tx *gorm.DB, score *models.CompetencyScore) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := competencyKey(score.StudentID, score.SubjectID, score.Competency)
	if existing, ok := r.m.competencies[key]; ok {
		score.ID = existing.ID
	} else {
		r.m.nextCompetencyID++
		score.ID = r.m.nextCompetencyID
	}
	c := *score
	r.m.competencies[key] = &c
	return nil
}

func (r *mockCompetencyRepo) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, subjectID *string) ([]*models.CompetencyScore, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.CompetencyScore
	for _, s := range r.m.competencies {
		if s.StudentID != studentID {
			continue
		}
		if subjectID != nil && s.SubjectID != *subjectID {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Competency < out[j].Competency })
	return out, nil
}

func (r *mockCompetencyRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.CompetencyScoreFilters) ([]*models.CompetencyScore, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	wanted := make(map[string]bool, len(filters.StudentIDs))
	for _, id := range filters.StudentIDs {
		wanted[id] = true
	}
	var out []*models.CompetencyScore
	for _, s := range r.m.competencies {
		if filters.SubjectID != nil && s.SubjectID != *filters.SubjectID {
			continue
		}
		if filters.Competency != nil && s.Competency != *filters.Competency {
			continue
		}
		if len(wanted) > 0 && !wanted[s.StudentID] {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

// ===== ASSESSMENT CONFIG =====

type mockConfigRepo struct{ m *mockRepository }

func (r *mockConfigRepo) Get(ctx context.Context, tx *gorm.DB, subjectID string, gradeLevel int) (*models.AssessmentConfig, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cfg, ok := r.m.configs[configKey(subjectID, gradeLevel)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *cfg
	return &c, nil
}

func (r *mockConfigRepo) Upsert(ctx context.Context, tx *gorm.DB, cfg *models.AssessmentConfig) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *cfg
	r.m.configs[configKey(cfg.SubjectID, cfg.GradeLevel)] = &c
	return nil
}

// ===== USERS =====

type mockUserRepo struct{ m *mockRepository }

func (r *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *u
	return &c, nil
}

func (r *mockUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.User
	for _, id := range ids {
		if u, ok := r.m.users[id]; ok {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *mockUserRepo) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.User
	for _, u := range r.m.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
