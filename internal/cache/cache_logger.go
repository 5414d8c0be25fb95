package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateSessionCache drops the cached session view after a state
// transition; a stale read would show an already-answered question as
// pending.
func InvalidateSessionCache(ctx context.Context, cm *CacheManager, sessionID uint) {
	SafeDelete(ctx, cm.Session, fmt.Sprintf("details:%d", sessionID))
}

// InvalidateQuestionCache invalidates all question-related caches
func InvalidateQuestionCache(ctx context.Context, cm *CacheManager, questionID uint, subjectID string) {
	SafeDelete(ctx, cm.Question, fmt.Sprintf("id:%d", questionID))
	SafeInvalidatePattern(ctx, cm.Question, fmt.Sprintf("subject:%s:*", subjectID))
	SafeInvalidatePattern(ctx, cm.Question, "list:*")
}

// InvalidateGrowthCache drops cached growth/report projections for a
// student after a new assessment is finalized. Patterns must stay in
// sync with the student:<id>:subject:<id> key shape used by the
// analytics reads.
func InvalidateGrowthCache(ctx context.Context, cm *CacheManager, studentID, subjectID string) {
	SafeInvalidatePattern(ctx, cm.Growth, fmt.Sprintf("student:%s:*", studentID))
	SafeInvalidatePattern(ctx, cm.Growth, fmt.Sprintf("*:subject:%s", subjectID))
}
