package dummydb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/application"
)

type applicationRepository struct {
	db *applicationTable
}

var _ application.Repository = (*applicationRepository)(nil) // interface compliance check

func NewApplicationRepository(db *DB) application.Repository {
	return &applicationRepository{db: db.application}
}

func (repo *applicationRepository) query() []application.Submission {
	subs := make([]application.Submission, 0, len(repo.db.table))
	for _, sub := range repo.db.table {
		subs = append(subs, *sub)
	}
	return subs
}

// hasPending reports whether the owner already has a pending submission.
// Callers must hold the table lock.
func (repo *applicationRepository) hasPending(userID string) bool {
	for _, sub := range repo.db.table {
		if sub.UserID == userID && sub.Status == application.StatusPending {
			return true
		}
	}
	return false
}

func (repo *applicationRepository) CreateApplication(_ context.Context, app application.Application, idn application.Identity, _ ...core.DBExecutor) (application.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if repo.hasPending(idn.ID) {
		return application.Submission{}, application.ErrDuplicateSubmission
	}

	now := time.Now().UTC()
	sub := application.Submission{
		ID:          uuid.New().String(),
		UserID:      idn.ID,
		Status:      application.StatusPending,
		Application: app,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	repo.db.table[sub.ID] = &sub
	return sub, nil
}

func (repo *applicationRepository) CreateDraft(_ context.Context, app application.Application, idn application.Identity, _ ...core.DBExecutor) (application.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	now := time.Now().UTC()
	sub := application.Submission{
		ID:          uuid.New().String(),
		UserID:      idn.ID,
		Status:      application.StatusDraft,
		Application: app,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	repo.db.table[sub.ID] = &sub
	return sub, nil
}

func (repo *applicationRepository) UpdateDraft(_ context.Context, id string, app application.Application, idn application.Identity, _ ...core.DBExecutor) (application.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sub, ok := repo.db.table[id]
	if !ok || sub.UserID != idn.ID || sub.Status != application.StatusDraft {
		return application.Submission{}, application.ErrDraftNotFound
	}
	sub.Application = app
	sub.UpdatedAt = time.Now().UTC()
	return *sub, nil
}

func (repo *applicationRepository) PromoteDraft(_ context.Context, id string, app application.Application, idn application.Identity, _ ...core.DBExecutor) (application.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sub, ok := repo.db.table[id]
	if !ok || sub.UserID != idn.ID || sub.Status != application.StatusDraft {
		return application.Submission{}, application.ErrDraftNotFound
	}
	if repo.hasPending(idn.ID) {
		return application.Submission{}, application.ErrDuplicateSubmission
	}

	now := time.Now().UTC()
	sub.Status = application.StatusPending
	sub.Application = app
	sub.SubmittedAt = now
	sub.UpdatedAt = now
	return *sub, nil
}

func (repo *applicationRepository) GetApplication(_ context.Context, filter application.GetFilter, _ ...core.DBExecutor) (application.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID == "" && filter.UserID == "" {
		return application.Submission{}, application.ErrNotFound
	}
	for _, sub := range repo.query() {
		if filter.ID != "" && sub.ID != filter.ID {
			continue
		}
		if filter.UserID != "" && sub.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		return sub, nil
	}
	return application.Submission{}, application.ErrNotFound
}

func (repo *applicationRepository) QueryApplications(_ context.Context, filter *application.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]application.Submission, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subs := repo.query()

	if filter != nil {
		if filter.UserID != "" {
			var filtered []application.Submission
			for _, sub := range subs {
				if sub.UserID == filter.UserID {
					filtered = append(filtered, sub)
				}
			}
			subs = filtered
		}
		if filter.Status != "" {
			var filtered []application.Submission
			for _, sub := range subs {
				if sub.Status == filter.Status {
					filtered = append(filtered, sub)
				}
			}
			subs = filtered
		}
		// submissions with search keyword matching the applicant's first
		// name, last name or email ?
		if filter.Search != "" {
			search := strings.ToLower(filter.Search)
			var filtered []application.Submission
			for _, sub := range subs {
				if strings.Contains(strings.ToLower(sub.PersonalInfo.FirstName), search) ||
					strings.Contains(strings.ToLower(sub.PersonalInfo.LastName), search) ||
					strings.Contains(strings.ToLower(sub.PersonalInfo.Email), search) {
					filtered = append(filtered, sub)
				}
			}
			subs = filtered
		}
		if !filter.CreatedFrom.IsZero() {
			timeUTC := filter.CreatedFrom.UTC()
			var filtered []application.Submission
			for _, sub := range subs {
				if !sub.CreatedAt.Before(timeUTC) {
					filtered = append(filtered, sub)
				}
			}
			subs = filtered
		}
		if !filter.CreatedTo.IsZero() {
			timeUTC := filter.CreatedTo.UTC()
			var filtered []application.Submission
			for _, sub := range subs {
				if !sub.CreatedAt.After(timeUTC) {
					filtered = append(filtered, sub)
				}
			}
			subs = filtered
		}
	}

	if len(ordering) > 0 {
		ord := ordering[0]
		sort.SliceStable(subs, func(i, j int) bool {
			var less bool
			switch ord.Field {
			case "submitted_at":
				less = subs[i].SubmittedAt.Before(subs[j].SubmittedAt)
			default:
				less = subs[i].CreatedAt.Before(subs[j].CreatedAt)
			}
			if ord.Ascending {
				return less
			}
			return !less
		})
	}
	return subs, nil
}

func (repo *applicationRepository) DeleteDraft(_ context.Context, id string, idn application.Identity, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	sub, ok := repo.db.table[id]
	if !ok || sub.UserID != idn.ID || sub.Status != application.StatusDraft {
		return application.ErrDraftNotFound
	}
	delete(repo.db.table, id)
	return nil
}

func (repo *applicationRepository) UpdateStatus(_ context.Context, id, status string, _ ...core.DBExecutor) (application.Submission, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	sub, ok := repo.db.table[id]
	if !ok {
		return application.Submission{}, application.ErrNotFound
	}
	if status == application.StatusPending && sub.Status != application.StatusPending && repo.hasPending(sub.UserID) {
		return application.Submission{}, application.ErrDuplicateSubmission
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	return *sub, nil
}
