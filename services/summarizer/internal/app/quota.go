package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailguard/pkg/domain"
)

// Today is the UTC civil date used to key daily usage.
func Today(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Reservation is one reserved unit of a principal's daily budget.
type Reservation struct {
	PrincipalID string
	Day         string
	Limit       int
}

// ReserveSummarize takes one unit of today's budget or returns
// *QuotaExceededError. The caller must Commit or Release the reservation.
func (a *App) ReserveSummarize(principal domain.User) (Reservation, error) {
	global, err := a.policies.Global()
	if err != nil {
		return Reservation{}, err
	}
	limit := global.Policy.Limits.DailySummarizeQuota
	res := Reservation{PrincipalID: principal.ID, Day: Today(a.now()), Limit: limit}
	if _, err := a.usage.ReserveDailyUsage(res.PrincipalID, res.Day, limit); err != nil {
		if errors.Is(err, domain.ErrQuotaExhausted) {
			return Reservation{}, &QuotaExceededError{Limit: limit}
		}
		return Reservation{}, fmt.Errorf("reserve daily usage: %w", err)
	}
	return res, nil
}

// ReleaseSummarize gives back a reservation whose request did not succeed.
func (a *App) ReleaseSummarize(res Reservation) {
	if err := a.usage.ReleaseDailyUsage(res.PrincipalID, res.Day); err != nil {
		slog.Error("release daily usage failed", "user_id", res.PrincipalID, "day", res.Day, "err", err)
	}
}

// QuotaStatus is the remaining daily summarize budget.
type QuotaStatus struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// Quota reports the principal's budget for today.
func (a *App) Quota(principal domain.User) (QuotaStatus, error) {
	global, err := a.policies.Global()
	if err != nil {
		return QuotaStatus{}, err
	}
	limit := global.Policy.Limits.DailySummarizeQuota
	used, err := a.usage.DailyUsage(principal.ID, Today(a.now()))
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("load daily usage: %w", err)
	}
	return QuotaStatus{Remaining: max(0, limit-used), Limit: limit}, nil
}
