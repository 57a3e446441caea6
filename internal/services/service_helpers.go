package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	actorTypeUser    = "user"
	actorTypeStaff   = "staff"
	actorTypeSystem  = "system"
	systemActorID    = "system"
	severityInfo     = "info"
	severityWarn     = "warn"
	defaultListLimit = 20
	maxListLimit     = 100
)

type eventLogger func(ctx context.Context, event string, fields map[string]any)

func newLogger(logger func(context.Context, string, map[string]any)) eventLogger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

func idGenerator(gen func() string) func() string {
	if gen == nil {
		return func() string { return ulid.Make().String() }
	}
	return gen
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func clampPage(p Pagination) Pagination {
	switch {
	case p.PageSize <= 0:
		p.PageSize = defaultListLimit
	case p.PageSize > maxListLimit:
		p.PageSize = maxListLimit
	}
	p.PageToken = strings.TrimSpace(p.PageToken)
	return p
}

// runeLen reports the length of s in characters after trimming.
func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// auditFromActor fills the request provenance of an audit record from the actor.
func auditFromActor(actor ActorContext, record AuditLogRecord) AuditLogRecord {
	record.Actor = strings.TrimSpace(actor.ActorID)
	if record.Actor == "" {
		record.Actor = systemActorID
	}
	record.ActorType = actor.ActorType
	if record.ActorType == "" {
		if record.Actor == systemActorID {
			record.ActorType = actorTypeSystem
		} else {
			record.ActorType = actorTypeUser
		}
	}
	record.IPAddress = actor.IPAddress
	record.UserAgent = actor.UserAgent
	record.RequestID = actor.RequestID
	return record
}

func stringPtrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
