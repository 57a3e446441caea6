package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/flowix-ar/storefront/internal/domain"
	"github.com/flowix-ar/storefront/internal/repositories"
)

const (
	defaultAuditSeverity = "info"
	defaultActorType     = "unknown"
	defaultHasherPrefix  = "sha256:"
	auditReasonKey       = "reason"
)

type auditLogService struct {
	repo     repositories.AuditLogRepository
	now      func() time.Time
	newID    func() string
	log      eventLogger
	hashSalt string
}

// AuditLogServiceDeps bundles constructor inputs for the audit trail service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	HashSalt    string
}

// NewAuditLogService creates an audit trail backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	return &auditLogService{
		repo:     deps.Repository,
		now:      utcClock(deps.Clock),
		newID:    idGenerator(deps.IDGenerator),
		log:      newLogger(deps.Logger),
		hashSalt: deps.HashSalt,
	}, nil
}

// Record persists an audit entry after sanitising it. Append failures are logged and never reach
// the caller, whose mutation already succeeded.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	entry := s.buildEntry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.log(ctx, "audit.append_failed", map[string]any{
			"action":    entry.Action,
			"targetRef": entry.TargetRef,
			"error":     err.Error(),
		})
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: clampPage(filter.Pagination),
	})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("audit log: list: %w", err)
	}
	return page, nil
}

func (s *auditLogService) buildEntry(record AuditLogRecord) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	} else {
		occurred = occurred.UTC()
	}

	entry := domain.AuditLogEntry{
		ID:        s.newID(),
		Actor:     sanitizeText(record.Actor, 160),
		ActorType: normalizeActorType(record.ActorType, record.Actor),
		Action:    sanitizeText(record.Action, 120),
		TargetRef: sanitizeText(record.TargetRef, 200),
		Severity:  normalizeSeverity(record.Severity),
		RequestID: sanitizeText(record.RequestID, 128),
		UserAgent: sanitizeText(record.UserAgent, 256),
		CreatedAt: occurred,
	}

	metadata := record.Metadata
	if reason := sanitizeText(record.Reason, 512); reason != "" {
		metadata = make(map[string]any, len(record.Metadata)+1)
		for k, v := range record.Metadata {
			metadata[k] = v
		}
		metadata[auditReasonKey] = reason
	}
	if meta := s.prepareMetadata(metadata, record.SensitiveMetadataKeys); len(meta) > 0 {
		entry.Metadata = meta
	}
	if diff := s.prepareDiff(record.Diff, record.SensitiveDiffKeys); len(diff) > 0 {
		entry.Diff = diff
	}
	if ip := strings.TrimSpace(record.IPAddress); ip != "" {
		entry.IPHash = defaultHasherPrefix + s.hashString(ip)
	}
	return entry
}

func (s *auditLogService) prepareMetadata(metadata map[string]any, sensitiveKeys []string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	sensitive := normaliseKeys(sensitiveKeys)
	result := make(map[string]any, len(metadata))
	for key, value := range metadata {
		k := sanitizeText(key, 80)
		if k == "" {
			continue
		}
		if slices.Contains(sensitive, strings.ToLower(k)) {
			result[k] = defaultHasherPrefix + s.hashAny(value)
			continue
		}
		result[k] = sanitizeAuditValue(value)
	}
	return result
}

func (s *auditLogService) prepareDiff(diff map[string]AuditLogDiff, sensitiveKeys []string) map[string]any {
	if len(diff) == 0 {
		return nil
	}
	sensitive := normaliseKeys(sensitiveKeys)
	result := make(map[string]any, len(diff))
	for key, change := range diff {
		k := sanitizeText(key, 80)
		if k == "" {
			continue
		}
		if slices.Contains(sensitive, strings.ToLower(k)) {
			result[k] = map[string]any{
				"before": defaultHasherPrefix + s.hashAny(change.Before),
				"after":  defaultHasherPrefix + s.hashAny(change.After),
			}
			continue
		}
		result[k] = map[string]any{
			"before": sanitizeAuditValue(change.Before),
			"after":  sanitizeAuditValue(change.After),
		}
	}
	return result
}

func (s *auditLogService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + strings.TrimSpace(value)))
	return hex.EncodeToString(sum[:])
}

func (s *auditLogService) hashAny(value any) string {
	switch v := value.(type) {
	case string:
		return s.hashString(v)
	case fmt.Stringer:
		return s.hashString(v.String())
	case []byte:
		return s.hashString(string(v))
	}
	if b, err := json.Marshal(value); err == nil {
		return s.hashString(string(b))
	}
	return s.hashString(fmt.Sprintf("%T", value))
}

func normalizeActorType(actorType string, actor string) string {
	normalized := strings.ToLower(strings.TrimSpace(actorType))
	switch normalized {
	case actorTypeUser, actorTypeStaff, actorTypeSystem, "service":
		return normalized
	}
	actor = strings.ToLower(strings.TrimSpace(actor))
	switch {
	case strings.HasPrefix(actor, "/users/"), strings.HasPrefix(actor, "user:"):
		return actorTypeUser
	case actor == systemActorID || strings.HasPrefix(actor, "system:"):
		return actorTypeSystem
	default:
		return defaultActorType
	}
}

func normalizeSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return severityWarn
	case "error":
		return "error"
	default:
		return defaultAuditSeverity
	}
}

func sanitizeAuditValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func normaliseKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		lower := strings.ToLower(sanitizeText(key, 80))
		if lower == "" || slices.Contains(result, lower) {
			continue
		}
		result = append(result, lower)
	}
	return result
}

// sanitizeText trims input, drops control characters and caps the byte length at limit.
func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
