package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// InvalidateSessions removes every session and pending challenge of userID
// and pushes session-invalidated to the user's clients.
func (s *Service) InvalidateSessions(ctx context.Context, userID string) error {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if _, err := s.challenges.Delete(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	for i := 0; i < n; i++ {
		s.metrics.Inc(MetricSessionsInvalidated)
	}
	s.emitAudit(ctx, "sessions_invalidated", true, userID, "", "", nil, nil)
	return s.publish(ctx, TopicSessionInvalidated, userID, nil)
}

// SetVerificationStatus records a KYC decision and pushes
// verification-status-changed.
func (s *Service) SetVerificationStatus(ctx context.Context, userID, status string) error {
	switch status {
	case VerificationPending, VerificationVerified, VerificationRejected:
	default:
		return ErrInvalidInput
	}
	if err := s.users.UpdateVerificationStatus(ctx, userID, status); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	data, _ := json.Marshal(map[string]string{"status": status})
	return s.publish(ctx, TopicVerificationStatusChanged, userID, data)
}

// PublishTransactionConfirmed pushes transaction-confirmed for txID.
func (s *Service) PublishTransactionConfirmed(ctx context.Context, userID, txID string) error {
	if txID == "" {
		return ErrInvalidInput
	}
	data, _ := json.Marshal(map[string]string{"transactionId": txID})
	return s.publish(ctx, TopicTransactionConfirmed, userID, data)
}
