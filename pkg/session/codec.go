package session

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/concord/pkg/domain"
)

func encode(s *domain.CollaborationSession) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session %s: %w", s.SessionID, err)
	}
	return data, nil
}

func decode(sessionID string, data []byte) (*domain.CollaborationSession, error) {
	var s domain.CollaborationSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	if s.Participants == nil {
		s.Participants = make(map[string]*domain.Participant)
	}
	s.SharedState = s.SharedState.Normalize()
	return &s, nil
}
