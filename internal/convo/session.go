package convo

import "sync"

// DefaultPersona is the persona description sent to the dialogue endpoint
// when no voice is selected or the selected voice has no description.
const DefaultPersona = "You are very friendly!"

// DefaultVoiceID is the sentinel voice identifier used when no voice
// profiles are available at all.
const DefaultVoiceID = "default"

// VoiceProfile describes one cloned voice offered by the backend.
// Profiles are read-only to the core; the list is fetched once at
// session start and only grows when an enrollment completes.
type VoiceProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Session owns the conversation-scoped state: the message log, the voice
// list, and the current voice selection. It replaces what the original
// UI kept in ambient component state.
type Session struct {
	mu       sync.RWMutex
	voices   []VoiceProfile
	selected string // voice id, "" means no selection
	log      *Log
}

// NewSession creates a session with an empty log and no voices.
func NewSession() *Session {
	return &Session{log: NewLog()}
}

// Log returns the session's message log.
func (s *Session) Log() *Log {
	return s.log
}

// SetVoices replaces the available voice list.
func (s *Session) SetVoices(voices []VoiceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append([]VoiceProfile(nil), voices...)
}

// AddVoice appends a newly enrolled voice to the list.
func (s *Session) AddVoice(v VoiceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = append(s.voices, v)
}

// Voices returns a copy of the available voice list.
func (s *Session) Voices() []VoiceProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]VoiceProfile(nil), s.voices...)
}

// Select picks a voice by id. Returns false if the id is unknown.
func (s *Session) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.voices {
		if v.ID == id {
			s.selected = id
			return true
		}
	}
	return false
}

// ClearSelection returns the session to the no-selection default.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = ""
}

// Selected returns the currently selected voice profile, if any.
func (s *Session) Selected() (VoiceProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedLocked()
}

func (s *Session) selectedLocked() (VoiceProfile, bool) {
	if s.selected == "" {
		return VoiceProfile{}, false
	}
	for _, v := range s.voices {
		if v.ID == s.selected {
			return v, true
		}
	}
	return VoiceProfile{}, false
}

// Persona returns the persona description forwarded to the dialogue
// endpoint: the selected voice's description, or DefaultPersona.
func (s *Session) Persona() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.selectedLocked(); ok && v.Description != "" {
		return v.Description
	}
	return DefaultPersona
}

// VoiceID returns the voice identifier for synthesis: the selected
// voice, else the first available, else DefaultVoiceID.
func (s *Session) VoiceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.selectedLocked(); ok {
		return v.ID
	}
	if len(s.voices) > 0 {
		return s.voices[0].ID
	}
	return DefaultVoiceID
}

// VoiceName returns the selected voice's display name, or "".
func (s *Session) VoiceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.selectedLocked(); ok {
		return v.Name
	}
	return ""
}
