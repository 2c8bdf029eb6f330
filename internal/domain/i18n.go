package domain

import "time"

// Language is a locale enabled for a project.
type Language struct {
	ProjectID  string
	Code       string
	Name       string
	NativeName string
}

// TranslationEntry is a single translated message. It is the entity editors
// hold presence on.
type TranslationEntry struct {
	ID           string
	ProjectID    string
	LanguageCode string
	Key          string
	Value        string
	UpdatedAt    time.Time
}
