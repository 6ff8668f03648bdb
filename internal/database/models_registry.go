package database

import "signbridge/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
// The order satisfies foreign keys when AutoMigrate creates tables from scratch.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Profile{},
		&models.UserPreferences{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.Reaction{},
		&models.TypingIndicator{},
	}
}
