package seed

import (
	"context"
	"testing"

	"signbridge/internal/models"
	"signbridge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSeederRun(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	s, err := NewSeeder(db, Options{NumUsers: 4, NumGroups: 2, MessagesPerConv: 6, SkipBcrypt: true, Seed: 42})
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	// 2 demo accounts + 4 random users, 6 ring edges + 2 groups
	require.Len(t, res.Users, 6)
	require.Len(t, res.Conversations, 8)
	assert.Equal(t, 48, res.Messages)

	var users, profiles, prefs, messages int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Profile{}).Count(&profiles).Error)
	require.NoError(t, db.Model(&models.UserPreferences{}).Count(&prefs).Error)
	require.NoError(t, db.Model(&models.Message{}).Count(&messages).Error)
	assert.EqualValues(t, 6, users)
	assert.EqualValues(t, 6, profiles)
	assert.EqualValues(t, 6, prefs)
	assert.EqualValues(t, 48, messages)

	for _, conv := range res.Conversations {
		if conv.IsGroup {
			assert.Len(t, conv.Participants, 4)
			assert.NotEmpty(t, conv.Name)
		} else {
			assert.Len(t, conv.Participants, 2)
		}
		require.NotNil(t, conv.LastMessageAt)
	}

	var deaf models.UserPreferences
	require.NoError(t, db.First(&deaf, "user_id = ?", res.Users[0].ID).Error)
	assert.Equal(t, models.ModeDeaf, deaf.Mode)
	assert.True(t, deaf.VisualAlerts)

	var demo models.User
	require.NoError(t, db.Where("email = ?", "hearing.demo@signbridge.local").First(&demo).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(demo.Password), []byte(DefaultPassword)))
}

func TestSeederReactionsStayUnique(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	s, err := NewSeeder(db, Options{NumUsers: 3, NumGroups: 1, MessagesPerConv: 20, SkipBcrypt: true, Seed: 7})
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	var dupes int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM (
		SELECT message_id, user_id, emoji FROM message_reactions
		GROUP BY message_id, user_id, emoji HAVING COUNT(*) > 1) d`).Scan(&dupes).Error)
	assert.Zero(t, dupes)

	// nobody reacts to their own message
	var self int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM message_reactions r
		JOIN messages m ON m.id = r.message_id WHERE m.sender_id = r.user_id`).Scan(&self).Error)
	assert.Zero(t, self)
}

func TestSeederCleanIsRepeatable(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	opts := Options{NumUsers: 2, MessagesPerConv: 2, SkipBcrypt: true, ShouldClean: true}

	for i := 0; i < 2; i++ {
		s, err := NewSeeder(db, opts)
		require.NoError(t, err)
		_, err = s.Run(context.Background())
		require.NoError(t, err)
	}

	var users, convs int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Conversation{}).Count(&convs).Error)
	assert.EqualValues(t, 4, users)
	assert.EqualValues(t, 4, convs)
}

func TestSeederTwoUsersGetOneDirectConversation(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	s, err := NewSeeder(db, Options{SkipBcrypt: true, NumGroups: 3})
	require.NoError(t, err)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Users, 2)
	// groups need at least three people
	require.Len(t, res.Conversations, 1)
	assert.Zero(t, res.Messages)
}
