package conversationrepo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/castmatch/castmatch-server/internal/domain/conversation"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database"
	"github.com/castmatch/castmatch-server/internal/infrastructure/database/dbschema"
)

// dryRunDB builds statements without opening a connection.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=castmatch dbname=castmatch sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		NamingStrategy:       database.NamingStrategy(),
	})
	require.NoError(t, err)
	return db
}

func TestNewestFirstQueryExcludesDeleted(t *testing.T) {
	db := dryRunDB(t)
	before := uint(42)
	search := "lead"

	var rows []dbschema.Message
	stmt := newestFirstQuery(db, conversation.MessageFilter{ConversationID: 7, BeforeID: &before, Search: &search}, 21, 0).
		Find(&rows).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, `"castmatch"."messages"`)
	assert.Contains(t, sql, "deleted_at IS NULL")
	assert.Contains(t, sql, "id <")
	assert.Contains(t, sql, "content ILIKE")
	assert.Contains(t, sql, "ORDER BY id DESC")
	assert.Contains(t, sql, "LIMIT 21")
	assert.NotContains(t, sql, "OFFSET")
	assert.Contains(t, stmt.Vars, "%lead%")
}

func TestVisibleMessagesScopesUpdates(t *testing.T) {
	db := dryRunDB(t)

	stmt := visibleMessages(db).Where("id = ?", 3).Update("content", "x").Statement
	sql := stmt.SQL.String()

	assert.True(t, strings.HasPrefix(sql, "UPDATE"), sql)
	assert.Contains(t, sql, "deleted_at IS NULL")
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% real`, escapeLike("100% real"))
	assert.Equal(t, `snake\_case`, escapeLike("snake_case"))
	assert.Equal(t, `back\\slash`, escapeLike(`back\slash`))
}
