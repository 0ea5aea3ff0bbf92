package mysql

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"freetime/internal/ports"
)

func TestDuplicateKeyMapsToConflict(t *testing.T) {
	dup := &mysql.MySQLError{Number: errDupEntry, Message: "Duplicate entry 'alice-Acme' for key 'uq_clients_user_name'"}
	assert.ErrorIs(t, duplicateKey(dup), ports.ErrConflict)
	assert.ErrorIs(t, duplicateKey(fmt.Errorf("exec: %w", dup)), ports.ErrConflict)

	other := &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}
	assert.Same(t, other, duplicateKey(other))
	assert.Nil(t, duplicateKey(nil))
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(driver.ErrBadConn))
	assert.True(t, transient(fmt.Errorf("ping: %w", mysql.ErrInvalidConn)))
	assert.False(t, transient(&mysql.MySQLError{Number: errDupEntry}))
	assert.False(t, transient(errors.New("syntax")))
}
