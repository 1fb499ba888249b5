package sqlstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/tiermem-go/pkg/storage/sqlstore"
)

func TestDollarRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"id = ?", "id = $1"},
		{"a = ? AND b IN (?, ?) LIMIT ?", "a = $1 AND b IN ($2, $3) LIMIT $4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqlstore.DollarRebind(tt.in))
	}
}

func TestQuestionRebind(t *testing.T) {
	assert.Equal(t, "a = ? AND b = ?", sqlstore.QuestionRebind("a = ? AND b = ?"))
}
