package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemTime_Now(t *testing.T) {
	before := time.Now().UnixMilli()
	now := SystemTime{}.Now()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, now, before)
	assert.LessOrEqual(t, now, after)
}

func TestTimeFunc(t *testing.T) {
	var src TimeSource = TimeFunc(func() int64 { return 42 })

	assert.Equal(t, int64(42), src.Now())
}
