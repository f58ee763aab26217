package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreSet(t *testing.T) {
	p := Get()
	assert.Equal(t, 2000, p.GetInt("movekeys.krm_limit"))
	assert.Equal(t, 3, p.GetInt("dd.storage_team_size"))
	assert.Equal(t, 5*time.Second, p.GetDuration("movekeys.lock_polling_delay"))
}

func TestSetOverridesDefault(t *testing.T) {
	p := Get()
	p.Set("dd.storage_team_size", 5)
	assert.Equal(t, 5, p.GetInt("dd.storage_team_size"))
	p.Set("dd.storage_team_size", 3) // restore for other tests sharing the process-wide proxy
}
