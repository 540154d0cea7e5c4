package llm

import (
	"testing"
	"time"
)

func TestClientTimeout(t *testing.T) {
	c := newOpenAICompatClient(Config{})
	if c.client.Timeout != 120*time.Second {
		t.Errorf("default timeout = %v, want 120s", c.client.Timeout)
	}

	c = newOpenAICompatClient(Config{Timeout: 5 * time.Minute})
	if c.client.Timeout != 5*time.Minute {
		t.Errorf("configured timeout = %v, want 5m", c.client.Timeout)
	}
}
