package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testLogger struct{}

func (testLogger) Debug(string) {}
func (testLogger) Info(string)  {}
func (testLogger) Warn(string)  {}
func (testLogger) Error(string) {}
func (testLogger) Fatal(string) {}

func TestCreateWebhook(t *testing.T) {
	s := New(testLogger{})
	err := s.CreateWebhook(TriggerTokenIssued, "delivery", Hook{URL: "http://localhost:9000/hook", Token: "abc"})
	assert.Nil(t, err)
	assert.Len(t, s.buffer[TriggerTokenIssued], 1)

	// updating the same subscriber replaces the hook
	err = s.CreateWebhook(TriggerTokenIssued, "delivery", Hook{URL: "http://localhost:9001/hook", Token: "def"})
	assert.Nil(t, err)
	assert.Len(t, s.buffer[TriggerTokenIssued], 1)
	assert.Equal(t, "http://localhost:9001/hook", s.buffer[TriggerTokenIssued]["delivery"].URL)
}

func TestCreateWebhookUnknownTrigger(t *testing.T) {
	s := New(testLogger{})
	err := s.CreateWebhook(42, "delivery", Hook{URL: "http://localhost:9000/hook"})
	assert.ErrorIs(t, err, ErrHookNotImplemented)
}

func TestRemoveWebhook(t *testing.T) {
	s := New(testLogger{})
	assert.Nil(t, s.CreateWebhook(TriggerDealSigned, "dashboard", Hook{URL: "http://localhost:9000/hook"}))
	assert.Nil(t, s.RemoveWebhook(TriggerDealSigned, "dashboard"))
	assert.Len(t, s.buffer[TriggerDealSigned], 0)
}
